package voiceagent

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// Kind is the classification of one inbound frame.
type Kind uint8

const (
	// KindEmpty is a zero-length frame. It carries nothing and is dropped.
	KindEmpty Kind = iota

	// KindControl is a JSON object or array.
	KindControl

	// KindAudio is everything else, forwarded to the pacer byte-for-byte.
	KindAudio
)

// String returns the lowercase name of k.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindControl:
		return "control"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Message is a classified inbound frame.
type Message struct {
	Kind Kind

	// Type is the control event type, or "" for audio, arrays and objects
	// without a string "type" field.
	Type string

	// Data is the original frame, unmodified.
	Data []byte
}

// Classify decides whether data is a control message or audio. The decision
// depends only on whether the whole payload is valid UTF-8 that parses as a
// JSON object or array; the WebSocket frame type is not consulted. Anything
// that fails to parse is audio, since dropping audio mistaken for control is
// worse than logging a control message mistaken for audio.
func Classify(data []byte) Message {
	if len(data) == 0 {
		return Message{Kind: KindEmpty}
	}
	audio := Message{Kind: KindAudio, Data: data}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return audio
	}
	if !utf8.Valid(data) || !json.Valid(data) {
		return audio
	}

	msg := Message{Kind: KindControl, Data: data}
	if trimmed[0] == '{' {
		var env struct {
			Type any `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err == nil {
			if s, ok := env.Type.(string); ok {
				msg.Type = s
			}
		}
	}
	return msg
}
