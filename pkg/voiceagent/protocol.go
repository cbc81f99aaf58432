// Package voiceagent implements the client side of a cloud voice-agent
// WebSocket: a single connection that multiplexes JSON control events with
// raw binary agent audio.
//
// The package is split along the lines of the protocol itself:
//
//   - protocol.go: the control message shapes exchanged on the wire.
//   - [Classify]: a pure function deciding whether an inbound frame is a
//     control message or audio.
//   - [Machine]: the connection handshake state machine.
//   - [Dial] / [Conn]: the bounded-time WebSocket client.
//
// Nothing in this package owns timers or per-call state; the call session
// drives it.
package voiceagent

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound control event types.
const (
	TypeWelcome              = "Welcome"
	TypeSettingsApplied      = "SettingsApplied"
	TypeConversationText     = "ConversationText"
	TypeResults              = "Results"
	TypeUserStartedSpeaking  = "UserStartedSpeaking"
	TypeSpeechStarted        = "SpeechStarted"
	TypeUtteranceEnd         = "UtteranceEnd"
	TypeAgentThinking        = "AgentThinking"
	TypeAgentStartedSpeaking = "AgentStartedSpeaking"
	TypeAgentAudioDone       = "AgentAudioDone"
	TypeTtsAudio             = "TtsAudio"
	TypeFunctionCallRequest  = "FunctionCallRequest"
	TypeFunctionCall         = "FunctionCall"
	TypeHistory              = "History"
	TypeError                = "Error"
	TypeWarning              = "Warning"
)

// Outbound control message types.
const (
	TypeSettings             = "Settings"
	TypeKeepAlive            = "KeepAlive"
	TypeFunctionCallResponse = "FunctionCallResponse"
	TypeInjectAgentMessage   = "InjectAgentMessage"
)

// Envelope is the discriminator shared by every control message.
type Envelope struct {
	Type string `json:"type"`
}

// ── Outbound ─────────────────────────────────────────────────────────────────

// Settings is the first message sent after Welcome. It configures audio
// formats, the listen/think/speak providers, the instruction prompt and the
// function catalogue.
type Settings struct {
	Type  string        `json:"type"`
	Audio AudioSettings `json:"audio"`
	Agent AgentSettings `json:"agent"`
}

// AudioSettings declares the encodings of both audio directions.
type AudioSettings struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

// AudioFormat names a codec and sample rate.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

// AgentSettings selects providers and carries the tenant-specific prompt.
type AgentSettings struct {
	Language string         `json:"language,omitempty"`
	Listen   ListenSettings `json:"listen"`
	Think    ThinkSettings  `json:"think"`
	Speak    SpeakSettings  `json:"speak"`
	Greeting string         `json:"greeting,omitempty"`
}

// ProviderSelection picks a backend for one stage of the agent.
type ProviderSelection struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

// ListenSettings configures speech recognition.
type ListenSettings struct {
	Provider ProviderSelection `json:"provider"`
}

// ThinkSettings configures the reasoning model, its instructions and the
// functions it may call.
type ThinkSettings struct {
	Provider  ProviderSelection `json:"provider"`
	Prompt    string            `json:"prompt"`
	Functions []FunctionSchema  `json:"functions,omitempty"`
}

// SpeakSettings configures speech synthesis.
type SpeakSettings struct {
	Provider ProviderSelection `json:"provider"`
}

// FunctionSchema describes one callable function. Parameters is a JSON
// schema object passed through unmodified.
type FunctionSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// KeepAlive is the idle no-op frame.
type KeepAlive struct {
	Type string `json:"type"`
}

// NewKeepAlive returns a KeepAlive message.
func NewKeepAlive() KeepAlive { return KeepAlive{Type: TypeKeepAlive} }

// FunctionCallResponse answers one function invocation. Content is the
// JSON-encoded handler result.
type FunctionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// InjectAgentMessage asks the agent to speak Message immediately.
type InjectAgentMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewInjectAgentMessage returns an InjectAgentMessage for text.
func NewInjectAgentMessage(text string) InjectAgentMessage {
	return InjectAgentMessage{Type: TypeInjectAgentMessage, Message: text}
}

// ── Inbound ──────────────────────────────────────────────────────────────────

// ConversationText is a finished utterance from either side.
type ConversationText struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Results is a raw speech-to-text result.
type Results struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Transcript returns the best alternative's text, or "".
func (r Results) Transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return r.Channel.Alternatives[0].Transcript
}

// TtsAudio carries base64 agent audio inside a control message.
type TtsAudio struct {
	Audio string `json:"audio"`
	Data  string `json:"data"`
}

// Payload returns whichever of the audio fields is populated.
func (t TtsAudio) Payload() string {
	if t.Audio != "" {
		return t.Audio
	}
	return t.Data
}

// ErrorEvent is an Error or Warning notification.
type ErrorEvent struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Text returns the most descriptive field.
func (e ErrorEvent) Text() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Message != "":
		return e.Message
	default:
		return "unspecified"
	}
}

// FunctionCallRequest announces one or more function invocations. Three
// shapes are accepted: a "functions" array, a single invocation with
// id/name/arguments at the top level, and the older
// function_call_id/function_name/input form.
type FunctionCallRequest struct {
	Functions []FunctionInvocation `json:"functions"`

	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`

	FunctionCallID string          `json:"function_call_id"`
	FunctionName   string          `json:"function_name"`
	Input          json.RawMessage `json:"input"`
}

// FunctionInvocation is a single requested call. Arguments is either a JSON
// object or a string containing one.
type FunctionInvocation struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	ClientSide *bool           `json:"client_side,omitempty"`
}

// Invocations normalises the request into the ordered list of invocations
// the client must answer. Invocations flagged as server-side are skipped.
func (r FunctionCallRequest) Invocations() []FunctionInvocation {
	var out []FunctionInvocation
	for _, f := range r.Functions {
		if f.ClientSide != nil && !*f.ClientSide {
			continue
		}
		out = append(out, f)
	}
	if len(r.Functions) > 0 {
		return out
	}
	switch {
	case r.Name != "":
		out = append(out, FunctionInvocation{ID: r.ID, Name: r.Name, Arguments: r.Arguments})
	case r.FunctionName != "":
		out = append(out, FunctionInvocation{ID: r.FunctionCallID, Name: r.FunctionName, Arguments: r.Input})
	}
	return out
}

// DecodeArguments parses invocation arguments into a map. Empty input and
// JSON null yield an empty map; a JSON string is unwrapped and parsed.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	args := map[string]any{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return args, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("voiceagent: arguments string: %w", err)
		}
		if s == "" {
			return args, nil
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("voiceagent: arguments object: %w", err)
	}
	return args, nil
}
