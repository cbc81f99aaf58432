// Package transcript records what was said on a call and hands the finished
// record to a persistence sink when the call ends.
//
// A [Log] belongs to exactly one call session and is only appended to from
// that session's event loop. Sinks receive an immutable [Record] snapshot.
package transcript

import (
	"context"
	"errors"
	"time"
)

// Speaker identifies who produced an entry.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
	SpeakerDTMF   Speaker = "dtmf"
	SpeakerSystem Speaker = "system"
)

// SpeakerFromRole maps a voice-agent conversation role to a Speaker.
func SpeakerFromRole(role string) Speaker {
	switch role {
	case "user":
		return SpeakerCaller
	case "assistant", "agent":
		return SpeakerAgent
	default:
		return SpeakerSystem
	}
}

// Entry is one utterance or event.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an append-only transcript. It is not safe for concurrent use.
type Log struct {
	entries []Entry
}

// Append adds an entry. Empty text is ignored.
func (l *Log) Append(speaker Speaker, text string, at time.Time) {
	if text == "" {
		return
	}
	l.entries = append(l.entries, Entry{Speaker: speaker, Text: text, Timestamp: at})
}

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in order.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Record is a finished call transcript.
type Record struct {
	CallID    string    `json:"call_id"`
	StreamSID string    `json:"stream_sid"`
	TenantID  string    `json:"tenant_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	EndReason string    `json:"end_reason"`
	Entries   []Entry   `json:"entries"`
}

// Sink persists finished records.
type Sink interface {
	Save(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, rec Record) error

// Save implements [Sink].
func (f SinkFunc) Save(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Fanout saves to every sink and joins their errors.
type Fanout []Sink

// Save implements [Sink].
func (f Fanout) Save(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
