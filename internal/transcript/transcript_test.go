package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/streadway/amqp"
)

func TestLog_AppendOrder(t *testing.T) {
	t.Parallel()

	var l Log
	now := time.Now()
	l.Append(SpeakerAgent, "Hello, how can I help?", now)
	l.Append(SpeakerCaller, "", now)
	l.Append(SpeakerCaller, "I need a haircut.", now.Add(time.Second))

	got := l.Entries()
	if len(got) != 2 || l.Len() != 2 {
		t.Fatalf("entries = %d, want 2 (empty text ignored)", len(got))
	}
	if got[0].Speaker != SpeakerAgent || got[1].Speaker != SpeakerCaller {
		t.Errorf("order = %v", got)
	}

	got[0].Text = "mutated"
	if l.Entries()[0].Text == "mutated" {
		t.Error("Entries did not return a copy")
	}
}

func TestSpeakerFromRole(t *testing.T) {
	t.Parallel()
	cases := map[string]Speaker{
		"user":      SpeakerCaller,
		"assistant": SpeakerAgent,
		"agent":     SpeakerAgent,
		"tool":      SpeakerSystem,
	}
	for role, want := range cases {
		if got := SpeakerFromRole(role); got != want {
			t.Errorf("SpeakerFromRole(%q) = %q, want %q", role, got, want)
		}
	}
}

func TestFanout_JoinsErrors(t *testing.T) {
	t.Parallel()

	var saved []string
	ok := SinkFunc(func(_ context.Context, rec Record) error {
		saved = append(saved, rec.CallID)
		return nil
	})
	boom := errors.New("boom")
	bad := SinkFunc(func(context.Context, Record) error { return boom })

	err := Fanout{ok, bad, ok}.Save(context.Background(), Record{CallID: "CA1"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(saved) != 2 {
		t.Errorf("saved %d times, want 2", len(saved))
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), slog.LevelInfo)
	now := time.Now()
	err := s.Save(context.Background(), Record{
		CallID:    "CA42",
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
		EndReason: "silence",
		Entries:   []Entry{{Speaker: SpeakerCaller, Text: "bye", Timestamp: now}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"call_id=CA42", "end_reason=silence", "text=bye", "entries=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

type fakePublisher struct {
	exchange, key string
	msgs          []amqp.Publishing
	closed        bool
}

func (f *fakePublisher) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key = exchange, key
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink_Publishes(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	s := &AMQPSink{exchange: "calls", key: "transcripts", ch: pub}

	rec := Record{CallID: "CA7", TenantID: "T1", Entries: []Entry{{Speaker: SpeakerAgent, Text: "hi"}}}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if pub.exchange != "calls" || pub.key != "transcripts" {
		t.Errorf("routed to %s/%s", pub.exchange, pub.key)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId != "CA7" {
		t.Errorf("message headers = %+v", msg)
	}
	var got Record
	if err := json.Unmarshal(msg.Body, &got); err != nil || got.TenantID != "T1" || len(got.Entries) != 1 {
		t.Errorf("body = %s (err %v)", msg.Body, err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !pub.closed {
		t.Error("channel not closed")
	}
	if err := s.Save(context.Background(), rec); err == nil {
		t.Error("Save after Close succeeded")
	}
}

func TestAMQPSink_CancelledContext(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	s := &AMQPSink{exchange: "calls", key: "transcripts", ch: pub}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Save(ctx, Record{CallID: "CA8"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Save = %v, want context.Canceled", err)
	}
	if len(pub.msgs) != 0 {
		t.Errorf("published %d messages after cancellation", len(pub.msgs))
	}
}

func TestNewAMQPSink_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewAMQPSink(AMQPConfig{}); err == nil {
		t.Error("expected error for missing url")
	}
	if _, err := NewAMQPSink(AMQPConfig{URL: "amqp://localhost"}); err == nil {
		t.Error("expected error for missing routing")
	}
}

func TestPostgresSink_SaveLoad(t *testing.T) {
	dsn := os.Getenv("VOXBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXBRIDGE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	ctx := context.Background()
	s, err := NewPostgresSink(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresSink: %v", err)
	}
	t.Cleanup(s.Close)

	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := Record{
		CallID:    "pg-test-call",
		TenantID:  "T1",
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
		EndReason: "caller_hangup",
		Entries: []Entry{
			{Speaker: SpeakerAgent, Text: "Hello", Timestamp: now},
			{Speaker: SpeakerCaller, Text: "Hi", Timestamp: now.Add(time.Second)},
		},
	}
	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}
	got, err := s.Load(ctx, rec.CallID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Entries) != 2 || got.Entries[1].Text != "Hi" || got.EndReason != "caller_hangup" {
		t.Errorf("Load = %+v", got)
	}
}
