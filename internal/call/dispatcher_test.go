package call

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxbridge/internal/function"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingResponder struct {
	mu   sync.Mutex
	out  []voiceagent.FunctionCallResponse
	fail error
}

func (r *recordingResponder) WriteJSON(_ context.Context, v any) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, v.(voiceagent.FunctionCallResponse))
	return nil
}

func TestDispatcher_AnswersInOrder(t *testing.T) {
	t.Parallel()

	var seen []function.Invocation
	h := function.HandlerFunc(func(_ context.Context, inv function.Invocation) (json.RawMessage, error) {
		seen = append(seen, inv)
		switch inv.Name {
		case "get_services":
			return json.RawMessage(`{"services":["cut"]}`), nil
		case "create_booking":
			return nil, errors.New("slot taken")
		case "explode":
			panic("boom")
		case "garbage":
			return json.RawMessage(`not json`), nil
		}
		return nil, nil
	})

	d := NewDispatcher(h, time.Second, nil, discardLogger())
	out := &recordingResponder{}
	invs := []voiceagent.FunctionInvocation{
		{ID: "1", Name: "get_services", Arguments: json.RawMessage(`"{}"`)},
		{ID: "2", Name: "create_booking", Arguments: json.RawMessage(`{"time":"9am"}`)},
		{ID: "3", Name: "explode"},
		{ID: "4", Name: "garbage"},
		{ID: "5", Name: "get_services", Arguments: json.RawMessage(`"not an object"`)},
		{ID: "6", Name: "noop"},
	}
	n, err := d.Dispatch(context.Background(), CallRef{CallID: "CA1", TenantID: "T1"}, invs, out)
	if err != nil || n != len(invs) {
		t.Fatalf("Dispatch = %d, %v", n, err)
	}

	want := []struct{ id, content string }{
		{"1", `{"services":["cut"]}`},
		{"2", `{"error":"slot taken"}`},
		{"3", `{"error":"function explode failed"}`},
		{"4", `{"error":"malformed function result"}`},
		{"5", `{"error":"arguments must be a JSON object"}`},
		{"6", `{}`},
	}
	if len(out.out) != len(want) {
		t.Fatalf("responses = %d, want %d", len(out.out), len(want))
	}
	for i, w := range want {
		got := out.out[i]
		if got.Type != voiceagent.TypeFunctionCallResponse || got.ID != w.id || got.Content != w.content {
			t.Errorf("response %d = %+v, want id %s content %s", i, got, w.id, w.content)
		}
	}

	if len(seen) != 5 {
		t.Fatalf("handler calls = %d, want 5 (bad arguments skip the handler)", len(seen))
	}
	if seen[1].CallID != "CA1" || seen[1].TenantID != "T1" || seen[1].Arguments["time"] != "9am" {
		t.Errorf("invocation = %+v", seen[1])
	}
}

func TestDispatcher_TimeoutBecomesErrorPayload(t *testing.T) {
	t.Parallel()

	h := function.HandlerFunc(func(ctx context.Context, _ function.Invocation) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := NewDispatcher(h, 20*time.Millisecond, nil, discardLogger())
	out := &recordingResponder{}
	_, err := d.Dispatch(context.Background(), CallRef{}, []voiceagent.FunctionInvocation{{ID: "x", Name: "slow"}}, out)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.out) != 1 || !strings.Contains(out.out[0].Content, "deadline exceeded") {
		t.Errorf("responses = %+v", out.out)
	}
}

func TestDispatcher_GeneratesMissingID(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(function.HandlerFunc(func(context.Context, function.Invocation) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}), 0, nil, discardLogger())
	out := &recordingResponder{}
	if _, err := d.Dispatch(context.Background(), CallRef{}, []voiceagent.FunctionInvocation{{Name: "x"}}, out); err != nil {
		t.Fatal(err)
	}
	if len(out.out) != 1 || len(out.out[0].ID) != 36 {
		t.Errorf("responses = %+v, want a generated uuid id", out.out)
	}
}

func TestDispatcher_StopsOnWriteFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	d := NewDispatcher(function.HandlerFunc(func(context.Context, function.Invocation) (json.RawMessage, error) {
		calls++
		return nil, nil
	}), 0, nil, discardLogger())
	gone := errors.New("socket gone")
	n, err := d.Dispatch(context.Background(), CallRef{}, []voiceagent.FunctionInvocation{
		{ID: "1", Name: "a"}, {ID: "2", Name: "b"},
	}, &recordingResponder{fail: gone})
	if !errors.Is(err, gone) || n != 0 {
		t.Errorf("Dispatch = %d, %v", n, err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestBuildSettings(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Agent: AgentConfig{
			Language: "en",
			Think:    voiceagent.ProviderSelection{Type: "open_ai", Model: "gpt-4o-mini"},
		},
	}.withDefaults()
	fns := []voiceagent.FunctionSchema{{Name: "get_services"}}
	p := tenant.Profile{ID: "T1", Instructions: "You are the receptionist.", Greeting: "Hi!", Language: "de"}

	s, err := BuildSettings(cfg, p, fns)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != voiceagent.TypeSettings || s.Agent.Think.Prompt != p.Instructions || len(s.Agent.Think.Functions) != 1 {
		t.Errorf("settings = %+v", s)
	}
	if s.Agent.Language != "de" || s.Agent.Greeting != "Hi!" {
		t.Errorf("language/greeting = %q/%q", s.Agent.Language, s.Agent.Greeting)
	}
	if s.Audio.Input.Encoding != "mulaw" || s.Audio.Input.SampleRate != 8000 || s.Audio.Output.Container != "none" {
		t.Errorf("audio = %+v", s.Audio)
	}

	if _, err := BuildSettings(cfg, tenant.Profile{ID: "T1"}, fns); !errors.Is(err, voiceagent.ErrHandshake) {
		t.Errorf("missing prompt err = %v", err)
	}
	if _, err := BuildSettings(cfg, p, nil); !errors.Is(err, voiceagent.ErrHandshake) {
		t.Errorf("missing functions err = %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	c := Config{}.withDefaults()
	if c.FrameSize != 160 || c.TickInterval != 20*time.Millisecond || c.RampSamples != 160 {
		t.Errorf("framing defaults = %d/%s/%d", c.FrameSize, c.TickInterval, c.RampSamples)
	}
	if c.ConnectTimeout != 10*time.Second || c.WatchdogTimeout != 8*time.Second {
		t.Errorf("timeouts = %s/%s", c.ConnectTimeout, c.WatchdogTimeout)
	}
	if c.Silence.Threshold != 10*time.Second || c.Silence.Grace != 4*time.Second {
		t.Errorf("silence = %+v", c.Silence)
	}

	c = Config{FrameSize: 960, RampSamples: -1}.withDefaults()
	if c.TickInterval != 120*time.Millisecond || c.RampSamples != 0 {
		t.Errorf("960-byte frame interval = %s, ramp = %d", c.TickInterval, c.RampSamples)
	}
}

// TestDispatcher_Span swaps the global tracer provider and so does not run
// in parallel.
func TestDispatcher_Span(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := function.HandlerFunc(func(context.Context, function.Invocation) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	d := NewDispatcher(h, time.Second, nil, discardLogger())
	invs := []voiceagent.FunctionInvocation{{ID: "a", Name: "get_services"}, {ID: "b", Name: "get_services"}}

	tests := []struct {
		name    string
		out     *recordingResponder
		wantErr bool
	}{
		{"answered", &recordingResponder{}, false},
		{"upstream gone", &recordingResponder{fail: errors.New("use of closed connection")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			ctx, session := observe.StartSpan(context.Background(), "call.session")
			_, err := d.Dispatch(ctx, CallRef{CallID: "CA1", TenantID: "T1"}, invs, tt.out)
			session.End()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Dispatch err = %v, wantErr %v", err, tt.wantErr)
			}

			var batch *tracetest.SpanStub
			spans := exp.GetSpans()
			for i := range spans {
				if spans[i].Name == "call.function_batch" {
					batch = &spans[i]
				}
			}
			if batch == nil {
				t.Fatalf("no call.function_batch span among %d spans", len(spans))
			}
			attrs := attribute.NewSet(batch.Attributes...)
			if v, _ := attrs.Value("call.id"); v.AsString() != "CA1" {
				t.Errorf("call.id = %q", v.AsString())
			}
			if v, _ := attrs.Value("function.count"); v.AsInt64() != 2 {
				t.Errorf("function.count = %d", v.AsInt64())
			}
			if got := batch.Status.Code == codes.Error; got != tt.wantErr {
				t.Errorf("span status = %v, want error %v", batch.Status.Code, tt.wantErr)
			}
		})
	}
}
