package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h http.HandlerFunc, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func pass(context.Context) error { return nil }

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "tenants", Check: pass},
				{Name: "transcripts", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"tenants": "ok", "transcripts": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "tenants", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "transcripts", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"tenants": "fail: connection refused", "transcripts": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...).Readyz, context.Background())
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("got %d/%q, want %d/%q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	slow := func(context.Context) error { time.Sleep(100 * time.Millisecond); return nil }
	h := New(
		Checker{Name: "a", Check: slow},
		Checker{Name: "b", Check: slow},
		Checker{Name: "c", Check: slow},
	)

	start := time.Now()
	code, _ := serve(t, h.Readyz, context.Background())
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("checks took %s, expected them to overlap", elapsed)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code, _ := serve(t, h.Readyz, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	called := false
	h := New(Checker{Name: "x", Check: func(context.Context) error { called = true; return nil }})
	h.SetDraining(true)

	code, body := serve(t, h.Readyz, context.Background())
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("got %d/%q", code, body.Status)
	}
	if called {
		t.Error("checkers ran while draining")
	}

	// Liveness is unaffected.
	if code, _ := serve(t, h.Healthz, context.Background()); code != http.StatusOK {
		t.Errorf("healthz = %d while draining", code)
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()
	active := 3
	h := New().WithInfo(Info{Name: "active_calls", Value: func() any { return active }})

	_, body := serve(t, h.Healthz, context.Background())
	if got, _ := body.Info["active_calls"].(float64); got != 3 {
		t.Errorf("active_calls = %v", body.Info["active_calls"])
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingChecker(t *testing.T) {
	t.Parallel()
	h := New(
		PingChecker("postgres", fakePinger{}),
		PingChecker("broker", fakePinger{err: errors.New("down")}),
	)
	code, body := serve(t, h.Readyz, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", code)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["broker"] != "fail: down" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: pass}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
