package voiceagent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startAgentServer launches a WebSocket server playing the voice-agent side.
func startAgentServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
			Subprotocols:       []string{"token"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SubprotocolAuth(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
		got <- r.Header.Get("Sec-WebSocket-Protocol")
		<-conn.CloseRead(context.Background()).Done()
	})

	c, err := voiceagent.Dial(testCtx(t), voiceagent.DialConfig{URL: wsURL(srv), APIKey: "secret"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	p := <-got
	if !strings.Contains(p, "token") || !strings.Contains(p, "secret") {
		t.Errorf("Sec-WebSocket-Protocol = %q, want token and key", p)
	}
	if !c.Open() {
		t.Error("Open() = false after Dial")
	}
}

func TestDial_HeaderAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scheme voiceagent.AuthScheme
		want   string
	}{
		{voiceagent.AuthBearer, "Bearer k"},
		{voiceagent.AuthToken, "Token k"},
	}
	for _, tc := range tests {
		t.Run(string(tc.scheme), func(t *testing.T) {
			t.Parallel()
			got := make(chan string, 1)
			srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
				got <- r.Header.Get("Authorization")
				<-conn.CloseRead(context.Background()).Done()
			})
			c, err := voiceagent.Dial(testCtx(t), voiceagent.DialConfig{URL: wsURL(srv), APIKey: "k", Auth: tc.scheme})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer c.Close()
			if h := <-got; h != tc.want {
				t.Errorf("Authorization = %q, want %q", h, tc.want)
			}
		})
	}
}

func TestDial_ConnectTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	start := time.Now()
	_, err := voiceagent.Dial(context.Background(), voiceagent.DialConfig{
		URL:            wsURL(srv),
		ConnectTimeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, voiceagent.ErrConnectTimeout) {
		t.Fatalf("err = %v, want ErrConnectTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dial took %s, timeout not honoured", elapsed)
	}
}

func TestDial_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := voiceagent.Dial(context.Background(), voiceagent.DialConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestConn_ReadWrite(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 2)
	srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Welcome"}`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
		for i := 0; i < 2; i++ {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received <- data
		}
		<-conn.CloseRead(ctx).Done()
	})

	ctx := testCtx(t)
	c, err := voiceagent.Dial(ctx, voiceagent.DialConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	first, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msg := voiceagent.Classify(first); msg.Type != voiceagent.TypeWelcome {
		t.Errorf("first message type = %q", msg.Type)
	}
	second, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(second) != 3 {
		t.Errorf("binary frame len = %d, want 3", len(second))
	}

	if err := c.WriteJSON(ctx, voiceagent.NewKeepAlive()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := c.WriteAudio(ctx, []byte{0, 0, 0}); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}

	var ka voiceagent.Envelope
	if err := json.Unmarshal(<-received, &ka); err != nil || ka.Type != voiceagent.TypeKeepAlive {
		t.Errorf("keep-alive = %+v, err %v", ka, err)
	}
	if audio := <-received; len(audio) != 3 {
		t.Errorf("audio len = %d, want 3", len(audio))
	}
}

func TestConn_CloseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     websocket.StatusCode
		wantNormal bool
	}{
		{"normal", websocket.StatusNormalClosure, true},
		{"going away", websocket.StatusGoingAway, true},
		{"internal error", websocket.StatusInternalError, false},
		{"policy violation", websocket.StatusPolicyViolation, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
				_ = conn.Close(tc.status, "bye")
			})
			ctx := testCtx(t)
			c, err := voiceagent.Dial(ctx, voiceagent.DialConfig{URL: wsURL(srv)})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer c.Close()

			_, err = c.Read(ctx)
			if err == nil {
				t.Fatal("Read succeeded after server close")
			}
			if got := voiceagent.IsNormalClosure(err); got != tc.wantNormal {
				t.Errorf("IsNormalClosure = %v, want %v (err %v)", got, tc.wantNormal, err)
			}
			if got := errors.Is(err, voiceagent.ErrAbnormalClose); got == tc.wantNormal {
				t.Errorf("errors.Is(ErrAbnormalClose) = %v (err %v)", got, err)
			}
			if c.Open() {
				t.Error("Open() = true after close")
			}
			if err := c.WriteJSON(ctx, voiceagent.NewKeepAlive()); !errors.Is(err, voiceagent.ErrClosed) {
				t.Errorf("WriteJSON after close: %v", err)
			}
		})
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startAgentServer(t, func(conn *websocket.Conn, r *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	c, err := voiceagent.Dial(testCtx(t), voiceagent.DialConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = c.Close()
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
