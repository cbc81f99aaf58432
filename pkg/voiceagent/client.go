package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadLimit      = 1 << 20
)

// AuthScheme selects how the API key is presented during the handshake.
type AuthScheme string

const (
	// AuthSubprotocol sends the key as the WebSocket subprotocol pair
	// ["token", key].
	AuthSubprotocol AuthScheme = "subprotocol"

	// AuthBearer sends "Authorization: Bearer <key>".
	AuthBearer AuthScheme = "bearer"

	// AuthToken sends "Authorization: Token <key>".
	AuthToken AuthScheme = "token"
)

var (
	// ErrConnectTimeout is returned by [Dial] when the connection is not
	// established within the connect timeout.
	ErrConnectTimeout = errors.New("voiceagent: connect timeout")

	// ErrAbnormalClose wraps a read error caused by a close code other than
	// 1000 (normal) or 1001 (going away), or by a dropped transport.
	ErrAbnormalClose = errors.New("voiceagent: abnormal close")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("voiceagent: connection closed")

	// ErrHandshake marks a failure to complete Welcome → Settings →
	// SettingsApplied.
	ErrHandshake = errors.New("voiceagent: handshake failed")
)

// DialConfig configures [Dial].
type DialConfig struct {
	// URL is the agent WebSocket endpoint.
	URL string

	// APIKey authenticates the connection.
	APIKey string

	// Auth selects how APIKey is sent. Default: [AuthSubprotocol].
	Auth AuthScheme

	// ConnectTimeout bounds the WebSocket handshake. Default: 10s.
	ConnectTimeout time.Duration

	// ReadLimit is the largest accepted inbound message. Default: 1 MiB.
	ReadLimit int64

	// HTTPClient overrides the client used for the upgrade request.
	HTTPClient *http.Client
}

// Conn is an open upstream connection. Writes are safe for concurrent use;
// Read must be called from a single goroutine.
type Conn struct {
	ws        *websocket.Conn
	open      atomic.Bool
	closeOnce sync.Once
}

// Dial connects to the voice-agent endpoint. Exceeding ConnectTimeout yields
// an error wrapping [ErrConnectTimeout].
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("voiceagent: dial: empty URL")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}

	opts := &websocket.DialOptions{HTTPClient: cfg.HTTPClient}
	switch cfg.Auth {
	case AuthBearer:
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + cfg.APIKey}}
	case AuthToken:
		opts.HTTPHeader = http.Header{"Authorization": []string{"Token " + cfg.APIKey}}
	default:
		if cfg.APIKey != "" {
			opts.Subprotocols = []string{"token", cfg.APIKey}
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, cfg.URL, opts)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s: %w", ErrConnectTimeout, timeout, err)
		}
		return nil, fmt.Errorf("voiceagent: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	c := &Conn{ws: ws}
	c.open.Store(true)
	return c, nil
}

// Read blocks for the next frame and returns its payload regardless of
// WebSocket message type. A close with code 1000 or 1001 is returned as the
// underlying close error; any other termination wraps [ErrAbnormalClose].
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		c.open.Store(false)
		if IsNormalClosure(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAbnormalClose, err)
	}
	return data, nil
}

// WriteJSON marshals v and sends it as a text frame.
func (c *Conn) WriteJSON(ctx context.Context, v any) error {
	if !c.open.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("voiceagent: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("voiceagent: write: %w", err)
	}
	return nil
}

// WriteAudio sends raw caller audio as a binary frame.
func (c *Conn) WriteAudio(ctx context.Context, audio []byte) error {
	if !c.open.Load() {
		return ErrClosed
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, audio); err != nil {
		return fmt.Errorf("voiceagent: write audio: %w", err)
	}
	return nil
}

// Open reports whether the connection is usable.
func (c *Conn) Open() bool { return c.open.Load() }

// Close sends a normal closure. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		err = c.ws.Close(websocket.StatusNormalClosure, "call ended")
	})
	return err
}

// IsNormalClosure reports whether err is a WebSocket close with code 1000
// or 1001.
func IsNormalClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
