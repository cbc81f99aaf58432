package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// ErrMalformedEnvelope is returned by [Conn.ReadEnvelope] for a frame that is
// not a JSON envelope with an event name. The connection stays usable.
var ErrMalformedEnvelope = errors.New("telephony: malformed envelope")

// ErrClosed is returned by writes after the leg has closed.
var ErrClosed = errors.New("telephony: connection closed")

// Conn is the server side of a media-stream WebSocket. Writes are safe for
// concurrent use; ReadEnvelope must be called from a single goroutine.
type Conn struct {
	ws        *websocket.Conn
	open      atomic.Bool
	closeOnce sync.Once
}

// Accept upgrades an HTTP request into a media-stream connection.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("telephony: accept: %w", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established WebSocket.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws}
	c.open.Store(true)
	return c
}

// ReadEnvelope blocks for the next envelope. Transport errors close the leg
// and are returned as is; decode failures wrap [ErrMalformedEnvelope].
func (c *Conn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		c.open.Store(false)
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}
	return env, nil
}

// WriteMedia sends one audio frame to the caller.
func (c *Conn) WriteMedia(ctx context.Context, streamSID string, audio []byte) error {
	return c.writeJSON(ctx, outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(audio)},
	})
}

// WriteClear asks the carrier to discard audio it has buffered for playback.
func (c *Conn) WriteClear(ctx context.Context, streamSID string) error {
	return c.writeJSON(ctx, outboundControl{Event: EventClear, StreamSID: streamSID})
}

// WriteMark asks the carrier to echo name once playback reaches this point.
func (c *Conn) WriteMark(ctx context.Context, streamSID, name string) error {
	return c.writeJSON(ctx, outboundControl{Event: EventMark, StreamSID: streamSID, Mark: &Mark{Name: name}})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	if !c.open.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telephony: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write: %w", err)
	}
	return nil
}

// Open reports whether the leg is usable.
func (c *Conn) Open() bool { return c.open.Load() }

// Close ends the leg with status and reason. Only the first call has effect.
func (c *Conn) Close(status websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		err = c.ws.Close(status, reason)
	})
	return err
}
