package telephony

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
)

// FrameSource yields one outbound frame per call. [audio.Pacer] satisfies it.
type FrameSource interface {
	Drain() (frame []byte, audio bool)
}

// MediaWriter is the telephony leg as seen by the relay.
type MediaWriter interface {
	Open() bool
	WriteMedia(ctx context.Context, streamSID string, audio []byte) error
	WriteClear(ctx context.Context, streamSID string) error
}

// AudioForwarder is the upstream leg as seen by the relay.
type AudioForwarder interface {
	WriteAudio(ctx context.Context, audio []byte) error
}

// Errors reported by [Relay.OnInboundFrame]. Both are recoverable; the frame
// is dropped and the call continues.
var (
	ErrEmptyPayload     = errors.New("telephony: empty media payload")
	ErrMalformedPayload = errors.New("telephony: malformed media payload")
)

// Emit describes what one [Relay.EmitOutbound] call did.
type Emit struct {
	// Sent is false when the leg was closed and the tick was skipped.
	Sent bool

	// Audio is false when the frame was the silence substitute.
	Audio bool

	// Size is the number of audio bytes in the frame.
	Size int
}

// Relay moves audio between the two legs of one call: inbound caller audio
// is base64-decoded and forwarded upstream, and outbound frames are pulled
// from the pacer once per tick and written to the caller.
type Relay struct {
	src       FrameSource
	tel       MediaWriter
	up        AudioForwarder
	frameSize int
	log       *slog.Logger

	streamSID string
}

// NewRelay returns a Relay. frameSize is the expected inbound chunk size; a
// mismatch is logged but tolerated.
func NewRelay(src FrameSource, tel MediaWriter, up AudioForwarder, frameSize int, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{src: src, tel: tel, up: up, frameSize: frameSize, log: log}
}

// SetStreamSID records the stream id used for outbound envelopes.
func (r *Relay) SetStreamSID(sid string) { r.streamSID = sid }

// OnInboundFrame decodes one media payload and forwards the raw bytes
// upstream. Empty or undecodable payloads are dropped with a warning and
// reported as [ErrEmptyPayload] or [ErrMalformedPayload]; an upstream write
// failure is returned wrapped.
func (r *Relay) OnInboundFrame(ctx context.Context, payload string) (int, error) {
	if payload == "" {
		r.log.Warn("dropping empty media payload")
		return 0, ErrEmptyPayload
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		r.log.Warn("dropping malformed media payload", "size", len(payload), "err", err)
		return 0, ErrMalformedPayload
	}
	if len(raw) == 0 {
		r.log.Warn("dropping empty media payload")
		return 0, ErrEmptyPayload
	}
	if r.frameSize > 0 && len(raw) != r.frameSize {
		r.log.Debug("inbound frame size mismatch", "size", len(raw), "expected", r.frameSize)
	}
	if err := r.up.WriteAudio(ctx, raw); err != nil {
		return 0, err
	}
	return len(raw), nil
}

// RequestOutboundFrame returns the bytes for the current tick.
func (r *Relay) RequestOutboundFrame() ([]byte, bool) {
	return r.src.Drain()
}

// EmitOutbound performs one pacer tick. When the telephony leg is not open
// the tick is a no-op and nothing is drained. A write error drops the frame;
// the next tick proceeds normally.
func (r *Relay) EmitOutbound(ctx context.Context) (Emit, error) {
	if !r.tel.Open() {
		return Emit{}, nil
	}
	frame, audio := r.RequestOutboundFrame()
	if err := r.tel.WriteMedia(ctx, r.streamSID, frame); err != nil {
		return Emit{Audio: audio, Size: len(frame)}, err
	}
	return Emit{Sent: true, Audio: audio, Size: len(frame)}, nil
}

// Clear tells the carrier to drop audio it has queued for playback.
func (r *Relay) Clear(ctx context.Context) error {
	if !r.tel.Open() {
		return nil
	}
	return r.tel.WriteClear(ctx, r.streamSID)
}
