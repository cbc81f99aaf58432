// Package telephony speaks the carrier side of a call: a media-stream
// WebSocket that carries JSON envelopes with base64 μ-law audio, plus the
// TwiML document that points an inbound call at that socket.
package telephony

import "strings"

// Inbound event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// Outbound-only event names.
const (
	EventClear = "clear"
)

// Envelope is one media-stream message. Exactly one of the payload pointers
// is set, matching Event.
type Envelope struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Version        string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
}

// Start announces the stream and carries the call's custom parameters.
type Start struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// tenantKeys are the custom parameter names accepted as the tenant id, in
// precedence order.
var tenantKeys = []string{"tenant_id", "business_id", "tenantId"}

// TenantID returns the tenant named in the custom parameters, or "".
func (s *Start) TenantID() string {
	for _, k := range tenantKeys {
		if v := strings.TrimSpace(s.CustomParameters[k]); v != "" {
			return v
		}
	}
	return ""
}

// CallID returns the carrier call id, falling back to a "call_id" custom
// parameter.
func (s *Start) CallID() string {
	if s.CallSID != "" {
		return s.CallSID
	}
	return strings.TrimSpace(s.CustomParameters["call_id"])
}

// MediaFormat describes the stream codec.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries one chunk of base64 audio.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Stop ends the stream.
type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Mark echoes a named playback marker.
type Mark struct {
	Name string `json:"name"`
}

// DTMF is a keypad digit pressed by the caller.
type DTMF struct {
	Track string `json:"track"`
	Digit string `json:"digit"`
}

// outboundMedia is the frame sent back to the carrier.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// outboundControl is a clear or mark frame.
type outboundControl struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Mark      *Mark  `json:"mark,omitempty"`
}
