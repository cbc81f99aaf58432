package call

import (
	"time"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// AgentConfig describes the upstream voice-agent endpoint and the providers
// requested in the Settings message.
type AgentConfig struct {
	URL    string
	APIKey string
	Auth   voiceagent.AuthScheme

	// InputEncoding and OutputEncoding name the audio codec in each
	// direction. Default: "mulaw".
	InputEncoding  string
	OutputEncoding string

	Listen voiceagent.ProviderSelection
	Think  voiceagent.ProviderSelection
	Speak  voiceagent.ProviderSelection

	// Language is used when the tenant profile does not set one.
	Language string
}

// SilenceConfig tunes the [Silence] supervisor.
type SilenceConfig struct {
	// CheckInterval is how often elapsed silence is evaluated. Default: 1s.
	CheckInterval time.Duration

	// Threshold is the silence that triggers a prompt or the farewell.
	// Default: 10s.
	Threshold time.Duration

	// Grace is the time allowed for the farewell to be spoken before the
	// call is terminated. Default: 4s.
	Grace time.Duration

	// MaxPrompts is the number of check-in prompts before the farewell.
	MaxPrompts int

	PromptText   string
	FarewellText string
}

// Config holds the per-call tuning shared by every session.
type Config struct {
	Agent AgentConfig

	// SampleRate is the telephony sample rate in Hz. μ-law carries one byte
	// per sample. Default: 8000.
	SampleRate int

	// FrameSize is the number of bytes per outbound frame. Default: 160.
	FrameSize int

	// TickInterval is the pacer period. Default: the playback time of
	// FrameSize at SampleRate.
	TickInterval time.Duration

	// RampSamples is the fade-in length at the start of each agent
	// utterance. Default: one frame. Negative disables the ramp.
	RampSamples int

	// ConnectTimeout bounds the upstream WebSocket dial. Default: 10s.
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds dial-to-SettingsApplied. Default: 10s.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is the keep-alive period. Default: 4s.
	KeepAliveInterval time.Duration

	// FunctionTimeout bounds a single function invocation. Default: 10s.
	FunctionTimeout time.Duration

	Silence SilenceConfig

	// BargeIn clears queued agent audio when the caller starts speaking.
	BargeIn bool

	// TriggerPhrases are caller phrases after which a function call is
	// expected within WatchdogTimeout (default 8s). A missed call is logged.
	TriggerPhrases  []string
	WatchdogTimeout time.Duration

	// DefaultTenant is used when the stream start carries no tenant id.
	DefaultTenant string

	// TranscriptTimeout bounds saving the transcript at call end.
	// Default: 5s.
	TranscriptTimeout time.Duration
}

const (
	defaultFarewell = "It seems you may have stepped away. Thank you for calling, goodbye!"
	defaultPrompt   = "Are you still there?"
)

// withDefaults returns c with zero fields replaced by their defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 160
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
	}
	switch {
	case c.RampSamples == 0:
		c.RampSamples = c.FrameSize
	case c.RampSamples < 0:
		c.RampSamples = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 4 * time.Second
	}
	if c.FunctionTimeout <= 0 {
		c.FunctionTimeout = 10 * time.Second
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 8 * time.Second
	}
	if c.TranscriptTimeout <= 0 {
		c.TranscriptTimeout = 5 * time.Second
	}
	if c.Agent.InputEncoding == "" {
		c.Agent.InputEncoding = "mulaw"
	}
	if c.Agent.OutputEncoding == "" {
		c.Agent.OutputEncoding = "mulaw"
	}
	if c.Agent.Auth == "" {
		c.Agent.Auth = voiceagent.AuthSubprotocol
	}

	s := &c.Silence
	if s.CheckInterval <= 0 {
		s.CheckInterval = time.Second
	}
	if s.Threshold <= 0 {
		s.Threshold = 10 * time.Second
	}
	if s.Grace <= 0 {
		s.Grace = 4 * time.Second
	}
	if s.MaxPrompts < 0 {
		s.MaxPrompts = 0
	}
	if s.FarewellText == "" {
		s.FarewellText = defaultFarewell
	}
	if s.PromptText == "" {
		s.PromptText = defaultPrompt
	}
	return c
}
