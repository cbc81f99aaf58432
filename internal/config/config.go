// Package config provides the configuration schema, loader and backend
// registry for the voxbridge call bridge.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxbridge/internal/call"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown and empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Backend names accepted by the registry defaults.
const (
	FunctionsHTTP = "http"
	FunctionsMCP  = "mcp"

	TenantsMemory   = "memory"
	TenantsPostgres = "postgres"

	TranscriptsLog      = "log"
	TranscriptsPostgres = "postgres"
	TranscriptsAMQP     = "amqp"
	TranscriptsNone     = "none"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	Agent         AgentConfig         `yaml:"agent"`
	Silence       SilenceConfig       `yaml:"silence"`
	Functions     FunctionsConfig     `yaml:"functions"`
	Tenants       TenantsConfig       `yaml:"tenants"`
	Transcripts   TranscriptsConfig   `yaml:"transcripts"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address to serve on. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL is the externally reachable base URL, used to build the
	// media-stream URL handed to the carrier. Example: "https://voice.example.com".
	PublicURL string `yaml:"public_url"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig enables HTTPS on the listener.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TelephonyConfig describes the carrier media stream.
type TelephonyConfig struct {
	// StreamPath is the WebSocket endpoint path. Default: "/media-stream".
	StreamPath string `yaml:"stream_path"`

	// SampleRate in Hz. Default: 8000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize in bytes of μ-law per outbound frame. Default: 160.
	FrameSize int `yaml:"frame_size"`

	// TickInterval between outbound frames. Must match FrameSize at
	// SampleRate. Default: 20ms.
	TickInterval time.Duration `yaml:"tick_interval"`

	// RampSamples applies a linear fade-in to the first samples of each
	// agent utterance. Zero means one frame; negative disables it.
	RampSamples int `yaml:"ramp_samples"`

	// BargeIn clears queued agent audio when the caller starts speaking.
	BargeIn bool `yaml:"barge_in"`
}

// AgentConfig describes the upstream voice agent.
type AgentConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// Auth is "subprotocol" (default), "bearer" or "token".
	Auth string `yaml:"auth"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	InputEncoding  string `yaml:"input_encoding"`
	OutputEncoding string `yaml:"output_encoding"`

	Listen ProviderSelection `yaml:"listen"`
	Think  ProviderSelection `yaml:"think"`
	Speak  ProviderSelection `yaml:"speak"`

	Language string `yaml:"language"`
}

// ProviderSelection picks a provider for one agent stage.
type ProviderSelection struct {
	Type  string `yaml:"type"`
	Model string `yaml:"model"`
}

// SilenceConfig tunes the silence supervisor.
type SilenceConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	Threshold     time.Duration `yaml:"threshold"`
	Grace         time.Duration `yaml:"grace"`
	MaxPrompts    int           `yaml:"max_prompts"`
	PromptText    string        `yaml:"prompt_text"`
	FarewellText  string        `yaml:"farewell_text"`
}

// FunctionsConfig selects the function-call backend.
type FunctionsConfig struct {
	// Backend is "http" (default) or "mcp".
	Backend string `yaml:"backend"`

	// URL is the HTTP base URL or the MCP streamable-HTTP endpoint.
	URL string `yaml:"url"`

	// Timeout bounds one invocation. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Headers are added to every HTTP backend request.
	Headers map[string]string `yaml:"headers"`

	Breaker BreakerConfig `yaml:"circuit_breaker"`

	// Catalog is the static function catalogue offered to the agent. The
	// MCP backend ignores it in favour of the server's tool list.
	Catalog []FunctionSchema `yaml:"catalog"`

	// TriggerPhrases are agent phrases that should be followed by a
	// function call within WatchdogTimeout.
	TriggerPhrases  []string      `yaml:"trigger_phrases"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
}

// BreakerConfig tunes the HTTP backend's circuit breaker. A zero
// MaxFailures disables it.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// FunctionSchema is one catalogue entry. Parameters is a JSON schema.
type FunctionSchema struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// TenantsConfig selects the tenant profile store.
type TenantsConfig struct {
	// Store is "memory" (default) or "postgres".
	Store string `yaml:"store"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Default is used when the stream names no tenant.
	Default string `yaml:"default"`

	// Profiles fill the memory store.
	Profiles []tenant.Profile `yaml:"profiles"`
}

// TranscriptsConfig selects where finished transcripts go.
type TranscriptsConfig struct {
	// Sink is "log" (default), "postgres", "amqp" or "none".
	Sink string `yaml:"sink"`

	DSN        string `yaml:"dsn"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Queue      string `yaml:"queue"`

	// Timeout bounds one save. Default: 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// ObservabilityConfig controls telemetry.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the /metrics endpoint. Default: true.
	Metrics *bool `yaml:"metrics"`
}

// MetricsEnabled reports whether /metrics is served.
func (o ObservabilityConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}

// ApplyDefaults fills zero values. It is called by [LoadFromReader] before
// validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	t := &cfg.Telephony
	if t.StreamPath == "" {
		t.StreamPath = "/media-stream"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 8000
	}
	if t.FrameSize == 0 {
		t.FrameSize = 160
	}
	if t.TickInterval == 0 && t.SampleRate > 0 {
		t.TickInterval = time.Duration(t.FrameSize) * time.Second / time.Duration(t.SampleRate)
	}
	if cfg.Agent.Auth == "" {
		cfg.Agent.Auth = string(voiceagent.AuthSubprotocol)
	}
	if cfg.Functions.Backend == "" {
		cfg.Functions.Backend = FunctionsHTTP
	}
	if cfg.Tenants.Store == "" {
		cfg.Tenants.Store = TenantsMemory
	}
	if cfg.Transcripts.Sink == "" {
		cfg.Transcripts.Sink = TranscriptsLog
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "voxbridge"
	}
}

// CallConfig converts the file configuration to the per-call settings.
// Zero values are left for [call.Config]'s own defaults.
func (c *Config) CallConfig() call.Config {
	return call.Config{
		Agent: call.AgentConfig{
			URL:            c.Agent.URL,
			APIKey:         c.Agent.APIKey,
			Auth:           voiceagent.AuthScheme(c.Agent.Auth),
			InputEncoding:  c.Agent.InputEncoding,
			OutputEncoding: c.Agent.OutputEncoding,
			Listen:         voiceagent.ProviderSelection(c.Agent.Listen),
			Think:          voiceagent.ProviderSelection(c.Agent.Think),
			Speak:          voiceagent.ProviderSelection(c.Agent.Speak),
			Language:       c.Agent.Language,
		},
		SampleRate:        c.Telephony.SampleRate,
		FrameSize:         c.Telephony.FrameSize,
		TickInterval:      c.Telephony.TickInterval,
		RampSamples:       c.Telephony.RampSamples,
		BargeIn:           c.Telephony.BargeIn,
		ConnectTimeout:    c.Agent.ConnectTimeout,
		HandshakeTimeout:  c.Agent.HandshakeTimeout,
		KeepAliveInterval: c.Agent.KeepAliveInterval,
		FunctionTimeout:   c.Functions.Timeout,
		Silence: call.SilenceConfig{
			CheckInterval: c.Silence.CheckInterval,
			Threshold:     c.Silence.Threshold,
			Grace:         c.Silence.Grace,
			MaxPrompts:    c.Silence.MaxPrompts,
			PromptText:    c.Silence.PromptText,
			FarewellText:  c.Silence.FarewellText,
		},
		TriggerPhrases:    c.Functions.TriggerPhrases,
		WatchdogTimeout:   c.Functions.WatchdogTimeout,
		DefaultTenant:     c.Tenants.Default,
		TranscriptTimeout: c.Transcripts.Timeout,
	}
}

// BreakerConfig converts the breaker section, or returns nil when disabled.
func (c *Config) BreakerConfig() *resilience.CircuitBreakerConfig {
	b := c.Functions.Breaker
	if b.MaxFailures <= 0 {
		return nil
	}
	return &resilience.CircuitBreakerConfig{
		Name:         "functions",
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	}
}
