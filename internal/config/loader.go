package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// Known backend names per kind, used by [Validate].
var (
	FunctionBackends = []string{FunctionsHTTP, FunctionsMCP}
	TenantStores     = []string{TenantsMemory, TenantsPostgres}
	TranscriptSinks  = []string{TranscriptsLog, TranscriptsPostgres, TranscriptsAMQP, TranscriptsNone}
	authSchemes      = []string{string(voiceagent.AuthSubprotocol), string(voiceagent.AuthBearer), string(voiceagent.AuthToken)}
)

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it loads ".env".
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} references are expanded from the environment.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every violation found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL != "" {
		if u, err := url.Parse(cfg.Server.PublicURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_url %q is not an absolute URL", cfg.Server.PublicURL))
		}
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file"))
	}
	errs = appendNonNegative(errs, "server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	// Telephony framing: one byte per μ-law sample.
	t := cfg.Telephony
	switch {
	case t.SampleRate <= 0:
		errs = append(errs, fmt.Errorf("telephony.sample_rate %d must be positive", t.SampleRate))
	case t.FrameSize <= 0:
		errs = append(errs, fmt.Errorf("telephony.frame_size %d must be positive", t.FrameSize))
	case t.TickInterval <= 0:
		errs = append(errs, fmt.Errorf("telephony.tick_interval %s must be positive", t.TickInterval))
	default:
		want := time.Duration(t.FrameSize) * time.Second / time.Duration(t.SampleRate)
		if t.TickInterval != want {
			errs = append(errs, fmt.Errorf("telephony.tick_interval %s does not match frame_size %d at %d Hz (want %s)",
				t.TickInterval, t.FrameSize, t.SampleRate, want))
		}
	}
	if !strings.HasPrefix(t.StreamPath, "/") {
		errs = append(errs, fmt.Errorf("telephony.stream_path %q must start with /", t.StreamPath))
	}

	// Agent
	if cfg.Agent.URL == "" {
		errs = append(errs, errors.New("agent.url is required"))
	} else if u, err := url.Parse(cfg.Agent.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("agent.url %q must be a ws:// or wss:// URL", cfg.Agent.URL))
	}
	if cfg.Agent.APIKey == "" {
		errs = append(errs, errors.New("agent.api_key is required"))
	}
	if !slices.Contains(authSchemes, cfg.Agent.Auth) {
		errs = append(errs, fmt.Errorf("agent.auth %q is invalid; valid values: %s", cfg.Agent.Auth, strings.Join(authSchemes, ", ")))
	}
	errs = appendNonNegative(errs, "agent.connect_timeout", cfg.Agent.ConnectTimeout)
	errs = appendNonNegative(errs, "agent.handshake_timeout", cfg.Agent.HandshakeTimeout)
	errs = appendNonNegative(errs, "agent.keepalive_interval", cfg.Agent.KeepAliveInterval)

	// Silence
	errs = appendNonNegative(errs, "silence.check_interval", cfg.Silence.CheckInterval)
	errs = appendNonNegative(errs, "silence.threshold", cfg.Silence.Threshold)
	errs = appendNonNegative(errs, "silence.grace", cfg.Silence.Grace)
	if cfg.Silence.MaxPrompts < 0 {
		errs = append(errs, fmt.Errorf("silence.max_prompts %d must not be negative", cfg.Silence.MaxPrompts))
	}

	// Functions
	fn := cfg.Functions
	if !slices.Contains(FunctionBackends, fn.Backend) {
		errs = append(errs, fmt.Errorf("functions.backend %q is invalid; valid values: %s", fn.Backend, strings.Join(FunctionBackends, ", ")))
	}
	if fn.URL == "" {
		errs = append(errs, errors.New("functions.url is required"))
	}
	if fn.Backend == FunctionsHTTP && len(fn.Catalog) == 0 {
		errs = append(errs, errors.New("functions.catalog must list at least one function for the http backend"))
	}
	seen := make(map[string]int, len(fn.Catalog))
	for i, s := range fn.Catalog {
		prefix := fmt.Sprintf("functions.catalog[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of functions.catalog[%d]", prefix, s.Name, prev))
		}
		seen[s.Name] = i
	}
	errs = appendNonNegative(errs, "functions.timeout", fn.Timeout)
	errs = appendNonNegative(errs, "functions.watchdog_timeout", fn.WatchdogTimeout)
	if fn.Breaker.MaxFailures < 0 || fn.Breaker.HalfOpenMax < 0 {
		errs = append(errs, errors.New("functions.circuit_breaker counts must not be negative"))
	}

	// Tenants
	ts := cfg.Tenants
	if !slices.Contains(TenantStores, ts.Store) {
		errs = append(errs, fmt.Errorf("tenants.store %q is invalid; valid values: %s", ts.Store, strings.Join(TenantStores, ", ")))
	}
	if ts.Store == TenantsPostgres && ts.DSN == "" {
		errs = append(errs, errors.New("tenants.dsn is required when store is postgres"))
	}
	ids := make(map[string]int, len(ts.Profiles))
	for i, p := range ts.Profiles {
		prefix := fmt.Sprintf("tenants.profiles[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := ids[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of tenants.profiles[%d]", prefix, p.ID, prev))
		}
		ids[p.ID] = i
		if strings.TrimSpace(p.Instructions) == "" {
			errs = append(errs, fmt.Errorf("%s.instructions is required", prefix))
		}
		for _, name := range p.Functions {
			if fn.Backend == FunctionsHTTP && len(fn.Catalog) > 0 {
				if _, ok := seen[name]; !ok {
					errs = append(errs, fmt.Errorf("%s.functions names unknown function %q", prefix, name))
				}
			}
		}
	}
	if ts.Store == TenantsMemory && ts.Default != "" {
		if _, ok := ids[ts.Default]; !ok {
			errs = append(errs, fmt.Errorf("tenants.default %q is not among tenants.profiles", ts.Default))
		}
	}

	// Transcripts
	tr := cfg.Transcripts
	if !slices.Contains(TranscriptSinks, tr.Sink) {
		errs = append(errs, fmt.Errorf("transcripts.sink %q is invalid; valid values: %s", tr.Sink, strings.Join(TranscriptSinks, ", ")))
	}
	if tr.Sink == TranscriptsPostgres && tr.DSN == "" {
		errs = append(errs, errors.New("transcripts.dsn is required when sink is postgres"))
	}
	if tr.Sink == TranscriptsAMQP {
		if tr.URL == "" {
			errs = append(errs, errors.New("transcripts.url is required when sink is amqp"))
		}
		if tr.Exchange == "" && tr.RoutingKey == "" && tr.Queue == "" {
			errs = append(errs, errors.New("transcripts: amqp needs an exchange, routing_key or queue"))
		}
	}
	errs = appendNonNegative(errs, "transcripts.timeout", tr.Timeout)

	return errors.Join(errs...)
}

func appendNonNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %s must not be negative", field, d))
	}
	return errs
}
