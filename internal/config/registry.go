package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxbridge/internal/function"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/internal/transcript"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Env carries process-wide collaborators into factories.
type Env struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Factory signatures per backend kind.
type (
	FunctionFactory   func(ctx context.Context, cfg *Config, env Env) (function.Backend, error)
	TenantFactory     func(ctx context.Context, cfg *Config, env Env) (tenant.Store, error)
	TranscriptFactory func(ctx context.Context, cfg *Config, env Env) (transcript.Sink, error)
)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu          sync.RWMutex
	functions   map[string]FunctionFactory
	tenants     map[string]TenantFactory
	transcripts map[string]TranscriptFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		functions:   make(map[string]FunctionFactory),
		tenants:     make(map[string]TenantFactory),
		transcripts: make(map[string]TranscriptFactory),
	}
}

// DefaultRegistry returns a Registry with every built-in backend registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterFunctions(FunctionsHTTP, newHTTPFunctions)
	r.RegisterFunctions(FunctionsMCP, newMCPFunctions)
	r.RegisterTenants(TenantsMemory, newMemoryTenants)
	r.RegisterTenants(TenantsPostgres, newPostgresTenants)
	r.RegisterTranscripts(TranscriptsLog, newLogTranscripts)
	r.RegisterTranscripts(TranscriptsPostgres, newPostgresTranscripts)
	r.RegisterTranscripts(TranscriptsAMQP, newAMQPTranscripts)
	r.RegisterTranscripts(TranscriptsNone, func(context.Context, *Config, Env) (transcript.Sink, error) {
		return nil, nil
	})
	return r
}

// RegisterFunctions registers a function backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterFunctions(name string, f FunctionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = f
}

// RegisterTenants registers a tenant store factory under name.
func (r *Registry) RegisterTenants(name string, f TenantFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[name] = f
}

// RegisterTranscripts registers a transcript sink factory under name.
func (r *Registry) RegisterTranscripts(name string, f TranscriptFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts[name] = f
}

// CreateFunctions builds the backend named by cfg.Functions.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateFunctions(ctx context.Context, cfg *Config, env Env) (function.Backend, error) {
	r.mu.RLock()
	f, ok := r.functions[cfg.Functions.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: functions/%q", ErrBackendNotRegistered, cfg.Functions.Backend)
	}
	return f(ctx, cfg, env)
}

// CreateTenants builds the store named by cfg.Tenants.Store.
func (r *Registry) CreateTenants(ctx context.Context, cfg *Config, env Env) (tenant.Store, error) {
	r.mu.RLock()
	f, ok := r.tenants[cfg.Tenants.Store]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tenants/%q", ErrBackendNotRegistered, cfg.Tenants.Store)
	}
	return f(ctx, cfg, env)
}

// CreateTranscripts builds the sink named by cfg.Transcripts.Sink. A nil
// sink with a nil error means transcripts are discarded.
func (r *Registry) CreateTranscripts(ctx context.Context, cfg *Config, env Env) (transcript.Sink, error) {
	r.mu.RLock()
	f, ok := r.transcripts[cfg.Transcripts.Sink]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcripts/%q", ErrBackendNotRegistered, cfg.Transcripts.Sink)
	}
	return f(ctx, cfg, env)
}

// ── Built-in factories ───────────────────────────────────────────────────────

// StaticCatalog converts the configured catalogue.
func (c *Config) StaticCatalog() function.StaticCatalog {
	out := make(function.StaticCatalog, 0, len(c.Functions.Catalog))
	for _, s := range c.Functions.Catalog {
		out = append(out, voiceagent.FunctionSchema{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return out
}

func newHTTPFunctions(_ context.Context, cfg *Config, env Env) (function.Backend, error) {
	opts := []function.HTTPOption{
		function.WithCatalog(cfg.StaticCatalog()),
	}
	if cfg.Functions.Timeout > 0 {
		opts = append(opts, function.WithTimeout(cfg.Functions.Timeout))
	}
	for k, v := range cfg.Functions.Headers {
		opts = append(opts, function.WithHeader(k, v))
	}
	if bc := cfg.BreakerConfig(); bc != nil {
		bc.Logger = env.logger()
		if env.Metrics != nil {
			m := env.Metrics
			bc.OnStateChange = func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			}
		}
		opts = append(opts, function.WithBreaker(resilience.NewCircuitBreaker(*bc)))
	}
	b, err := function.NewHTTPBackend(cfg.Functions.URL, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newMCPFunctions(ctx context.Context, cfg *Config, _ Env) (function.Backend, error) {
	b, err := function.NewMCPBackend(ctx, cfg.Functions.URL)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newMemoryTenants(_ context.Context, cfg *Config, _ Env) (tenant.Store, error) {
	return tenant.NewMemStore(cfg.Tenants.Profiles...), nil
}

func newPostgresTenants(ctx context.Context, cfg *Config, _ Env) (tenant.Store, error) {
	s, err := tenant.NewPostgresStore(ctx, cfg.Tenants.DSN)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newLogTranscripts(_ context.Context, _ *Config, env Env) (transcript.Sink, error) {
	return transcript.NewLogSink(env.logger(), slog.LevelInfo), nil
}

func newPostgresTranscripts(ctx context.Context, cfg *Config, _ Env) (transcript.Sink, error) {
	s, err := transcript.NewPostgresSink(ctx, cfg.Transcripts.DSN)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newAMQPTranscripts(_ context.Context, cfg *Config, _ Env) (transcript.Sink, error) {
	s, err := transcript.NewAMQPSink(transcript.AMQPConfig{
		URL:        cfg.Transcripts.URL,
		Exchange:   cfg.Transcripts.Exchange,
		RoutingKey: cfg.Transcripts.RoutingKey,
		Queue:      cfg.Transcripts.Queue,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
