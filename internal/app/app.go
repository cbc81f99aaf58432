// Package app wires the voxbridge subsystems into a running HTTP server.
//
// The App owns the full lifecycle: New builds the tenant store, function
// backend, transcript sink and call manager from the config; Run serves the
// media-stream WebSocket, the inbound-call webhook, health probes and
// metrics; Shutdown drains live calls and tears everything down in reverse
// order.
//
// For testing, inject implementations with the With* options. When an option
// is not provided, New creates the backend named in the config through the
// registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/internal/call"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/function"
	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/internal/transcript"
	"github.com/MrWong99/voxbridge/internal/transcript/phonetic"
	"github.com/MrWong99/voxbridge/pkg/telephony"
)

// WebhookPath is the carrier's inbound-call webhook.
const WebhookPath = "/voice/incoming"

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	mu  sync.Mutex
	cfg *config.Config

	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	telemetry *observe.Provider
	registry  *config.Registry
	dial      call.DialFunc

	functions   function.Backend
	tenants     tenant.Store
	transcripts transcript.Sink
	transcribe  bool

	manager *call.Manager
	health  *health.Handler
	handler http.Handler
	server  *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithFunctions injects a function backend instead of creating one from
// config. The App does not close injected backends.
func WithFunctions(b function.Backend) Option {
	return func(a *App) { a.functions = b }
}

// WithTenants injects a tenant store.
func WithTenants(s tenant.Store) Option {
	return func(a *App) { a.tenants = s }
}

// WithTranscripts injects a transcript sink. A nil sink discards
// transcripts.
func WithTranscripts(s transcript.Sink) Option {
	return func(a *App) { a.transcripts, a.transcribe = s, true }
}

// WithRegistry overrides the backend registry. Default:
// [config.DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel lets config reloads adjust the log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithTelemetry installs the OpenTelemetry provider. Its metrics back the
// /metrics endpoint and it is shut down with the App.
func WithTelemetry(p *observe.Provider) Option {
	return func(a *App) { a.telemetry = p }
}

// WithMetrics sets the instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDial overrides how calls reach the voice agent.
func WithDial(d call.DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	env := config.Env{Logger: a.log, Metrics: a.metrics}

	if err := a.initBackends(ctx, env); err != nil {
		a.runClosers()
		return nil, err
	}

	a.manager = call.NewManager(cfg.CallConfig(), call.Deps{
		Tenants:     a.tenants,
		Functions:   a.functions,
		Catalog:     a.functions,
		Transcripts: a.transcripts,
		Metrics:     a.metrics,
		Logger:      a.log,
		Matcher:     phonetic.New(),
		Dial:        a.dial,
	})

	a.health = health.New(a.checkers()...).WithInfo(
		health.Info{Name: "active_calls", Value: func() any { return a.manager.Count() }},
		health.Info{Name: "calls", Value: func() any { return a.manager.Sessions() }},
	)

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.HandleFunc("GET "+cfg.Telephony.StreamPath, a.serveStream)
	mux.HandleFunc("POST "+WebhookPath, a.serveWebhook)
	if a.telemetry != nil && cfg.Observability.MetricsEnabled() {
		mux.Handle("GET /metrics", a.telemetry.Handler())
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBackends(ctx context.Context, env config.Env) error {
	if a.tenants == nil {
		s, err := a.registry.CreateTenants(ctx, a.cfg, env)
		if err != nil {
			return fmt.Errorf("app: init tenants: %w", err)
		}
		a.tenants = s
		a.addCloser(s)
	}
	if a.functions == nil {
		b, err := a.registry.CreateFunctions(ctx, a.cfg, env)
		if err != nil {
			return fmt.Errorf("app: init functions: %w", err)
		}
		a.functions = b
		a.closers = append(a.closers, b.Close)
	}
	if !a.transcribe {
		s, err := a.registry.CreateTranscripts(ctx, a.cfg, env)
		if err != nil {
			return fmt.Errorf("app: init transcripts: %w", err)
		}
		a.transcripts = s
		a.addCloser(s)
	}
	a.log.Info("backends ready",
		"tenants", a.cfg.Tenants.Store,
		"functions", a.cfg.Functions.Backend,
		"transcripts", a.cfg.Transcripts.Sink,
	)
	return nil
}

// addCloser registers v's Close method, in either of its common shapes.
func (a *App) addCloser(v any) {
	switch c := v.(type) {
	case interface{ Close() error }:
		a.closers = append(a.closers, c.Close)
	case interface{ Close() }:
		a.closers = append(a.closers, func() error { c.Close(); return nil })
	}
}

func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.tenants.(health.Pinger); ok {
		cs = append(cs, health.PingChecker("tenants", p))
	}
	if p, ok := a.transcripts.(health.Pinger); ok {
		cs = append(cs, health.PingChecker("transcripts", p))
	}
	cs = append(cs, health.Checker{Name: "functions", Check: func(ctx context.Context) error {
		schemas, err := a.functions.Schemas(ctx)
		if err != nil {
			return err
		}
		if len(schemas) == 0 {
			return errors.New("empty function catalogue")
		}
		return nil
	}})
	return cs
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Manager returns the call manager.
func (a *App) Manager() *call.Manager { return a.manager }

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled or the
// listener fails. It does not shut down live calls; call Shutdown for that.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", ln.Addr().String(), "stream_path", a.cfg.Telephony.StreamPath)
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// serveStream upgrades the carrier's media-stream request and runs the call.
func (a *App) serveStream(w http.ResponseWriter, r *http.Request) {
	tel, err := telephony.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("media stream upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	// The manager logs the outcome.
	_ = a.manager.Serve(r.Context(), tel)
}

// serveWebhook answers the carrier's inbound-call webhook with TwiML that
// connects the call to the media stream.
func (a *App) serveWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	cfg := a.Config()

	tenantID := r.Form.Get("tenant_id")
	if tenantID == "" {
		tenantID = cfg.Tenants.Default
	}
	if tenantID == "" {
		http.Error(w, "no tenant", http.StatusBadRequest)
		return
	}

	var params []telephony.StreamParameter
	params = append(params, telephony.StreamParameter{Name: "tenant_id", Value: tenantID})
	if sid := r.Form.Get("CallSid"); sid != "" {
		params = append(params, telephony.StreamParameter{Name: "call_id", Value: sid})
	}

	doc, err := telephony.ConnectStreamTwiML(streamURL(cfg, r), params...)
	if err != nil {
		a.log.Error("render twiml", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.log.Info("inbound call", "tenant_id", tenantID, "call_sid", r.Form.Get("CallSid"), "from", r.Form.Get("From"))
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(doc)
}

// streamURL is the wss:// address of the media-stream endpoint, derived
// from server.public_url or, without one, from the request.
func streamURL(cfg *config.Config, r *http.Request) string {
	u := &url.URL{Scheme: "wss", Host: r.Host}
	if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		u.Scheme = "ws"
	}
	if cfg.Server.PublicURL != "" {
		if pu, err := url.Parse(cfg.Server.PublicURL); err == nil {
			u.Host = pu.Host
			u.Path = strings.TrimSuffix(pu.Path, "/")
			u.Scheme = "wss"
			if pu.Scheme == "http" || pu.Scheme == "ws" {
				u.Scheme = "ws"
			}
		}
	}
	u.Path += cfg.Telephony.StreamPath
	return u.String()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of next: the log level, the
// in-memory tenant profiles and the per-call settings used by new calls.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.mu.Unlock()

	d := config.Diff(prev, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TenantsChanged {
		if ms, ok := a.tenants.(*tenant.MemStore); ok {
			ms.Replace(next.Tenants.Profiles)
			a.log.Info("tenant profiles reloaded", "changes", len(d.TenantChanges), "tenants", len(next.Tenants.Profiles))
		}
	}
	if d.CallChanged || d.TenantsChanged {
		a.manager.SetConfig(next.CallConfig())
		a.log.Info("call settings reloaded; live calls keep their settings")
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart", "sections", d.RestartRequired)
	}

	// Keep the restart-only sections as they are running.
	applied := *next
	applied.Server.ListenAddr = prev.Server.ListenAddr
	applied.Server.TLS = prev.Server.TLS
	applied.Telephony.StreamPath = prev.Telephony.StreamPath
	applied.Functions.Backend = prev.Functions.Backend
	applied.Functions.URL = prev.Functions.URL
	applied.Functions.Catalog = prev.Functions.Catalog
	applied.Functions.Breaker = prev.Functions.Breaker
	applied.Tenants.Store = prev.Tenants.Store
	applied.Tenants.DSN = prev.Tenants.DSN
	applied.Transcripts = prev.Transcripts

	a.mu.Lock()
	a.cfg = &applied
	a.mu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown fails readiness, stops accepting connections, ends live calls
// and tears down the backends in reverse-init order. It respects the ctx
// deadline and is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "active_calls", a.manager.Count())
		a.health.SetDraining(true)

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.runClosers(); err != nil {
			errs = append(errs, err)
		}
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: telemetry shutdown: %w", err))
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

func (a *App) runClosers() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
