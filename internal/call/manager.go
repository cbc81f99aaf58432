package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
)

var (
	// ErrSessionExists is returned when a stream starts for a call id that
	// already has a live session.
	ErrSessionExists = errors.New("call: session already exists")

	// ErrShuttingDown is returned for calls arriving after Shutdown.
	ErrShuttingDown = errors.New("call: manager is shutting down")
)

// Manager tracks the live sessions of a process. Each call gets its own
// [Session]; the manager only indexes them by call id. All methods are safe
// for concurrent use.
type Manager struct {
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	running  map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewManager returns a Manager creating sessions from cfg and deps.
func NewManager(cfg Config, deps Deps) *Manager {
	deps = deps.withDefaults()
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		sessions: make(map[string]*Session),
		running:  make(map[*Session]struct{}),
	}
}

// SetConfig replaces the configuration used for calls that start after it
// returns. Live calls keep theirs.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Config returns the configuration for new calls.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Serve runs one call on tel until it ends. See [Session.Run] for the
// returned error.
func (m *Manager) Serve(ctx context.Context, tel TelephonyLeg) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		_ = tel.Close(websocket.StatusGoingAway, "shutting down")
		return ErrShuttingDown
	}
	s, err := NewSession(m.cfg, m.deps)
	if err != nil {
		m.mu.Unlock()
		_ = tel.Close(websocket.StatusInternalError, "session setup failed")
		return err
	}
	s.onStart = m.register
	m.running[s] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()
	defer m.unregister(s)

	err = s.Run(ctx, tel)
	info := s.Info()
	switch {
	case err == nil, errors.Is(err, ErrSilenceTimeout):
	case errors.Is(err, ErrSessionExists), errors.Is(err, ErrShuttingDown):
		m.log.Warn("call rejected", "call_id", info.CallID, "err", err)
	default:
		m.log.Error("call failed", "call_id", info.CallID, "tenant_id", info.TenantID, "reason", s.EndReason(), "err", err)
	}
	return err
}

func (m *Manager) register(s *Session) error {
	info := s.Info()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	if _, ok := m.sessions[info.CallID]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, info.CallID)
	}
	m.sessions[info.CallID] = s
	return nil
}

func (m *Manager) unregister(s *Session) {
	info := s.Info()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, s)
	if cur, ok := m.sessions[info.CallID]; ok && cur == s {
		delete(m.sessions, info.CallID)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sessions returns the identities of the live sessions sorted by call id.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out
}

// Shutdown rejects new calls, stops every running session (including those
// still waiting for their stream to start) and waits for them
// to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	live := make([]*Session, 0, len(m.running))
	for s := range m.running {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		n := len(m.running)
		m.mu.Unlock()
		return fmt.Errorf("call: shutdown: %d session(s) still running: %w", n, ctx.Err())
	}
}
