package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrWatcherStopped is returned by [Watcher.Reload] after [Watcher.Stop].
var ErrWatcherStopped = errors.New("config: watcher stopped")

// ChangeFunc receives each accepted config together with what changed.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher keeps the running config in step with its file. The file is
// polled for a new mtime or size; [Watcher.Reload] forces a read, e.g. on
// SIGHUP. An edit reaches the callback only if it parses, validates and
// changes at least one setting. Rejected edits leave the current config in
// place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	// checkMu serializes checks so callbacks observe configs in file order.
	checkMu sync.Mutex
	state   fileState

	mu      sync.Mutex
	current *Config
	stopped bool

	done     chan struct{}
	stopOnce sync.Once
}

// fileState is what the poller compares between ticks.
type fileState struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

func (s fileState) statChanged(info os.FileInfo) bool {
	return !info.ModTime().Equal(s.mtime) || info.Size() != s.size
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds; zero or
// negative disables polling so only [Watcher.Reload] picks up edits.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithLogger sets the logger for reload messages.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the config at path and, unless polling is disabled,
// starts watching it in a background goroutine.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current = cfg
	w.state = st

	if w.interval > 0 {
		go w.poll()
	}
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload reads the file now, regardless of its timestamps. It returns the
// load or validation error of a rejected edit, in which case the current
// config is kept.
func (w *Watcher) Reload() error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return ErrWatcherStopped
	}
	return w.check(true)
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.check(false); err != nil {
				w.log.Warn("config edit rejected, keeping the running config", "path", w.path, "err", err)
			}
		}
	}
}

// check loads the file if forced or if its stat changed, and applies it.
func (w *Watcher) check(force bool) error {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		if !w.state.statChanged(info) {
			return nil
		}
	}

	cfg, st, err := w.read()
	if err != nil {
		if !st.mtime.IsZero() {
			w.state = st
		}
		return err
	}
	sameBytes := st.sum == w.state.sum
	w.state = st
	if sameBytes {
		return nil
	}

	old := w.Current()
	d := Diff(old, cfg)
	if d.Empty() {
		w.log.Debug("config file rewritten without effective changes", "path", w.path)
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.log.Info("config reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"tenant_changes", len(d.TenantChanges),
		"call_settings_changed", d.CallChanged,
		"restart_required", d.RestartRequired,
	)

	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return nil
}

// read loads and validates the file and captures its state.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		// Remember the state so an unchanged bad file is not re-parsed on
		// every tick.
		return nil, st, err
	}
	return cfg, st, nil
}
