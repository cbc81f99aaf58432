package call

import "time"

// SilenceAction is what the owner of a [Silence] must do after a check.
type SilenceAction int

const (
	// SilenceNone: keep going.
	SilenceNone SilenceAction = iota

	// SilencePrompt: ask the caller whether they are still there.
	SilencePrompt

	// SilenceFarewell: inject the farewell. The shutdown is now committed.
	SilenceFarewell

	// SilenceTerminate: the grace period after the farewell elapsed; end
	// the call.
	SilenceTerminate
)

// String returns the action name.
func (a SilenceAction) String() string {
	switch a {
	case SilenceNone:
		return "none"
	case SilencePrompt:
		return "prompt"
	case SilenceFarewell:
		return "farewell"
	case SilenceTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Silence tracks the silence window of one call. The window is armed when
// the agent finishes speaking, reset by caller speech and paused while the
// agent is thinking. A function call in flight holds the window: arming,
// disarming or resetting it never lifts the hold, only [Silence.Release]
// does. [Silence.Check]
// is a pure step over the current time so the sequence can be driven
// deterministically; the ticker returned by [Silence.C] only schedules it.
//
// Once the farewell has been issued the shutdown is committed: later speech
// no longer cancels it and the call ends after the grace period.
//
// Silence is not safe for concurrent use.
type Silence struct {
	threshold  time.Duration
	grace      time.Duration
	maxPrompts int
	interval   time.Duration

	armed   bool
	paused  bool
	held    bool
	start   time.Time
	prompts int

	committed  bool
	farewellAt time.Time
	terminated bool

	ticker  *time.Ticker
	stopped bool
}

// NewSilence returns a disarmed supervisor.
func NewSilence(cfg SilenceConfig) *Silence {
	return &Silence{
		threshold:  cfg.Threshold,
		grace:      cfg.Grace,
		maxPrompts: cfg.MaxPrompts,
		interval:   cfg.CheckInterval,
	}
}

// Arm starts a new window at now, replacing any running one. It ends an
// agent-thinking pause; a window armed under a hold stays frozen until
// [Silence.Release].
func (s *Silence) Arm(now time.Time) {
	if s.committed {
		return
	}
	s.armed = true
	s.paused = false
	s.start = now
}

// Reset cancels the window after caller speech and forgets earlier prompts.
func (s *Silence) Reset() {
	if s.committed {
		return
	}
	s.armed = false
	s.paused = false
	s.prompts = 0
}

// Disarm cancels the window without forgetting prompts, e.g. when the agent
// starts speaking.
func (s *Silence) Disarm() {
	if s.committed {
		return
	}
	s.armed = false
	s.paused = false
}

// Hold freezes the window while a function call is answered.
func (s *Silence) Hold() {
	if s.committed {
		return
	}
	s.held = true
}

// Release lifts the hold and restarts an armed window at now.
func (s *Silence) Release(now time.Time) {
	if s.committed || !s.held {
		return
	}
	s.held = false
	if s.armed {
		s.start = now
	}
}

// Pause stops the window from accumulating while the agent is thinking.
func (s *Silence) Pause() {
	if s.committed {
		return
	}
	s.paused = true
}

// Check evaluates the window at now.
func (s *Silence) Check(now time.Time) SilenceAction {
	if s.committed {
		if !s.terminated && now.Sub(s.farewellAt) >= s.grace {
			s.terminated = true
			return SilenceTerminate
		}
		return SilenceNone
	}
	if !s.armed || s.paused || s.held || now.Sub(s.start) < s.threshold {
		return SilenceNone
	}
	if s.prompts < s.maxPrompts {
		s.prompts++
		s.start = now
		return SilencePrompt
	}
	s.committed = true
	s.armed = false
	s.farewellAt = now
	return SilenceFarewell
}

// Armed reports whether a window is running (possibly paused).
func (s *Silence) Armed() bool { return s.armed }

// Paused reports whether the window is paused or held.
func (s *Silence) Paused() bool { return s.paused || s.held }

// Held reports whether a function call holds the window.
func (s *Silence) Held() bool { return s.held }

// Committed reports whether the farewell has been issued.
func (s *Silence) Committed() bool { return s.committed }

// Prompts returns the check-in prompts issued in the current window.
func (s *Silence) Prompts() int { return s.prompts }

// Start begins the check ticker. It is a no-op once running or stopped.
func (s *Silence) Start() {
	if s.ticker != nil || s.stopped || s.interval <= 0 {
		return
	}
	s.ticker = time.NewTicker(s.interval)
}

// C returns the check tick channel, or nil when not running.
func (s *Silence) C() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

// Stop cancels the ticker. It is idempotent.
func (s *Silence) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.stopped = true
}
