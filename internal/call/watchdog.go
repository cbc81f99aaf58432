package call

import (
	"time"

	"github.com/MrWong99/voxbridge/internal/transcript/phonetic"
)

// Watchdog notices when the caller says something that should lead to a
// function call (e.g. "book an appointment") and the agent never issues
// one. It is diagnostic only: an expired watchdog is logged and the call
// carries on.
//
// Watchdog is not safe for concurrent use.
type Watchdog struct {
	matcher *phonetic.Matcher
	phrases []string
	timeout time.Duration

	armed    bool
	phrase   string
	deadline time.Time
}

// NewWatchdog returns a watchdog for phrases. A nil matcher uses the
// default thresholds.
func NewWatchdog(phrases []string, timeout time.Duration, m *phonetic.Matcher) *Watchdog {
	if m == nil {
		m = phonetic.New()
	}
	return &Watchdog{matcher: m, phrases: phrases, timeout: timeout}
}

// Observe scans a caller utterance. If it contains a trigger phrase and the
// watchdog is idle, the watchdog is armed until now+timeout.
func (w *Watchdog) Observe(text string, now time.Time) (phrase string, armed bool) {
	if w.armed || len(w.phrases) == 0 || text == "" {
		return "", false
	}
	p, _, ok := w.matcher.Find(text, w.phrases)
	if !ok {
		return "", false
	}
	w.armed = true
	w.phrase = p
	w.deadline = now.Add(w.timeout)
	return p, true
}

// Satisfy disarms the watchdog because a function call arrived.
func (w *Watchdog) Satisfy() {
	w.armed = false
	w.phrase = ""
}

// Check reports an expired watchdog once and disarms it.
func (w *Watchdog) Check(now time.Time) (phrase string, expired bool) {
	if !w.armed || now.Before(w.deadline) {
		return "", false
	}
	phrase = w.phrase
	w.Satisfy()
	return phrase, true
}

// Armed reports whether a function call is currently expected.
func (w *Watchdog) Armed() bool { return w.armed }
