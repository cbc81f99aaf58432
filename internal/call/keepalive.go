package call

import "time"

// Gate reports whether a keep-alive may be sent. [voiceagent.Machine]
// satisfies it: Ready and no function call in flight.
type Gate interface {
	KeepAliveAllowed() bool
}

// KeepAlive owns the keep-alive ticker of one session. On every tick of
// [KeepAlive.C] the owner asks [KeepAlive.Due] whether to send. A suppressed
// tick is not queued or retried; the next tick decides again.
//
// KeepAlive is not safe for concurrent use.
type KeepAlive struct {
	interval time.Duration
	ticker   *time.Ticker
	stopped  bool

	sent    int64
	failed  int64
	skipped int64
}

// NewKeepAlive returns a stopped supervisor ticking every interval.
func NewKeepAlive(interval time.Duration) *KeepAlive {
	return &KeepAlive{interval: interval}
}

// Start begins ticking. It is a no-op once running or stopped.
func (k *KeepAlive) Start() {
	if k.ticker != nil || k.stopped || k.interval <= 0 {
		return
	}
	k.ticker = time.NewTicker(k.interval)
}

// C returns the tick channel, or nil when not running.
func (k *KeepAlive) C() <-chan time.Time {
	if k.ticker == nil {
		return nil
	}
	return k.ticker.C
}

// Due reports whether a keep-alive should be sent now. A suppressed tick is
// counted as skipped; the owner reports the write with [KeepAlive.Record].
// open is the state of the upstream socket.
func (k *KeepAlive) Due(open bool, g Gate) bool {
	if open && g.KeepAliveAllowed() {
		return true
	}
	k.skipped++
	return false
}

// Record counts the outcome of a keep-alive write.
func (k *KeepAlive) Record(err error) {
	if err != nil {
		k.failed++
		return
	}
	k.sent++
}

// Sent returns the number of keep-alives written successfully.
func (k *KeepAlive) Sent() int64 { return k.sent }

// Failed returns the number of keep-alive writes that failed.
func (k *KeepAlive) Failed() int64 { return k.failed }

// Skipped returns the number of suppressed ticks.
func (k *KeepAlive) Skipped() int64 { return k.skipped }

// Stop cancels the ticker. It is idempotent.
func (k *KeepAlive) Stop() {
	if k.ticker != nil {
		k.ticker.Stop()
		k.ticker = nil
	}
	k.stopped = true
}
