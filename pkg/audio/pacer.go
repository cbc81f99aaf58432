package audio

import (
	"errors"
	"fmt"
	"time"
)

// PacerConfig configures a [Pacer].
type PacerConfig struct {
	// FrameSize is the number of bytes emitted per tick (e.g. 160 for 20 ms of
	// 8 kHz μ-law).
	FrameSize int

	// Interval is the tick period. It must match FrameSize at the codec's byte
	// rate; see [FrameInterval].
	Interval time.Duration

	// RampSamples is the length of the linear fade-in applied to the first
	// samples of each new utterance. Zero disables the ramp.
	RampSamples int
}

// FrameInterval returns the playback duration of frameSize bytes at
// bytesPerSecond.
func FrameInterval(frameSize, bytesPerSecond int) time.Duration {
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(frameSize) * time.Second / time.Duration(bytesPerSecond)
}

// PacerStats counts frames handed out by a [Pacer].
type PacerStats struct {
	Frames     int64
	Underflows int64
}

// Pacer decouples when agent audio arrives from when it is sent. Audio is
// queued with [Pacer.Feed]; on every tick of the channel returned by
// [Pacer.C] the owner calls [Pacer.Drain] exactly once and transmits the
// result, which is always one frame: queued audio if available, silence
// otherwise.
//
// Queued bytes leave in the order they were fed. The one exception is the
// fade-in: with a non-zero RampSamples the first samples of every utterance
// are attenuated, so byte-for-byte equality between fed and emitted audio
// holds only with the ramp disabled.
//
// The ticker is created by [Pacer.Start] and released by [Pacer.Stop]. Before
// Start and after Stop, C returns nil, which blocks forever in a select.
//
// Pacer is not safe for concurrent use.
type Pacer struct {
	buf      *JitterBuffer
	interval time.Duration
	ramp     int

	ticker  *time.Ticker
	stopped bool

	// idle is true while the queue has run dry; the next Feed starts a new
	// utterance and gets the fade-in.
	idle    bool
	rampPos int

	stats PacerStats
}

// NewPacer validates cfg and returns a stopped Pacer.
func NewPacer(cfg PacerConfig) (*Pacer, error) {
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("audio: pacer frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("audio: pacer interval must be positive")
	}
	if cfg.RampSamples < 0 {
		cfg.RampSamples = 0
	}
	return &Pacer{
		buf:      NewJitterBuffer(cfg.FrameSize),
		interval: cfg.Interval,
		ramp:     cfg.RampSamples,
		idle:     true,
	}, nil
}

// Start begins ticking. Calling Start on a running or stopped Pacer is a no-op.
func (p *Pacer) Start() {
	if p.ticker != nil || p.stopped {
		return
	}
	p.ticker = time.NewTicker(p.interval)
}

// C returns the tick channel, or nil when the Pacer is not running.
func (p *Pacer) C() <-chan time.Time {
	if p.ticker == nil {
		return nil
	}
	return p.ticker.C
}

// Running reports whether the ticker is active.
func (p *Pacer) Running() bool { return p.ticker != nil }

// Interval returns the tick period.
func (p *Pacer) Interval() time.Duration { return p.interval }

// FrameSize returns the number of bytes produced per tick.
func (p *Pacer) FrameSize() int { return p.buf.FrameSize() }

// Feed appends agent audio to the queue. The first bytes after the queue ran
// dry are faded in.
func (p *Pacer) Feed(data []byte) {
	if len(data) == 0 || p.stopped {
		return
	}
	if p.idle {
		p.idle = false
		p.rampPos = 0
	}
	if p.rampPos < p.ramp {
		data = append([]byte(nil), data...)
		p.rampPos = RampIn(data, p.rampPos, p.ramp)
	}
	p.buf.Write(data)
}

// Drain returns exactly one frame. audio is false when the frame is the
// silence substitute.
func (p *Pacer) Drain() (frame []byte, audio bool) {
	frame, audio = p.buf.Next()
	p.stats.Frames++
	if !audio {
		p.stats.Underflows++
		if p.buf.Len() == 0 {
			p.idle = true
		}
	}
	return frame, audio
}

// Flush pads a trailing partial frame with silence so the end of an
// utterance is played rather than held back.
func (p *Pacer) Flush() { p.buf.Flush() }

// Clear drops all queued audio, e.g. when the caller barges in.
func (p *Pacer) Clear() {
	p.buf.Clear()
	p.idle = true
}

// Buffered returns the number of queued bytes.
func (p *Pacer) Buffered() int { return p.buf.Len() }

// Stats returns the frame counters.
func (p *Pacer) Stats() PacerStats { return p.stats }

// Stop cancels the ticker and releases queued audio. It is idempotent.
func (p *Pacer) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	p.stopped = true
	p.buf.Clear()
}
