// Package call runs the per-call bridge between a telephony media stream and
// a cloud voice agent.
//
// A [Session] exclusively owns everything scoped to one call: the jitter
// buffered pacer, the upstream handshake state machine, the keep-alive and
// silence supervisors, the function-call dispatcher and the transcript. All
// of it is mutated from a single event-loop goroutine; two reader goroutines
// feed it events from the legs and function-call batches run on their own
// goroutine so the pacer never waits on business logic. No state is shared
// between sessions.
//
// A [Manager] tracks the live sessions of a process.
package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/function"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/internal/transcript"
	"github.com/MrWong99/voxbridge/internal/transcript/phonetic"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/telephony"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

var (
	// ErrSilenceTimeout is returned by [Session.Run] when the call was ended
	// by the silence supervisor. It is a termination reason, not a failure.
	ErrSilenceTimeout = errors.New("call: ended after prolonged silence")

	// ErrNoTenant is returned when neither the stream nor the configuration
	// names a tenant.
	ErrNoTenant = errors.New("call: no tenant id")
)

// Reasons a call ended, recorded in metrics and the transcript.
const (
	EndCallerHangup  = "caller_hangup"
	EndUpstreamClose = "upstream_closed"
	EndUpstreamError = "upstream_error"
	EndTelephonyErr  = "telephony_error"
	EndSilence       = "silence_timeout"
	EndHandshake     = "handshake_failed"
	EndSetup         = "setup_failed"
	EndShutdown      = "shutdown"
)

// TelephonyLeg is the caller side of a session. [telephony.Conn] satisfies it.
type TelephonyLeg interface {
	ReadEnvelope(ctx context.Context) (telephony.Envelope, error)
	telephony.MediaWriter
	Close(status websocket.StatusCode, reason string) error
}

// UpstreamLeg is the voice-agent side of a session. [voiceagent.Conn]
// satisfies it.
type UpstreamLeg interface {
	Read(ctx context.Context) ([]byte, error)
	WriteJSON(ctx context.Context, v any) error
	WriteAudio(ctx context.Context, audio []byte) error
	Open() bool
	Close() error
}

var (
	_ TelephonyLeg = (*telephony.Conn)(nil)
	_ UpstreamLeg  = (*voiceagent.Conn)(nil)
)

// DialFunc opens the upstream leg.
type DialFunc func(ctx context.Context, cfg voiceagent.DialConfig) (UpstreamLeg, error)

// Deps are the collaborators a session uses. Tenants and Functions are
// required.
type Deps struct {
	Tenants   tenant.Store
	Functions function.Handler

	// Catalog supplies the function schemas. When nil, Functions is used if
	// it implements [function.Catalog].
	Catalog function.Catalog

	// Transcripts receives the transcript when the call ends. Optional.
	Transcripts transcript.Sink

	Metrics *observe.Metrics
	Logger  *slog.Logger
	Matcher *phonetic.Matcher

	// Dial defaults to [voiceagent.Dial].
	Dial DialFunc

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Dial == nil {
		d.Dial = func(ctx context.Context, cfg voiceagent.DialConfig) (UpstreamLeg, error) {
			return voiceagent.Dial(ctx, cfg)
		}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Catalog == nil {
		if c, ok := d.Functions.(function.Catalog); ok {
			d.Catalog = c
		}
	}
	return d
}

// Info identifies a running session. It is fixed once the stream has
// started.
type Info struct {
	CallID    string    `json:"call_id"`
	StreamSID string    `json:"stream_sid"`
	TenantID  string    `json:"tenant_id"`
	StartedAt time.Time `json:"started_at"`
}

// ending is returned by event handlers to stop the loop.
type ending struct {
	reason string
	err    error
}

type telEvent struct {
	env telephony.Envelope
	err error
}

type upEvent struct {
	data []byte
	err  error
}

// Session is one bridged call. Create it with [NewSession] and drive it with
// [Session.Run]; a Session is single-use.
type Session struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	// onStart is called once the call is identified and may veto it.
	onStart func(*Session) error

	mu      sync.Mutex
	info    Info
	cancel  context.CancelFunc
	stopped bool

	// Everything below is owned by the event loop.
	tel        TelephonyLeg
	up         UpstreamLeg
	machine    *voiceagent.Machine
	pacer      *audio.Pacer
	relay      *telephony.Relay
	keepAlive  *KeepAlive
	silence    *Silence
	dispatcher *Dispatcher
	watchdog   *Watchdog
	transcript transcript.Log

	settings  voiceagent.Settings
	dialedAt  time.Time
	handshake *time.Timer
	pending   [][]voiceagent.FunctionInvocation
	inFlight  bool
	endReason string

	group       *errgroup.Group
	batchCtx    context.Context
	batchCancel context.CancelFunc
	telEvents   chan telEvent
	upEvents    chan upEvent
	batchDone   chan error
	loopDone    chan struct{}
	closeOnce   sync.Once
}

// NewSession validates cfg and builds the per-call components.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	if deps.Tenants == nil {
		return nil, errors.New("call: tenant store is required")
	}
	if deps.Functions == nil {
		return nil, errors.New("call: function handler is required")
	}
	pacer, err := audio.NewPacer(audio.PacerConfig{
		FrameSize:   cfg.FrameSize,
		Interval:    cfg.TickInterval,
		RampSamples: cfg.RampSamples,
	})
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}

	m := voiceagent.NewMachine()
	s := &Session{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		machine:   m,
		pacer:     pacer,
		keepAlive: NewKeepAlive(cfg.KeepAliveInterval),
		silence:   NewSilence(cfg.Silence),
		watchdog:  NewWatchdog(cfg.TriggerPhrases, cfg.WatchdogTimeout, deps.Matcher),
		telEvents: make(chan telEvent, 16),
		upEvents:  make(chan upEvent, 64),
		batchDone: make(chan error, 1),
		loopDone:  make(chan struct{}),
	}
	m.OnTransition = func(from, to voiceagent.State, trigger string) {
		s.log.Debug("upstream state changed", "from", from, "to", to, "trigger", trigger)
	}
	return s, nil
}

// Info returns the session identity. It is empty until the stream starts.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Stop ends the session as if the process were shutting down. It is safe
// to call from any goroutine, at any time.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// EndReason returns why the call ended, once Run has returned.
func (s *Session) EndReason() string { return s.endReason }

// Run bridges the call until either leg closes, the silence supervisor ends
// it or ctx is cancelled. A clean end returns nil; a silence termination
// returns [ErrSilenceTimeout]; setup, handshake and abnormal-close failures
// are returned as errors. Both legs are closed when Run returns.
func (s *Session) Run(ctx context.Context, tel TelephonyLeg) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	if s.stopped {
		cancel()
	}
	s.mu.Unlock()
	s.tel = tel

	start, err := s.awaitStart(ctx)
	if err != nil || start == nil {
		s.closeLegs(statusFor(err), "no stream")
		return err
	}
	s.identify(start)

	if s.onStart != nil {
		if err := s.onStart(s); err != nil {
			s.closeLegs(websocket.StatusPolicyViolation, "rejected")
			return err
		}
	}

	ctx, span := observe.StartSpan(ctx, "call.session")
	defer span.End()
	info := s.Info()
	span.SetAttributes(
		attribute.String("call.id", info.CallID),
		attribute.String("call.tenant_id", info.TenantID),
	)
	s.metrics.ActiveCalls.Add(ctx, 1)
	defer s.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("call started")
	err = s.bridge(ctx, start)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil && !errors.Is(err, ErrSilenceTimeout) {
		span.RecordError(err)
	}
	s.finish(ctx)
	return err
}

// awaitStart reads the telephony leg until the stream starts. A leg that
// stops or closes normally first yields (nil, nil).
func (s *Session) awaitStart(ctx context.Context) (*telephony.Start, error) {
	for {
		env, err := s.tel.ReadEnvelope(ctx)
		switch {
		case errors.Is(err, telephony.ErrMalformedEnvelope):
			s.log.Warn("dropping malformed telephony frame", "err", err)
			continue
		case err != nil:
			if isNormalTelephonyClose(err) || ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("call: await stream start: %w", err)
		}

		switch env.Event {
		case telephony.EventStart:
			if env.Start == nil {
				s.log.Warn("start event without payload")
				continue
			}
			if env.Start.StreamSID == "" {
				env.Start.StreamSID = env.StreamSID
			}
			return env.Start, nil
		case telephony.EventStop:
			return nil, nil
		case telephony.EventConnected:
			s.log.Debug("telephony leg connected", "protocol", env.Protocol, "version", env.Version)
		default:
			s.log.Debug("ignoring telephony event before start", "event", env.Event)
		}
	}
}

// identify fixes the session identity and scopes the logger to it.
func (s *Session) identify(start *telephony.Start) {
	callID := start.CallID()
	if callID == "" {
		callID = uuid.NewString()
	}
	tenantID := start.TenantID()
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}

	s.mu.Lock()
	s.info = Info{
		CallID:    callID,
		StreamSID: start.StreamSID,
		TenantID:  tenantID,
		StartedAt: s.deps.Now(),
	}
	s.mu.Unlock()

	s.log = s.log.With("call_id", callID, "stream_sid", start.StreamSID, "tenant_id", tenantID)
}

// bridge prepares the agent configuration, dials upstream and runs the
// event loop.
func (s *Session) bridge(ctx context.Context, start *telephony.Start) error {
	info := s.Info()
	if err := s.prepare(ctx, info); err != nil {
		s.endReason = EndSetup
		s.closeLegs(websocket.StatusPolicyViolation, "call setup failed")
		return err
	}

	s.dialedAt = s.deps.Now()
	up, err := s.deps.Dial(ctx, voiceagent.DialConfig{
		URL:            s.cfg.Agent.URL,
		APIKey:         s.cfg.Agent.APIKey,
		Auth:           s.cfg.Agent.Auth,
		ConnectTimeout: s.cfg.ConnectTimeout,
	})
	if err != nil {
		s.endReason = EndHandshake
		s.closeLegs(websocket.StatusTryAgainLater, "voice agent unavailable")
		return fmt.Errorf("%w: %w", voiceagent.ErrHandshake, err)
	}
	s.up = up
	if _, err := s.machine.Fire(voiceagent.TriggerOpen); err != nil {
		s.log.Warn("unexpected state at open", "err", err)
	}

	s.relay = telephony.NewRelay(s.pacer, s.tel, s.up, s.cfg.FrameSize, s.log)
	s.relay.SetStreamSID(start.StreamSID)
	s.dispatcher = NewDispatcher(s.deps.Functions, s.cfg.FunctionTimeout, s.metrics, s.log)
	s.handshake = time.NewTimer(s.cfg.HandshakeTimeout)

	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.batchCtx, s.batchCancel = context.WithCancel(gctx)
	// Cancelling a read tears down the websocket without a close frame, so
	// the readers are stopped by closeLegs instead.
	rctx := context.WithoutCancel(gctx)
	g.Go(func() error { s.readTelephony(rctx); return nil })
	g.Go(func() error { s.readUpstream(rctx); return nil })
	g.Go(func() error { return s.loop(gctx) })
	return g.Wait()
}

// prepare resolves the tenant and builds the Settings message.
func (s *Session) prepare(ctx context.Context, info Info) error {
	if info.TenantID == "" {
		return ErrNoTenant
	}
	profile, err := s.deps.Tenants.Get(ctx, info.TenantID)
	if err != nil {
		return fmt.Errorf("call: tenant %q: %w", info.TenantID, err)
	}
	var schemas []voiceagent.FunctionSchema
	if s.deps.Catalog != nil {
		all, err := s.deps.Catalog.Schemas(ctx)
		if err != nil {
			return fmt.Errorf("call: function catalogue: %w", err)
		}
		schemas = function.ForProfile(all, profile)
	}
	settings, err := BuildSettings(s.cfg, profile, schemas)
	if err != nil {
		return err
	}
	s.settings = settings
	return nil
}

// finish stops the remaining timers, persists the transcript and records
// call metrics.
func (s *Session) finish(ctx context.Context) {
	s.pacer.Stop()
	s.keepAlive.Stop()
	s.silence.Stop()
	if s.handshake != nil {
		s.handshake.Stop()
	}
	if s.endReason == "" {
		s.endReason = EndShutdown
	}

	info := s.Info()
	ended := s.deps.Now()
	ctx = context.WithoutCancel(ctx)
	s.metrics.RecordCallEnd(ctx, s.endReason, ended.Sub(info.StartedAt))
	if s.endReason == EndSilence {
		s.metrics.SilenceTerminations.Add(ctx, 1)
	}

	stats := s.pacer.Stats()
	s.log.Info("call ended",
		"reason", s.endReason,
		"duration", ended.Sub(info.StartedAt).Round(time.Millisecond),
		"frames", stats.Frames,
		"underflows", stats.Underflows,
		"keepalives", s.keepAlive.Sent(),
		"keepalive_failures", s.keepAlive.Failed(),
		"transcript_entries", s.transcript.Len(),
	)

	if s.deps.Transcripts == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, s.cfg.TranscriptTimeout)
	defer cancel()
	rec := transcript.Record{
		CallID:    info.CallID,
		StreamSID: info.StreamSID,
		TenantID:  info.TenantID,
		StartedAt: info.StartedAt,
		EndedAt:   ended,
		EndReason: s.endReason,
		Entries:   s.transcript.Entries(),
	}
	if err := s.deps.Transcripts.Save(saveCtx, rec); err != nil {
		s.log.Error("failed to save transcript", "err", err)
	}
}

// closeLegs closes both legs once.
func (s *Session) closeLegs(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		if s.up != nil {
			if err := s.up.Close(); err != nil {
				s.log.Debug("closing voice agent leg", "err", err)
			}
		}
		if err := s.tel.Close(status, reason); err != nil {
			s.log.Debug("closing telephony leg", "err", err)
		}
	})
}

// ── Readers ──────────────────────────────────────────────────────────────────

func (s *Session) readTelephony(ctx context.Context) {
	for {
		env, err := s.tel.ReadEnvelope(ctx)
		if errors.Is(err, telephony.ErrMalformedEnvelope) {
			s.log.Warn("dropping malformed telephony frame", "err", err)
			continue
		}
		select {
		case s.telEvents <- telEvent{env: env, err: err}:
		case <-s.loopDone:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) readUpstream(ctx context.Context) {
	for {
		data, err := s.up.Read(ctx)
		select {
		case s.upEvents <- upEvent{data: data, err: err}:
		case <-s.loopDone:
			return
		}
		if err != nil {
			return
		}
	}
}

// ── Event loop ───────────────────────────────────────────────────────────────

// loop is the only goroutine that touches per-call state after the dial.
func (s *Session) loop(ctx context.Context) error {
	s.silence.Start()
	status, reason := websocket.StatusNormalClosure, "call ended"
	defer func() {
		close(s.loopDone)
		s.batchCancel()
		s.pacer.Stop()
		s.keepAlive.Stop()
		s.silence.Stop()
		s.handshake.Stop()
		s.machine.Fire(voiceagent.TriggerClosed)
		s.closeLegs(status, reason)
	}()

	for {
		var end *ending
		select {
		case <-ctx.Done():
			end = &ending{reason: EndShutdown}
			status, reason = websocket.StatusGoingAway, "shutting down"
		case ev := <-s.telEvents:
			end = s.onTelephony(ctx, ev)
		case ev := <-s.upEvents:
			end = s.onUpstream(ctx, ev)
		case <-s.pacer.C():
			s.onPacerTick(ctx)
		case <-s.keepAlive.C():
			s.onKeepAliveTick(ctx)
		case <-s.silence.C():
			end = s.onSilenceTick(ctx)
		case <-s.handshake.C:
			end = &ending{
				reason: EndHandshake,
				err:    fmt.Errorf("%w: no SettingsApplied within %s", voiceagent.ErrHandshake, s.cfg.HandshakeTimeout),
			}
		case err := <-s.batchDone:
			s.onBatchDone(ctx, err)
		}
		if end != nil {
			s.endReason = end.reason
			if end.err != nil && end.reason != EndSilence {
				status, reason = websocket.StatusInternalError, end.reason
			}
			return end.err
		}
	}
}

func (s *Session) onTelephony(ctx context.Context, ev telEvent) *ending {
	if ev.err != nil {
		if isNormalTelephonyClose(ev.err) {
			s.log.Info("caller hung up")
			return &ending{reason: EndCallerHangup}
		}
		if ctx.Err() != nil {
			return &ending{reason: EndShutdown}
		}
		s.log.Warn("telephony leg failed", "err", ev.err)
		return &ending{reason: EndTelephonyErr, err: fmt.Errorf("call: telephony leg: %w", ev.err)}
	}

	env := ev.env
	switch env.Event {
	case telephony.EventMedia:
		s.onInboundMedia(ctx, env.Media)
	case telephony.EventStop:
		s.log.Info("stream stopped by carrier")
		return &ending{reason: EndCallerHangup}
	case telephony.EventMark:
		if env.Mark != nil {
			s.log.Debug("playback mark reached", "mark", env.Mark.Name)
		}
	case telephony.EventDTMF:
		if env.DTMF != nil {
			s.log.Info("dtmf received", "digit", env.DTMF.Digit)
			s.transcript.Append(transcript.SpeakerDTMF, env.DTMF.Digit, s.deps.Now())
		}
	case telephony.EventStart:
		s.log.Warn("ignoring repeated start event")
	default:
		s.log.Debug("ignoring telephony event", "event", env.Event)
	}
	return nil
}

func (s *Session) onInboundMedia(ctx context.Context, m *telephony.Media) {
	if m == nil {
		s.metrics.RecordInbound(ctx, "dropped")
		return
	}
	if !s.machine.Ready() {
		s.metrics.RecordInbound(ctx, "not_ready")
		return
	}
	if _, err := s.relay.OnInboundFrame(ctx, m.Payload); err != nil {
		s.metrics.RecordInbound(ctx, "dropped")
		if !errors.Is(err, telephony.ErrEmptyPayload) && !errors.Is(err, telephony.ErrMalformedPayload) &&
			!errors.Is(err, voiceagent.ErrClosed) {
			s.log.Warn("forwarding caller audio failed", "err", err)
		}
		return
	}
	s.metrics.RecordInbound(ctx, "forwarded")
}

func (s *Session) onUpstream(ctx context.Context, ev upEvent) *ending {
	if ev.err != nil {
		return s.onUpstreamClosed(ctx, ev.err)
	}
	msg := voiceagent.Classify(ev.data)
	s.metrics.RecordUpstreamMessage(ctx, msg.Kind.String(), msg.Type)
	switch msg.Kind {
	case voiceagent.KindEmpty:
		s.log.Debug("dropping empty upstream frame")
	case voiceagent.KindAudio:
		s.pacer.Feed(msg.Data)
	case voiceagent.KindControl:
		return s.handleControl(ctx, msg)
	}
	return nil
}

func (s *Session) onUpstreamClosed(ctx context.Context, err error) *ending {
	if _, ferr := s.machine.Fire(voiceagent.TriggerClosed); ferr != nil {
		s.log.Debug("state machine close", "err", ferr)
	}
	switch {
	case voiceagent.IsNormalClosure(err):
		s.log.Info("voice agent closed the connection", "status", websocket.CloseStatus(err))
		return &ending{reason: EndUpstreamClose}
	case ctx.Err() != nil:
		return &ending{reason: EndShutdown}
	}
	s.log.Warn("voice agent connection lost", "err", err)
	if !errors.Is(err, voiceagent.ErrAbnormalClose) {
		err = fmt.Errorf("%w: %w", voiceagent.ErrAbnormalClose, err)
	}
	return &ending{reason: EndUpstreamError, err: err}
}

func (s *Session) onPacerTick(ctx context.Context) {
	s.metrics.JitterBufferDepth.Record(ctx, int64(s.pacer.Buffered()))
	emit, err := s.relay.EmitOutbound(ctx)
	if err != nil {
		s.metrics.FrameWriteErrors.Add(ctx, 1)
		s.log.Debug("dropping outbound frame", "size", emit.Size, "err", err)
		return
	}
	if emit.Sent {
		s.metrics.RecordFrame(ctx, emit.Audio)
	}
}

func (s *Session) onKeepAliveTick(ctx context.Context) {
	if !s.keepAlive.Due(s.up.Open(), s.machine) {
		return
	}
	err := s.up.WriteJSON(ctx, voiceagent.NewKeepAlive())
	s.keepAlive.Record(err)
	if err != nil {
		s.log.Debug("keep-alive failed", "err", err)
		return
	}
	s.metrics.KeepAlives.Add(ctx, 1)
}

func (s *Session) onSilenceTick(ctx context.Context) *ending {
	now := s.deps.Now()
	if phrase, expired := s.watchdog.Check(now); expired {
		s.log.Warn("expected function call did not happen", "trigger", phrase, "timeout", s.cfg.WatchdogTimeout)
	}

	switch s.silence.Check(now) {
	case SilencePrompt:
		s.log.Info("caller silent, checking in", "prompt", s.silence.Prompts())
		s.inject(ctx, s.cfg.Silence.PromptText)
	case SilenceFarewell:
		s.log.Info("caller silent, saying goodbye", "grace", s.cfg.Silence.Grace)
		s.inject(ctx, s.cfg.Silence.FarewellText)
	case SilenceTerminate:
		return &ending{reason: EndSilence, err: ErrSilenceTimeout}
	}
	return nil
}

// inject asks the agent to speak text.
func (s *Session) inject(ctx context.Context, text string) {
	if err := s.up.WriteJSON(ctx, voiceagent.NewInjectAgentMessage(text)); err != nil {
		s.log.Warn("inject agent message failed", "err", err)
	}
}

// ── Function calls ───────────────────────────────────────────────────────────

// enqueueBatch dispatches invs now, or after the batch in flight.
func (s *Session) enqueueBatch(invs []voiceagent.FunctionInvocation) {
	if s.inFlight {
		s.pending = append(s.pending, invs)
		s.log.Debug("queued function call batch", "queued", len(s.pending))
		return
	}
	s.startBatch(invs)
}

func (s *Session) startBatch(invs []voiceagent.FunctionInvocation) {
	s.inFlight = true
	s.machine.SetFunctionCallInFlight(true)
	s.silence.Hold()

	info := s.Info()
	ref := CallRef{CallID: info.CallID, TenantID: info.TenantID}
	ctx := s.batchCtx
	s.group.Go(func() error {
		_, err := s.dispatcher.Dispatch(ctx, ref, invs, s.up)
		select {
		case s.batchDone <- err:
		case <-s.loopDone:
		}
		return nil
	})
}

func (s *Session) onBatchDone(_ context.Context, err error) {
	if err != nil {
		s.log.Warn("function call batch incomplete", "err", err)
	}
	if len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.startBatch(next)
		return
	}
	s.inFlight = false
	s.machine.SetFunctionCallInFlight(false)
	s.silence.Release(s.deps.Now())
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func isNormalTelephonyClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

func statusFor(err error) websocket.StatusCode {
	if err != nil {
		return websocket.StatusInternalError
	}
	return websocket.StatusNormalClosure
}

// decodeBase64 accepts standard and unpadded encodings.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// decode unmarshals a control message into v.
func decode(msg voiceagent.Message, v any) error {
	return json.Unmarshal(msg.Data, v)
}
