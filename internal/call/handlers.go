package call

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voxbridge/internal/transcript"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// controlHandler reacts to one upstream control event. A non-nil ending
// stops the session.
type controlHandler func(s *Session, ctx context.Context, msg voiceagent.Message) *ending

// controlHandlers maps control event types to their handlers. Types not
// listed are logged and ignored.
var controlHandlers = map[string]controlHandler{
	voiceagent.TypeWelcome:              (*Session).onWelcome,
	voiceagent.TypeSettingsApplied:      (*Session).onSettingsApplied,
	voiceagent.TypeConversationText:     (*Session).onConversationText,
	voiceagent.TypeResults:              (*Session).onResults,
	voiceagent.TypeUserStartedSpeaking:  (*Session).onCallerSpeech,
	voiceagent.TypeSpeechStarted:        (*Session).onCallerSpeech,
	voiceagent.TypeUtteranceEnd:         (*Session).onUtteranceEnd,
	voiceagent.TypeAgentThinking:        (*Session).onAgentThinking,
	voiceagent.TypeAgentStartedSpeaking: (*Session).onAgentStartedSpeaking,
	voiceagent.TypeAgentAudioDone:       (*Session).onAgentAudioDone,
	voiceagent.TypeTtsAudio:             (*Session).onTtsAudio,
	voiceagent.TypeFunctionCallRequest:  (*Session).onFunctionCallRequest,
	voiceagent.TypeFunctionCall:         (*Session).onFunctionCallRequest,
	voiceagent.TypeHistory:              (*Session).onHistory,
	voiceagent.TypeError:                (*Session).onAgentError,
	voiceagent.TypeWarning:              (*Session).onAgentError,
}

// readyOnly lists the events that are only meaningful once the agent has
// applied the session settings.
var readyOnly = map[string]bool{
	voiceagent.TypeAgentAudioDone:      true,
	voiceagent.TypeFunctionCallRequest: true,
	voiceagent.TypeFunctionCall:        true,
}

func (s *Session) handleControl(ctx context.Context, msg voiceagent.Message) *ending {
	h, ok := controlHandlers[msg.Type]
	if !ok {
		s.log.Debug("ignoring unrecognised control message", "type", msg.Type, "size", len(msg.Data))
		return nil
	}
	if readyOnly[msg.Type] && !s.machine.Ready() {
		s.log.Warn("dropping control message before settings were applied", "type", msg.Type, "state", s.machine.State())
		return nil
	}
	return h(s, ctx, msg)
}

func (s *Session) onWelcome(ctx context.Context, msg voiceagent.Message) *ending {
	if _, err := s.machine.Fire(voiceagent.TypeWelcome); err != nil {
		s.log.Warn("unexpected Welcome", "err", err)
		return nil
	}
	if err := s.up.WriteJSON(ctx, s.settings); err != nil {
		return &ending{reason: EndHandshake, err: fmt.Errorf("%w: send settings: %w", voiceagent.ErrHandshake, err)}
	}
	s.log.Debug("agent settings sent", "functions", len(s.settings.Agent.Think.Functions))
	return nil
}

func (s *Session) onSettingsApplied(ctx context.Context, msg voiceagent.Message) *ending {
	if _, err := s.machine.Fire(voiceagent.TypeSettingsApplied); err != nil {
		s.log.Warn("unexpected SettingsApplied", "err", err)
		return nil
	}
	s.handshake.Stop()
	elapsed := s.deps.Now().Sub(s.dialedAt)
	s.metrics.HandshakeDuration.Record(ctx, elapsed.Seconds())
	s.pacer.Start()
	s.keepAlive.Start()
	s.log.Info("voice agent ready", "handshake", elapsed.Round(time.Millisecond))
	return nil
}

func (s *Session) onConversationText(ctx context.Context, msg voiceagent.Message) *ending {
	var ct voiceagent.ConversationText
	if err := decode(msg, &ct); err != nil {
		s.log.Warn("dropping malformed ConversationText", "size", len(msg.Data), "err", err)
		return nil
	}
	speaker := transcript.SpeakerFromRole(ct.Role)
	s.transcript.Append(speaker, ct.Content, s.deps.Now())
	s.log.Debug("conversation text", "role", ct.Role, "text", ct.Content)
	if speaker == transcript.SpeakerCaller {
		s.observeCaller(ct.Content)
	}
	return nil
}

func (s *Session) onResults(ctx context.Context, msg voiceagent.Message) *ending {
	var r voiceagent.Results
	if err := decode(msg, &r); err != nil {
		s.log.Warn("dropping malformed Results", "size", len(msg.Data), "err", err)
		return nil
	}
	if !r.IsFinal {
		return nil
	}
	text := r.Transcript()
	s.transcript.Append(transcript.SpeakerCaller, text, s.deps.Now())
	s.observeCaller(text)
	return nil
}

// observeCaller feeds a caller utterance to the function-call watchdog.
func (s *Session) observeCaller(text string) {
	if phrase, armed := s.watchdog.Observe(text, s.deps.Now()); armed {
		s.log.Debug("trigger phrase detected, expecting a function call", "trigger", phrase)
	}
}

func (s *Session) onCallerSpeech(ctx context.Context, msg voiceagent.Message) *ending {
	s.silence.Reset()
	if s.cfg.BargeIn && s.pacer.Buffered() > 0 {
		s.pacer.Clear()
		if err := s.relay.Clear(ctx); err != nil {
			s.log.Debug("clear playback failed", "err", err)
		}
		s.log.Debug("caller barged in, dropped agent audio")
	}
	return nil
}

func (s *Session) onUtteranceEnd(ctx context.Context, msg voiceagent.Message) *ending {
	s.silence.Arm(s.deps.Now())
	return nil
}

func (s *Session) onAgentThinking(ctx context.Context, msg voiceagent.Message) *ending {
	s.silence.Pause()
	return nil
}

func (s *Session) onAgentStartedSpeaking(ctx context.Context, msg voiceagent.Message) *ending {
	s.silence.Disarm()
	return nil
}

func (s *Session) onAgentAudioDone(ctx context.Context, msg voiceagent.Message) *ending {
	s.pacer.Flush()
	s.silence.Arm(s.deps.Now())
	return nil
}

func (s *Session) onTtsAudio(ctx context.Context, msg voiceagent.Message) *ending {
	var t voiceagent.TtsAudio
	if err := decode(msg, &t); err != nil {
		s.log.Warn("dropping malformed TtsAudio", "size", len(msg.Data), "err", err)
		return nil
	}
	data, err := decodeBase64(t.Payload())
	if err != nil {
		s.log.Warn("dropping undecodable TtsAudio payload", "size", len(t.Payload()), "err", err)
		return nil
	}
	s.pacer.Feed(data)
	return nil
}

func (s *Session) onFunctionCallRequest(ctx context.Context, msg voiceagent.Message) *ending {
	var req voiceagent.FunctionCallRequest
	if err := decode(msg, &req); err != nil {
		s.log.Warn("dropping malformed function call request", "size", len(msg.Data), "err", err)
		return nil
	}
	s.watchdog.Satisfy()
	invs := req.Invocations()
	if len(invs) == 0 {
		s.log.Debug("function call request has no client-side invocations")
		return nil
	}
	s.enqueueBatch(invs)
	return nil
}

func (s *Session) onHistory(ctx context.Context, msg voiceagent.Message) *ending {
	return nil
}

func (s *Session) onAgentError(ctx context.Context, msg voiceagent.Message) *ending {
	var e voiceagent.ErrorEvent
	if err := decode(msg, &e); err != nil {
		s.log.Warn("voice agent reported a problem", "type", msg.Type, "size", len(msg.Data))
		return nil
	}
	s.log.Warn("voice agent reported a problem", "type", msg.Type, "code", e.Code, "description", e.Text())
	return nil
}
