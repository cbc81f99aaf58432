package call

import (
	"fmt"
	"strings"

	"github.com/MrWong99/voxbridge/internal/tenant"
	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

// BuildSettings assembles the Settings message for a tenant. The profile's
// instructions and the function schemas are passed through unmodified; a
// missing prompt or an empty catalogue is a handshake failure.
func BuildSettings(cfg Config, p tenant.Profile, fns []voiceagent.FunctionSchema) (voiceagent.Settings, error) {
	if strings.TrimSpace(p.Instructions) == "" {
		return voiceagent.Settings{}, fmt.Errorf("%w: tenant %q has no instructions", voiceagent.ErrHandshake, p.ID)
	}
	if len(fns) == 0 {
		return voiceagent.Settings{}, fmt.Errorf("%w: tenant %q has no functions", voiceagent.ErrHandshake, p.ID)
	}
	lang := p.Language
	if lang == "" {
		lang = cfg.Agent.Language
	}
	return voiceagent.Settings{
		Type: voiceagent.TypeSettings,
		Audio: voiceagent.AudioSettings{
			Input: voiceagent.AudioFormat{
				Encoding:   cfg.Agent.InputEncoding,
				SampleRate: cfg.SampleRate,
			},
			Output: voiceagent.AudioFormat{
				Encoding:   cfg.Agent.OutputEncoding,
				SampleRate: cfg.SampleRate,
				Container:  "none",
			},
		},
		Agent: voiceagent.AgentSettings{
			Language: lang,
			Listen:   voiceagent.ListenSettings{Provider: cfg.Agent.Listen},
			Think: voiceagent.ThinkSettings{
				Provider:  cfg.Agent.Think,
				Prompt:    p.Instructions,
				Functions: fns,
			},
			Speak:    voiceagent.SpeakSettings{Provider: cfg.Agent.Speak},
			Greeting: p.Greeting,
		},
	}, nil
}
