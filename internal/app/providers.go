package app

import (
	"errors"
	"fmt"

	"github.com/MrWong99/intakecall/internal/config"
	"github.com/MrWong99/intakecall/internal/observe"
	"github.com/MrWong99/intakecall/internal/resilience"
	"github.com/MrWong99/intakecall/pkg/provider/llm"
	"github.com/MrWong99/intakecall/pkg/provider/stt"
	"github.com/MrWong99/intakecall/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. A nil LLM disables
// phrasing; STT and TTS are required.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider
}

// BuildProviders creates the configured providers from reg. Each slot is
// wrapped in a fallback group with its own circuit breakers, so provider
// calls are observed through m and configured fallbacks are tried in order.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	fallback := func(kind string) resilience.FallbackConfig {
		fc := resilience.FallbackConfig{Kind: kind}
		if m != nil {
			fc.Observe = m.RecordProviderCall
		}
		return fc
	}

	var errs []error
	p := &Providers{}

	if sttp, err := reg.CreateSTT(cfg.Providers.STT); err != nil {
		errs = append(errs, fmt.Errorf("stt %q: %w", cfg.Providers.STT.Name, err))
	} else {
		p.STT = resilience.NewSTTFallback(sttp, cfg.Providers.STT.Name, fallback("stt"))
	}

	if ttsp, err := reg.CreateTTS(cfg.Providers.TTS); err != nil {
		errs = append(errs, fmt.Errorf("tts %q: %w", cfg.Providers.TTS.Name, err))
	} else {
		group := resilience.NewTTSFallback(ttsp, cfg.Providers.TTS.Name, fallback("tts"))
		for _, e := range cfg.Providers.TTSFallbacks {
			fb, err := reg.CreateTTS(e)
			if err != nil {
				errs = append(errs, fmt.Errorf("tts fallback %q: %w", e.Name, err))
				continue
			}
			group.AddFallback(e.Name, fb)
		}
		p.TTS = group
	}

	if cfg.Providers.LLM.Name != "" {
		if llmp, err := reg.CreateLLM(cfg.Providers.LLM); err != nil {
			errs = append(errs, fmt.Errorf("llm %q: %w", cfg.Providers.LLM.Name, err))
		} else {
			group := resilience.NewLLMFallback(llmp, cfg.Providers.LLM.Name, fallback("llm"))
			for _, e := range cfg.Providers.LLMFallbacks {
				fb, err := reg.CreateLLM(e)
				if err != nil {
					errs = append(errs, fmt.Errorf("llm fallback %q: %w", e.Name, err))
					continue
				}
				group.AddFallback(e.Name, fb)
			}
			p.LLM = group
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: build providers: %w", err)
	}
	return p, nil
}
