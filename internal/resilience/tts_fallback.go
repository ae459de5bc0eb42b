package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/intakecall/pkg/provider/tts"
	"github.com/MrWong99/intakecall/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across backends.
//
// A backend that returns no audio without an error counts as failed, so the
// next backend gets a chance to produce something playable.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

var errNoAudio = errors.New("resilience: provider returned no audio")

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for health reporting.
func (f *TTSFallback) Group() *FallbackGroup[tts.Provider] { return f.group }

// Synthesize renders text with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]byte, error) {
		pcm, err := p.Synthesize(ctx, text, voice)
		if err == nil && len(pcm) == 0 {
			err = errNoAudio
		}
		return pcm, err
	})
}
