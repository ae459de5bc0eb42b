// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio to consumers and to verify which
// text and VoiceProfile were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Audio: make([]byte, 3200)}
//	pcm, _ := p.Synthesize(ctx, "Hello", types.VoiceProfile{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intakecall/pkg/provider/tts"
	"github.com/MrWong99/intakecall/pkg/types"
)

// defaultAudio is 100ms of silence at the internal format.
var defaultAudio = make([]byte, 3200)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. When nil, 100ms of silence is returned.
	Audio []byte

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// SynthesizeFunc, if set, overrides Audio and Err.
	SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	fn, audio, err := p.SynthesizeFunc, p.Audio, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if audio == nil {
		audio = defaultAudio
	}
	return append([]byte(nil), audio...), nil
}

// Texts returns the text of every Synthesize call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
