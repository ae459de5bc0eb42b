// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service and turns one plain-text
// response into raw PCM in the internal audio format (16 kHz, 16-bit, mono).
// Callers strip markdown before submitting text; providers speak whatever
// they are given.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/intakecall/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to internal-format PCM. voice selects the
	// provider voice; a zero VoiceProfile uses the provider default.
	//
	// Returns an error if synthesis fails or produces no audio.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)
}
