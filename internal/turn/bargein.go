package turn

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intakecall/pkg/audio"
)

// DefaultSpeakingMargin is added to the computed playback duration before the
// speaking flag clears on its own.
const DefaultSpeakingMargin = 500 * time.Millisecond

// BargeInOption configures a [BargeIn].
type BargeInOption func(*BargeIn)

// WithMargin sets the safety margin added to playback durations.
func WithMargin(d time.Duration) BargeInOption {
	return func(b *BargeIn) {
		if d >= 0 {
			b.margin = d
		}
	}
}

// BargeIn tracks whether synthesized audio is playing and signals an
// interrupt when the caller speaks.
//
// The speaking flag is set by [BargeIn.StartPlayback] and cleared when the
// computed playback time plus the margin elapses, or when caller speech is
// observed. Every observed speech fires the interrupt callback, whether or
// not audio was playing; the callback must therefore be idempotent.
// BargeIn never cancels synthesis. Callers compare [BargeIn.Generation]
// before and after sending audio to drop the rest of a superseded response.
//
// All methods are safe for concurrent use.
type BargeIn struct {
	interrupt func()
	margin    time.Duration

	mu         sync.Mutex
	speaking   bool
	timer      *time.Timer
	playSeq    uint64
	generation uint64
	closed     bool
}

// NewBargeIn creates a monitor that calls interrupt on caller speech.
func NewBargeIn(interrupt func(), opts ...BargeInOption) *BargeIn {
	b := &BargeIn{
		interrupt: interrupt,
		margin:    DefaultSpeakingMargin,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// StartPlayback marks the assistant as speaking n bytes of internal-format
// PCM and schedules the flag to clear after their playback time plus the
// margin. A previous clearance timer is stopped first.
func (b *BargeIn) StartPlayback(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.speaking = true
	b.playSeq++
	seq := b.playSeq
	b.timer = time.AfterFunc(audio.PlaybackDuration(n)+b.margin, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if seq == b.playSeq {
			b.speaking = false
			b.timer = nil
		}
	})
}

// ObserveInterim handles one interim transcript. Blank text is ignored.
// Otherwise the speaking flag is cleared, the playback generation advances
// and the interrupt callback fires. It reports whether audio was playing,
// that is whether this was a barge-in.
func (b *BargeIn) ObserveInterim(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	wasSpeaking := b.speaking
	b.speaking = false
	b.playSeq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
	b.mu.Unlock()

	if b.interrupt != nil {
		b.interrupt()
	}
	return wasSpeaking
}

// Speaking reports whether synthesized audio is considered playing.
func (b *BargeIn) Speaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Generation returns the playback generation. It advances on every
// interrupt.
func (b *BargeIn) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Close stops the clearance timer. Later calls are no-ops.
func (b *BargeIn) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.speaking = false
	b.playSeq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
