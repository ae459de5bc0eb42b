// Package audio defines the internal audio format and the transport
// abstraction used by the intake pipeline.
//
// Every byte of audio that crosses the core is signed 16-bit little-endian
// PCM, 16 kHz, mono. Concrete transports (browser websocket, telephony media
// stream) normalise their provider-specific framing to that format before
// handing chunks to the core, and convert back on the way out.
//
// This package lives under pkg/ because third-party adapters are expected to
// implement [Transport].
package audio

import (
	"context"
	"errors"
	"time"
)

// Internal PCM format shared by transports, STT and TTS.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
	BytesPerSecond = SampleRate * Channels * BytesPerSample
)

// ErrTransportClosed is returned by send operations after the transport has
// been closed or the remote side went away.
var ErrTransportClosed = errors.New("audio: transport closed")

// Speaker tags display transcripts sent to the client.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// PlaybackDuration returns how long n bytes of internal-format PCM take to
// play back.
func PlaybackDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / BytesPerSecond)
}

// Silence returns d worth of zeroed internal-format PCM.
func Silence(d time.Duration) []byte {
	n := int(int64(d) * BytesPerSecond / int64(time.Second))
	n -= n % BytesPerSample
	return make([]byte, n)
}

// Transport is the bidirectional byte-stream between the caller and the core.
//
// Implementations must be safe for concurrent use: the orchestrator reads
// [Transport.Chunks] on one goroutine while sending audio, transcripts and
// interrupts from others.
type Transport interface {
	// Chunks delivers inbound caller audio in the internal format. The channel
	// is closed when the stream ends, either cleanly or because of a failure;
	// [Transport.Err] distinguishes the two.
	Chunks() <-chan []byte

	// SendAudio queues internal-format PCM for playback on the client.
	SendAudio(ctx context.Context, pcm []byte) error

	// SendTranscript pushes display text tagged by speaker. Transports without
	// a display may drop it.
	SendTranscript(ctx context.Context, speaker Speaker, text string) error

	// Interrupt asks the client to stop playback of anything already queued.
	// It is idempotent and safe to send redundantly.
	Interrupt(ctx context.Context) error

	// Err reports why Chunks was closed. It returns nil for a clean end of
	// stream and while the stream is still open.
	Err() error

	// Close tears down the transport. Safe to call more than once.
	Close() error
}

// InterimDisplay is implemented by transports that can show live partial
// transcripts of the caller. The orchestrator checks for it with a type
// assertion; transports without a display need not implement it.
type InterimDisplay interface {
	SendInterim(ctx context.Context, text string) error
}
