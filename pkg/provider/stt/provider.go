// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. Once opened, a [SessionHandle] accepts raw PCM
// audio and emits two streams of transcripts: low-latency interims, which
// drive barge-in detection and live display, and authoritative finals, which
// the turn coalescer assembles into utterances.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/intakecall/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The intake pipeline always
	// sends 16000.
	SampleRate int

	// Channels is the number of audio channels. The intake pipeline always
	// sends mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for expected answers such as enumerated choices.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. Sending
	// zero-filled audio during silence keeps the session alive. Calling
	// SendAudio after the session ended returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits authoritative transcripts. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Err reports why the session ended once Partials and Finals are closed.
	// It returns nil after a local Close and while the session is healthy.
	Err() error

	// Close terminates the session, flushes any pending audio and releases
	// all associated resources. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns the
	// handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
