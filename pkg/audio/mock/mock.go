// Package mock provides an in-memory [audio.Transport] for unit tests.
//
// The mock is safe for concurrent use. It records every outbound call so
// tests can assert on what the core sent, and exposes [Transport.Push] and
// [Transport.End] to simulate caller audio and end of stream.
//
// Typical usage:
//
//	tr := mock.NewTransport()
//	go orch.Run(ctx)
//	tr.Push(pcm)
//	tr.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intakecall/pkg/audio"
)

var (
	_ audio.Transport      = (*Transport)(nil)
	_ audio.InterimDisplay = (*Transport)(nil)
)

// TranscriptCall records a single [Transport.SendTranscript] invocation.
type TranscriptCall struct {
	Speaker audio.Speaker
	Text    string
}

// Transport is a mock implementation of [audio.Transport].
// Set the exported error fields before use; inspect the recorded fields after.
type Transport struct {
	chunks  chan []byte
	endOnce sync.Once

	mu sync.Mutex

	// SendAudioErr is returned by SendAudio when non-nil.
	SendAudioErr error

	// SentAudio records every chunk passed to SendAudio, in order.
	SentAudio [][]byte

	// Transcripts records every SendTranscript call, in order.
	Transcripts []TranscriptCall

	// Interims records every SendInterim call, in order.
	Interims []string

	// InterruptCount records how many times Interrupt was called.
	InterruptCount int

	// CloseCount records how many times Close was called.
	CloseCount int

	endErr error
}

// NewTransport returns a mock with a buffered inbound channel.
func NewTransport() *Transport {
	return &Transport{chunks: make(chan []byte, 64)}
}

// Push simulates an inbound chunk from the caller.
func (t *Transport) Push(pcm []byte) {
	t.chunks <- pcm
}

// End closes the inbound stream. A non-nil err simulates a transport failure.
func (t *Transport) End(err error) {
	t.endOnce.Do(func() {
		t.mu.Lock()
		t.endErr = err
		t.mu.Unlock()
		close(t.chunks)
	})
}

// Chunks implements [audio.Transport].
func (t *Transport) Chunks() <-chan []byte { return t.chunks }

// SendAudio implements [audio.Transport].
func (t *Transport) SendAudio(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendAudioErr != nil {
		return t.SendAudioErr
	}
	t.SentAudio = append(t.SentAudio, pcm)
	return nil
}

// SendTranscript implements [audio.Transport].
func (t *Transport) SendTranscript(_ context.Context, speaker audio.Speaker, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Transcripts = append(t.Transcripts, TranscriptCall{Speaker: speaker, Text: text})
	return nil
}

// SendInterim implements [audio.InterimDisplay].
func (t *Transport) SendInterim(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Interims = append(t.Interims, text)
	return nil
}

// Interrupt implements [audio.Transport].
func (t *Transport) Interrupt(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.InterruptCount++
	return nil
}

// Err implements [audio.Transport].
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endErr
}

// Close implements [audio.Transport].
func (t *Transport) Close() error {
	t.mu.Lock()
	t.CloseCount++
	t.mu.Unlock()
	return nil
}

// AssistantLines returns the text of every assistant transcript sent so far.
func (t *Transport) AssistantLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, c := range t.Transcripts {
		if c.Speaker == audio.SpeakerAssistant {
			out = append(out, c.Text)
		}
	}
	return out
}

// Interrupts returns the current interrupt count.
func (t *Transport) Interrupts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.InterruptCount
}

// AudioBytes returns the total number of PCM bytes sent so far.
func (t *Transport) AudioBytes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.SentAudio {
		n += len(c)
	}
	return n
}

// InterimLines returns every interim transcript sent so far.
func (t *Transport) InterimLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.Interims...)
}

// UserLines returns the text of every user transcript sent so far.
func (t *Transport) UserLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, c := range t.Transcripts {
		if c.Speaker == audio.SpeakerUser {
			out = append(out, c.Text)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CloseCount > 0
}
