// Package browser implements [audio.Transport] over a browser websocket.
//
// The client speaks a small JSON protocol:
//
//	→ {"type":"audio","data":"<base64 s16le>","sampleRate":16000,"channels":1}
//	→ {"type":"stop"}
//	← {"type":"audio","data":"<base64 s16le 16k mono>"}
//	← {"type":"transcript","speaker":"user","text":"..."}
//	← {"type":"interrupt"}
//
// Binary frames from the client are accepted as raw internal-format PCM.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/intakecall/pkg/audio"
)

var (
	_ audio.Transport      = (*Transport)(nil)
	_ audio.InterimDisplay = (*Transport)(nil)
)

const chunkBuffer = 128

// message is the JSON envelope exchanged with the browser.
type message struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Text       string `json:"text,omitempty"`
	Interim    bool   `json:"interim,omitempty"`
}

// Transport is a browser websocket connection carrying one call.
type Transport struct {
	conn   *websocket.Conn
	chunks chan []byte
	norm   audio.Normalizer

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Accept upgrades an HTTP request to a websocket and starts reading audio.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Transport, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("browser: accept websocket: %w", err)
	}
	return New(conn), nil
}

// New wraps an established websocket connection and starts its read loop.
// The transport owns conn from here on.
func New(conn *websocket.Conn) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		chunks: make(chan []byte, chunkBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.readLoop()
	return t
}

func (t *Transport) readLoop() {
	defer close(t.chunks)
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil && !isNormalClose(err) {
				t.setErr(fmt.Errorf("browser: read: %w", err))
			}
			return
		}

		if typ == websocket.MessageBinary {
			if pcm := t.norm.Normalize(data, audio.Internal); len(pcm) > 0 && !t.deliver(pcm) {
				return
			}
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("browser: ignoring malformed message", "err", err)
			continue
		}
		switch msg.Type {
		case "audio":
			raw, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				slog.Debug("browser: ignoring undecodable audio", "err", err)
				continue
			}
			pcm := t.norm.Normalize(raw, audio.Format{SampleRate: msg.SampleRate, Channels: msg.Channels})
			if len(pcm) > 0 && !t.deliver(pcm) {
				return
			}
		case "stop":
			return
		default:
			slog.Debug("browser: ignoring message", "type", msg.Type)
		}
	}
}

func (t *Transport) deliver(pcm []byte) bool {
	select {
	case t.chunks <- pcm:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// Chunks implements [audio.Transport].
func (t *Transport) Chunks() <-chan []byte { return t.chunks }

// SendAudio implements [audio.Transport].
func (t *Transport) SendAudio(ctx context.Context, pcm []byte) error {
	return t.send(ctx, message{Type: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
}

// SendTranscript implements [audio.Transport].
func (t *Transport) SendTranscript(ctx context.Context, speaker audio.Speaker, text string) error {
	return t.send(ctx, message{Type: "transcript", Speaker: string(speaker), Text: text})
}

// SendInterim implements [audio.InterimDisplay].
func (t *Transport) SendInterim(ctx context.Context, text string) error {
	return t.send(ctx, message{Type: "transcript", Speaker: string(audio.SpeakerUser), Text: text, Interim: true})
}

// Interrupt implements [audio.Transport].
func (t *Transport) Interrupt(ctx context.Context) error {
	return t.send(ctx, message{Type: "interrupt"})
}

func (t *Transport) send(ctx context.Context, msg message) error {
	if t.ctx.Err() != nil {
		return audio.ErrTransportClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("browser: marshal %s: %w", msg.Type, err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("browser: write %s: %w", msg.Type, errors.Join(audio.ErrTransportClosed, err))
	}
	return nil
}

// Err implements [audio.Transport].
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Close implements [audio.Transport].
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.conn.Close(websocket.StatusNormalClosure, "session ended"); !isNormalClose(err) {
			slog.Debug("browser: close websocket", "err", err)
		}
		t.cancel()
	})
	return nil
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
