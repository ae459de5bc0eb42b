// Package twilio implements [audio.Transport] for Twilio Media Streams.
//
// Inbound media arrives as base64 mu-law at 8 kHz and is expanded and
// upsampled to the internal 16 kHz PCM format. Outbound PCM takes the
// reverse path. Interrupts are sent as "clear" events, which flush audio
// Twilio has buffered but not yet played.
package twilio

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

var _ audio.Transport = (*Transport)(nil)

const chunkBuffer = 128

// ErrNotStarted is returned when outbound media is sent before the "start"
// event carried a stream SID.
var ErrNotStarted = errors.New("twilio: stream not started")

// StartInfo is the metadata carried by the "start" event.
type StartInfo struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// Caller returns the caller's number when the TwiML stream forwarded it as
// the "from" custom parameter.
func (s StartInfo) Caller() string {
	return s.CustomParameters["from"]
}

type inbound struct {
	Event string    `json:"event"`
	Start StartInfo `json:"start"`
	Media struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type outbound struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
}

// Transport is one Twilio Media Streams websocket.
type Transport struct {
	conn   *websocket.Conn
	chunks chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	started   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	mu    sync.Mutex
	start StartInfo
	err   error
}

// Accept upgrades an HTTP request from Twilio and starts reading media.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Transport, error) {
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("twilio: accept websocket: %w", err)
	}
	return New(conn), nil
}

// New wraps an established websocket and starts its read loop.
func New(conn *websocket.Conn) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:    conn,
		chunks:  make(chan []byte, chunkBuffer),
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// WaitStart blocks until the "start" event arrives, the stream ends, or ctx
// is done.
func (t *Transport) WaitStart(ctx context.Context) (StartInfo, error) {
	select {
	case <-t.started:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.start, nil
	case <-t.ctx.Done():
		return StartInfo{}, ErrNotStarted
	case <-ctx.Done():
		return StartInfo{}, ctx.Err()
	}
}

func (t *Transport) readLoop() {
	defer close(t.chunks)
	// Unblock WaitStart callers when the stream dies before "start".
	defer t.cancelIfNotStarted()

	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil && !isNormalClose(err) {
				t.setErr(fmt.Errorf("twilio: read: %w", err))
			}
			return
		}

		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("twilio: ignoring malformed event", "err", err)
			continue
		}
		switch ev.Event {
		case "connected":
		case "start":
			t.mu.Lock()
			t.start = ev.Start
			t.mu.Unlock()
			t.startOnce.Do(func() { close(t.started) })
			slog.Info("twilio stream started", "stream_sid", ev.Start.StreamSID, "call_sid", ev.Start.CallSID)
		case "media":
			if ev.Media.Track != "" && ev.Media.Track != "inbound" {
				continue
			}
			ulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				slog.Debug("twilio: ignoring undecodable media", "err", err)
				continue
			}
			pcm := audio.ResampleMono16(audio.MulawToPCM(ulaw), audio.TelephonySampleRate, audio.SampleRate)
			select {
			case t.chunks <- pcm:
			case <-t.ctx.Done():
				return
			}
		case "stop":
			return
		default:
			slog.Debug("twilio: ignoring event", "event", ev.Event)
		}
	}
}

func (t *Transport) cancelIfNotStarted() {
	select {
	case <-t.started:
	default:
		t.cancel()
	}
}

// Chunks implements [audio.Transport].
func (t *Transport) Chunks() <-chan []byte { return t.chunks }

// SendAudio implements [audio.Transport].
func (t *Transport) SendAudio(ctx context.Context, pcm []byte) error {
	ulaw := audio.PCMToMulaw(audio.ResampleMono16(pcm, audio.SampleRate, audio.TelephonySampleRate))
	return t.send(ctx, "media", &outboundMedia{Payload: base64.StdEncoding.EncodeToString(ulaw)})
}

// SendTranscript implements [audio.Transport]. A phone leg has no display,
// so the text is only logged.
func (t *Transport) SendTranscript(_ context.Context, speaker audio.Speaker, text string) error {
	slog.Debug("twilio transcript", "stream_sid", t.streamSID(), "speaker", speaker, "text", text)
	return nil
}

// Interrupt implements [audio.Transport].
func (t *Transport) Interrupt(ctx context.Context) error {
	return t.send(ctx, "clear", nil)
}

func (t *Transport) send(ctx context.Context, event string, media *outboundMedia) error {
	if t.ctx.Err() != nil {
		return audio.ErrTransportClosed
	}
	sid := t.streamSID()
	if sid == "" {
		return ErrNotStarted
	}
	data, err := json.Marshal(outbound{Event: event, StreamSID: sid, Media: media})
	if err != nil {
		return fmt.Errorf("twilio: marshal %s: %w", event, err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("twilio: write %s: %w", event, errors.Join(audio.ErrTransportClosed, err))
	}
	return nil
}

func (t *Transport) streamSID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.start.StreamSID
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
		if err := t.conn.Close(websocket.StatusNormalClosure, "call ended"); !isNormalClose(err) {
			slog.Debug("twilio: close websocket", "err", err)
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
