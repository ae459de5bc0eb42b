package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intakecall/pkg/types"
	"github.com/coder/websocket"
)

// fakeServer records the text messages it receives and replies with the
// configured responses once the flush message arrives.
type fakeServer struct {
	mu        sync.Mutex
	path      string
	query     string
	received  []textMessage
	responses []audioResponse
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path = r.URL.Path
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			json.Unmarshal(data, &m)
			f.mu.Lock()
			f.received = append(f.received, m)
			f.mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		for _, resp := range f.responses {
			b, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		// Keep reading so the client's close handshake completes.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	opts = append([]Option{WithEndpoint("ws" + strings.TrimPrefix(srv.URL, "http"))}, opts...)
	p, err := New("xi-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSynthesize_CollectsAudio(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{
		{Audio: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})},
		{Audio: base64.StdEncoding.EncodeToString([]byte{5, 6})},
		{IsFinal: true},
	}}
	p := newTestProvider(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pcm, err := p.Synthesize(ctx, "Please spell your last name.", types.VoiceProfile{ID: "voice-abc"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("pcm: got %v", pcm)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path != "/v1/text-to-speech/voice-abc/stream-input" {
		t.Errorf("path: got %q", f.path)
	}
	if f.query != "model_id="+defaultModel {
		t.Errorf("query: got %q", f.query)
	}
	if len(f.received) != 3 {
		t.Fatalf("expected 3 messages (BOI, text, flush), got %d", len(f.received))
	}
	boi := f.received[0]
	if boi.Text != " " || boi.XiAPIKey != "xi-key" || boi.OutputFormat != "pcm_16000" {
		t.Errorf("unexpected BOI message: %+v", boi)
	}
	if boi.VoiceSettings == nil || boi.VoiceSettings.Stability != 0.5 {
		t.Errorf("BOI voice settings: %+v", boi.VoiceSettings)
	}
	if got := f.received[1]; got.Text != "Please spell your last name. " || !got.TryTriggerGeneration {
		t.Errorf("text message: %+v", got)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{
		{Audio: base64.StdEncoding.EncodeToString([]byte{0, 0}), IsFinal: true},
	}}
	p := newTestProvider(t, f, WithVoice("house-voice"))

	if _, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.path, "/house-voice/") {
		t.Errorf("expected default voice in path, got %q", f.path)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{{Error: "quota exceeded"}}}
	p := newTestProvider(t, f)

	_, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected quota error, got %v", err)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	f := &fakeServer{responses: []audioResponse{{IsFinal: true}}}
	p := newTestProvider(t, f)

	if _, err := p.Synthesize(context.Background(), "Hello", types.VoiceProfile{}); err == nil {
		t.Error("expected error when no audio is returned")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.voice != defaultVoice {
		t.Errorf("expected default voice %q, got %q", defaultVoice, p.voice)
	}
}
