package twilio_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/intakecall/pkg/audio/twilio"
)

func startServer(t *testing.T) (*websocket.Conn, *twilio.Transport) {
	t.Helper()
	accepted := make(chan *twilio.Transport, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr, err := twilio.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- tr
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.CloseNow() })

	select {
	case tr := <-accepted:
		t.Cleanup(func() { tr.Close() })
		return client, tr
	case <-ctx.Done():
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type outEvent struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func recv(t *testing.T, conn *websocket.Conn) outEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev outEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func startStream(t *testing.T, client *websocket.Conn) {
	t.Helper()
	send(t, client, map[string]any{"event": "connected", "protocol": "Call"})
	send(t, client, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ123",
			"callSid":          "CA456",
			"customParameters": map[string]string{"from": "+15551234567"},
		},
	})
}

func TestTransport_StartAndInboundMedia(t *testing.T) {
	client, tr := startServer(t)
	startStream(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := tr.WaitStart(ctx)
	if err != nil {
		t.Fatalf("WaitStart: %v", err)
	}
	if info.StreamSID != "MZ123" || info.CallSID != "CA456" || info.Caller() != "+15551234567" {
		t.Errorf("unexpected start info: %+v", info)
	}

	// 20 ms of mu-law silence at 8 kHz.
	payload := bytes.Repeat([]byte{0xFF}, 160)
	send(t, client, map[string]any{
		"event": "media",
		"media": map[string]string{"track": "inbound", "payload": base64.StdEncoding.EncodeToString(payload)},
	})

	select {
	case chunk := <-tr.Chunks():
		if len(chunk) != 640 {
			t.Errorf("got %d bytes, want 640 (320 samples at 16 kHz)", len(chunk))
		}
		for i, b := range chunk {
			if b != 0 {
				t.Fatalf("byte %d = %d, want silence", i, b)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}

	send(t, client, map[string]any{"event": "stop"})
	client.CloseRead(context.Background())
	select {
	case _, ok := <-tr.Chunks():
		if ok {
			t.Fatal("expected chunks to close after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
	if tr.Err() != nil {
		t.Errorf("Err after stop: %v", tr.Err())
	}
}

func TestTransport_OutboundMediaAndClear(t *testing.T) {
	client, tr := startServer(t)
	startStream(t, client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := tr.WaitStart(ctx); err != nil {
		t.Fatalf("WaitStart: %v", err)
	}

	if err := tr.SendAudio(ctx, make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	ev := recv(t, client)
	if ev.Event != "media" || ev.StreamSID != "MZ123" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	ulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(ulaw) != 160 {
		t.Errorf("got %d mu-law bytes, want 160", len(ulaw))
	}

	if err := tr.Interrupt(ctx); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if ev := recv(t, client); ev.Event != "clear" || ev.StreamSID != "MZ123" {
		t.Errorf("unexpected event: %+v", ev)
	}
	client.CloseRead(context.Background())
}

func TestTransport_SendBeforeStart(t *testing.T) {
	client, tr := startServer(t)
	client.CloseRead(context.Background())
	err := tr.SendAudio(context.Background(), make([]byte, 4))
	if !errors.Is(err, twilio.ErrNotStarted) {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
}
