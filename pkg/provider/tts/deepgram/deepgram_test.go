package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/intakecall/pkg/types"
)

func TestSynthesize_RequestShape(t *testing.T) {
	var gotQuery map[string]string
	var gotText, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speak" {
			t.Errorf("path: got %q, want /v1/speak", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		var body speakRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotText = body.Text
		w.Write(make([]byte, 3201))
	}))
	defer srv.Close()

	p, err := New("dg-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm, err := p.Synthesize(context.Background(), "What is your full name?", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != 3200 {
		t.Errorf("got %d bytes, want 3200 (aligned)", len(pcm))
	}
	if gotAuth != "Token dg-key" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotText != "What is your full name?" {
		t.Errorf("text: got %q", gotText)
	}
	want := map[string]string{
		"model":       "aura-asteria-en",
		"encoding":    "linear16",
		"sample_rate": "16000",
		"container":   "none",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s: got %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_VoiceOverridesModel(t *testing.T) {
	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model = r.URL.Query().Get("model")
		w.Write([]byte{0, 0})
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{ID: "aura-luna-en"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if model != "aura-luna-en" {
		t.Errorf("model: got %q, want aura-luna-en", model)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
		text   string
	}{
		{"http error", http.StatusUnauthorized, []byte(`{"err_msg":"bad key"}`), "hello"},
		{"empty body", http.StatusOK, nil, "hello"},
		{"empty text", http.StatusOK, []byte{0, 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			defer srv.Close()
			p, _ := New("k", WithBaseURL(srv.URL))
			if _, err := p.Synthesize(context.Background(), tt.text, types.VoiceProfile{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
