// Package deepgram provides a Deepgram Aura TTS provider using the
// /v1/speak REST endpoint. It implements the tts.Provider interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MrWong99/intakecall/pkg/audio"
	"github.com/MrWong99/intakecall/pkg/provider/tts"
	"github.com/MrWong99/intakecall/pkg/types"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "aura-asteria-en"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram TTS Provider.
type Option func(*Provider)

// WithModel sets the default Aura voice model (e.g., "aura-asteria-en").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by Deepgram Aura.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram tts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize requests raw linear16 PCM at the internal sample rate with no
// container, so the response body is playable as-is.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("deepgram tts: text must not be empty")
	}
	endpoint, err := p.buildURL(voice)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: build URL: %w", err)
	}
	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: new request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram tts: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("deepgram tts: empty audio response")
	}
	// Drop a trailing half sample so downstream PCM stays aligned.
	return pcm[:len(pcm)-len(pcm)%audio.BytesPerSample], nil
}

func (p *Provider) buildURL(voice types.VoiceProfile) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	u = u.JoinPath("v1", "speak")

	model := p.model
	if voice.ID != "" {
		model = voice.ID
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	q.Set("container", "none")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
