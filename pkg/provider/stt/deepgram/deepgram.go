// Package deepgram implements [stt.Provider] on Deepgram's live transcription
// websocket (/v1/listen). Callers stream 16-bit little-endian PCM and receive
// interim and final transcripts on separate channels.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/intakecall/pkg/provider/stt"
	"github.com/MrWong99/intakecall/pkg/types"
)

const (
	listenURL         = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// Deepgram drops a stream after roughly ten seconds without data.
	defaultKeepAlive = 8 * time.Second
)

// Control frames understood by the listen endpoint.
var (
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
)

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("deepgram: session is closed")

type settings struct {
	endpoint    string
	model       string
	language    string
	sampleRate  int
	keepAlive   time.Duration
	endpointing int // ms of silence before speech_final; 0 leaves Deepgram's default
}

// Option configures a [Provider].
type Option func(*settings)

// WithModel selects the recognition model, e.g. "nova-3".
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithLanguage sets the default BCP-47 language. A language in
// [stt.StreamConfig] wins over it.
func WithLanguage(language string) Option {
	return func(s *settings) { s.language = language }
}

// WithSampleRate sets the sample rate used when a stream does not name one.
func WithSampleRate(rate int) Option {
	return func(s *settings) { s.sampleRate = rate }
}

// WithEndpoint points the provider at another listen URL.
func WithEndpoint(endpoint string) Option {
	return func(s *settings) { s.endpoint = endpoint }
}

// WithKeepAlive sets how long the stream may go without audio before a
// KeepAlive frame is sent. Zero disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(s *settings) { s.keepAlive = d }
}

// WithEndpointing sets the trailing silence, in milliseconds, after which
// Deepgram marks a result speech_final.
func WithEndpointing(ms int) Option {
	return func(s *settings) { s.endpointing = ms }
}

// Provider opens Deepgram live transcription sessions.
type Provider struct {
	apiKey string
	cfg    settings
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	cfg := settings{
		endpoint:   listenURL,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		keepAlive:  defaultKeepAlive,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Provider{apiKey: apiKey, cfg: cfg}, nil
}

// StartStream dials the listen endpoint. The session ends on Close, when ctx
// is cancelled, or when Deepgram drops the connection; only the last case
// sets Err.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	target, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:      conn,
		keepAlive: p.cfg.keepAlive,
		outbox:    make(chan []byte, 256),
		partials:  make(chan types.Transcript, 64),
		finals:    make(chan types.Transcript, 64),
		done:      make(chan struct{}),
	}
	s.wg.Go(func() { s.receive(ctx) })
	s.wg.Go(func() { s.send(ctx) })
	return s, nil
}

// listenURL renders the query string for one stream.
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.cfg.endpoint)
	if err != nil {
		return "", err
	}

	language := orDefault(cfg.Language, p.cfg.language)
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = p.cfg.sampleRate
	}
	channels := max(cfg.Channels, 1)

	q := url.Values{}
	q.Set("model", p.cfg.model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if p.cfg.endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(p.cfg.endpointing))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// session implements [stt.SessionHandle] over one websocket.
type session struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	outbox    chan []byte
	partials  chan types.Transcript
	finals    chan types.Transcript

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	select {
	case s.outbox <- chunk:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close asks Deepgram to flush pending results, then tears the socket down.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
		cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

func (s *session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// setErr keeps the first remote failure. Failures caused by a local Close or
// a cancelled ctx are not recorded.
func (s *session) setErr(ctx context.Context, err error) {
	if s.isClosed() || ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// send forwards queued audio and keeps an idle stream open.
func (s *session) send(ctx context.Context) {
	var idle <-chan time.Time
	var timer *time.Timer
	if s.keepAlive > 0 {
		timer = time.NewTimer(s.keepAlive)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		var frame []byte
		kind := websocket.MessageBinary
		select {
		case frame = <-s.outbox:
		case <-idle:
			frame, kind = msgKeepAlive, websocket.MessageText
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
		if err := s.conn.Write(ctx, kind, frame); err != nil {
			s.setErr(ctx, fmt.Errorf("deepgram: write: %w", err))
			return
		}
		if timer != nil {
			timer.Reset(s.keepAlive)
		}
	}
}

// receive routes Results messages to the partial or final channel and closes
// both when the socket ends.
func (s *session) receive(ctx context.Context) {
	defer close(s.finals)
	defer close(s.partials)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(ctx, fmt.Errorf("deepgram: stream dropped: %w", err))
			}
			return
		}
		tr, ok := decodeResult(data)
		if !ok {
			continue
		}
		dst := s.partials
		if tr.IsFinal {
			dst = s.finals
		}
		select {
		case dst <- tr:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// result is the subset of a listen "Results" message the pipeline uses.
type result struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// decodeResult converts a listen message into a transcript. Metadata,
// UtteranceEnd and malformed frames report false.
func decodeResult(data []byte) (types.Transcript, bool) {
	var r result
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	best := r.Channel.Alternatives[0]

	tr := types.Transcript{
		Text:        best.Transcript,
		IsFinal:     r.IsFinal,
		SpeechFinal: r.SpeechFinal,
		Confidence:  best.Confidence,
		Timestamp:   secs(r.Start),
		Duration:    secs(r.Duration),
		Words:       make([]types.WordDetail, len(best.Words)),
	}
	for i, w := range best.Words {
		tr.Words[i] = types.WordDetail{
			Word:       w.Word,
			Start:      secs(w.Start),
			End:        secs(w.End),
			Confidence: w.Confidence,
		}
	}
	return tr, true
}

func secs(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
