// Package pipeline runs one intake call end to end.
//
// An [Orchestrator] owns a single call: it opens the STT stream, pumps
// caller audio into it, turns transcripts into utterances through the
// coalescer, feeds interims to the barge-in monitor, and runs a single
// decision worker that asks the interview engine what to say next and plays
// the synthesized reply back over the transport.
//
// Three goroutines run under one errgroup:
//
//   - the audio pump forwards transport chunks to STT and injects keepalive
//     silence when the caller is quiet;
//   - the transcript pump routes partials and finals into the coalescer;
//   - the decision worker drains utterances one at a time.
//
// The first of them to fail or finish ends the call. Timers are stopped
// before the STT session and transport are closed, then the session is
// handed to the record sink and removed from the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/intakecall/internal/interview"
	"github.com/MrWong99/intakecall/internal/observe"
	"github.com/MrWong99/intakecall/internal/record"
	"github.com/MrWong99/intakecall/internal/session"
	"github.com/MrWong99/intakecall/internal/turn"
	"github.com/MrWong99/intakecall/pkg/audio"
	"github.com/MrWong99/intakecall/pkg/provider/llm"
	"github.com/MrWong99/intakecall/pkg/provider/stt"
	"github.com/MrWong99/intakecall/pkg/provider/tts"
	"github.com/MrWong99/intakecall/pkg/types"
)

// Defaults applied by [New] to zero-valued [Config] fields.
const (
	DefaultGreeting = "Hello, thank you for calling. I'll be asking you a few questions " +
		"so an attorney can review your situation."
	DefaultApology           = "I'm sorry, I had trouble with that."
	DefaultKeepaliveInterval = 3 * time.Second
	DefaultPhrasingTimeout   = 4 * time.Second
	DefaultChunkSize         = 3200
	DefaultRecordTimeout     = 10 * time.Second
)

// keepaliveChunk is sent to STT while the caller is quiet.
var keepaliveChunk = audio.Silence(100 * time.Millisecond)

// phrasingInstruction is appended to the conversation when the LLM rephrases
// a scripted prompt.
const phrasingInstruction = "Rephrase the following for a phone conversation. Keep every question, " +
	"option, name, number and spelling exactly as given. Reply with the rephrased text only.\n\n"

var (
	errHangup   = errors.New("pipeline: caller hung up")
	errComplete = errors.New("pipeline: interview complete")
	errIdle     = errors.New("pipeline: session inactive")

	// ErrSTTClosed is returned by Run when the STT stream ends on its own
	// without reporting an error.
	ErrSTTClosed = errors.New("pipeline: stt stream closed")
)

// Config holds the per-call tunables. Zero values fall back to the package
// defaults.
type Config struct {
	Greeting       string
	Apology        string
	UseLLMPhrasing bool
	SystemPrompt   string
	Language       string
	Voice          types.VoiceProfile

	Debounce          time.Duration
	Ceiling           time.Duration
	SpeakingMargin    time.Duration
	KeepaliveInterval time.Duration
	PhrasingTimeout   time.Duration
	HistoryLimit      int

	// SessionTTL ends a call once nothing was said by either side for this
	// long. Zero never expires a live call.
	SessionTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.Apology == "" {
		c.Apology = DefaultApology
	}
	if c.Debounce <= 0 {
		c.Debounce = turn.DefaultDebounce
	}
	if c.Ceiling <= 0 {
		c.Ceiling = turn.DefaultCeiling
	}
	if c.SpeakingMargin <= 0 {
		c.SpeakingMargin = turn.DefaultSpeakingMargin
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.PhrasingTimeout <= 0 {
		c.PhrasingTimeout = DefaultPhrasingTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = session.DefaultHistoryLimit
	}
}

// Deps are the collaborators of one call. Transport, STT, TTS and Engine are
// required; the rest are optional.
type Deps struct {
	Transport audio.Transport
	STT       stt.Provider
	TTS       tts.Provider
	Engine    *interview.Engine

	// LLM rephrases scripted prompts when Config.UseLLMPhrasing is set.
	LLM llm.Provider
	// Store keeps the session between turns. Nil uses a private memory store.
	Store session.Store
	// Sink receives the call record when the call ends.
	Sink record.Sink
	// Metrics records turn and session metrics.
	Metrics *observe.Metrics
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithSessionID sets the session identifier. Required.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.id = id }
}

// WithPhone records the caller's number on the session.
func WithPhone(phone string) Option {
	return func(o *Orchestrator) { o.phone = phone }
}

// WithTransportKind records the transport kind on the session.
func WithTransportKind(kind string) Option {
	return func(o *Orchestrator) { o.transportKind = kind }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithChunkSize sets the size of outbound audio chunks in bytes.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n - n%audio.BytesPerSample
		}
	}
}

// Orchestrator runs one call. Run may be called once.
type Orchestrator struct {
	cfg  Config
	deps Deps

	id            string
	phone         string
	transportKind string
	now           func() time.Time
	chunkSize     int
	log           *slog.Logger

	// Owned by the decision worker once Run starts.
	sess *session.Session

	bargeIn   *turn.BargeIn
	coalescer *turn.Coalescer

	mu          sync.Mutex
	playbackEnd time.Time
	outcome     string
}

// New validates deps and returns an Orchestrator ready to [Orchestrator.Run].
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if deps.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if deps.TTS == nil {
		errs = append(errs, errors.New("tts provider is required"))
	}
	if deps.Engine == nil {
		errs = append(errs, errors.New("interview engine is required"))
	}
	o := &Orchestrator{
		now:       time.Now,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		errs = append(errs, errors.New("session id is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	cfg.applyDefaults()
	if deps.Store == nil {
		deps.Store = session.NewMemoryStore()
	}
	o.cfg = cfg
	o.deps = deps
	o.log = slog.Default().With("session_id", o.id)
	return o, nil
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string { return o.id }

// Outcome reports how the call ended. Empty while Run is in progress.
func (o *Orchestrator) Outcome() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// Run drives the call until the caller hangs up, the interview completes, a
// fatal error occurs or ctx is cancelled. It returns nil for a hang-up or a
// completed interview.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	log := o.log
	eng := o.deps.Engine
	tr := o.deps.Transport

	o.sess = eng.NewSession(o.id,
		session.WithPhone(o.phone),
		session.WithTransport(o.transportKind),
		session.WithHistoryLimit(o.cfg.HistoryLimit),
	)
	o.save(ctx)
	if m := o.deps.Metrics; m != nil {
		m.RecordSessionStart(ctx)
	}

	handle, err := o.deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Language:   o.cfg.Language,
		Keywords:   keywords(eng),
	})
	if err != nil {
		tr.Close()
		o.finish(ctx, record.OutcomeError)
		return fmt.Errorf("pipeline: start stt: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	o.bargeIn = turn.NewBargeIn(func() {
		if err := tr.Interrupt(gctx); err != nil {
			log.Debug("interrupt failed", "err", err)
		}
	}, turn.WithMargin(o.cfg.SpeakingMargin))

	o.coalescer = turn.NewCoalescer(
		turn.WithDebounce(o.cfg.Debounce),
		turn.WithCeiling(o.cfg.Ceiling),
		turn.WithClock(o.now),
		turn.WithInterimHandler(func(t types.Transcript) { o.onInterim(gctx, t) }),
	)

	log.Info("call started", "transport", o.transportKind, "section", o.sess.Section)

	g.Go(func() error { return o.pumpAudio(gctx, handle) })
	g.Go(func() error { return o.pumpTranscripts(gctx, handle) })
	g.Go(func() error { return o.decide(gctx) })

	runErr := g.Wait()

	o.coalescer.Close()
	o.bargeIn.Close()
	if err := handle.Close(); err != nil {
		log.Debug("close stt session", "err", err)
	}
	if err := tr.Close(); err != nil {
		log.Debug("close transport", "err", err)
	}

	outcome := record.OutcomeError
	switch {
	case errors.Is(runErr, errComplete):
		outcome, runErr = record.OutcomeComplete, nil
	case errors.Is(runErr, errHangup):
		outcome, runErr = record.OutcomeHangup, nil
	case errors.Is(runErr, errIdle):
		outcome, runErr = record.OutcomeTimeout, nil
	case runErr == nil || ctx.Err() != nil:
		outcome, runErr = record.OutcomeHangup, nil
	}
	o.finish(ctx, outcome)

	if runErr != nil {
		log.Error("call failed", "err", runErr)
	} else {
		log.Info("call ended", "outcome", outcome, "fields", len(o.sess.Fields))
	}
	return runErr
}

// finish hands the session to the sink and removes it from the store.
func (o *Orchestrator) finish(ctx context.Context, outcome string) {
	o.mu.Lock()
	o.outcome = outcome
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRecordTimeout)
	defer cancel()

	if o.deps.Sink != nil {
		if err := o.deps.Sink.Save(ctx, record.FromSession(o.sess, outcome, o.now())); err != nil {
			o.log.Error("save call record", "err", err)
		}
	}
	if err := o.deps.Store.Delete(ctx, o.id); err != nil {
		o.log.Warn("delete session", "err", err)
	}
	if m := o.deps.Metrics; m != nil {
		m.RecordSessionEnd(ctx, outcome)
	}
}

// pumpAudio forwards caller audio to STT. When nothing was sent for a
// keepalive interval a chunk of silence keeps the STT stream open.
func (o *Orchestrator) pumpAudio(ctx context.Context, handle stt.SessionHandle) error {
	tr := o.deps.Transport
	interval := o.cfg.KeepaliveInterval
	ticker := time.NewTicker(interval / 3)
	defer ticker.Stop()
	lastSent := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-tr.Chunks():
			if !ok {
				if err := tr.Err(); err != nil {
					return fmt.Errorf("pipeline: transport: %w", err)
				}
				return errHangup
			}
			if err := handle.SendAudio(chunk); err != nil {
				return fmt.Errorf("pipeline: stt send: %w", err)
			}
			lastSent = time.Now()
		case <-ticker.C:
			if time.Since(lastSent) < interval {
				continue
			}
			if err := handle.SendAudio(keepaliveChunk); err != nil {
				return fmt.Errorf("pipeline: stt keepalive: %w", err)
			}
			lastSent = time.Now()
		}
	}
}

// pumpTranscripts routes STT output into the coalescer. The STT stream
// ending while the call is live is fatal.
func (o *Orchestrator) pumpTranscripts(ctx context.Context, handle stt.SessionHandle) error {
	partials, finals := handle.Partials(), handle.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			t.IsFinal = false
			o.coalescer.Add(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			t.IsFinal = true
			o.coalescer.Add(t)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := handle.Err(); err != nil {
		return fmt.Errorf("pipeline: stt stream: %w", err)
	}
	return ErrSTTClosed
}

// onInterim runs synchronously on the transcript pump for every interim.
func (o *Orchestrator) onInterim(ctx context.Context, t types.Transcript) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}
	if d, ok := o.deps.Transport.(audio.InterimDisplay); ok {
		if err := d.SendInterim(ctx, t.Text); err != nil {
			o.log.Debug("send interim", "err", err)
		}
	}
	if o.bargeIn.ObserveInterim(t.Text) {
		o.log.Debug("barge-in", "text", t.Text)
		if m := o.deps.Metrics; m != nil {
			m.RecordBargeIn(ctx)
		}
	}
}

// decide is the single decision worker. It speaks the greeting and first
// question, then handles one utterance at a time.
func (o *Orchestrator) decide(ctx context.Context) error {
	act, err := o.deps.Engine.Start(o.sess)
	if err != nil {
		return fmt.Errorf("pipeline: start interview: %w", err)
	}
	text := joinText(o.cfg.Greeting, act.Say)
	o.sess.AddMessage(types.RoleAssistant, text, o.now())
	o.save(ctx)
	if err := o.speak(ctx, text, time.Time{}); err != nil {
		return err
	}
	if act.Kind == interview.ActionComplete {
		o.waitPlayback(ctx)
		return errComplete
	}

	var idle <-chan time.Time
	if ttl := o.cfg.SessionTTL; ttl > 0 {
		ticker := time.NewTicker(max(min(ttl/4, time.Minute), time.Millisecond))
		defer ticker.Stop()
		idle = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-idle:
			if since := o.now().Sub(o.sess.LastActivity); since >= o.cfg.SessionTTL {
				o.log.Info("session inactive, ending call", "idle", since)
				return errIdle
			}
		case u, ok := <-o.coalescer.Utterances():
			if !ok {
				return nil
			}
			done, err := o.handleUtterance(ctx, u)
			if err != nil {
				return err
			}
			if done {
				o.waitPlayback(ctx)
				return errComplete
			}
		}
	}
}

// waitPlayback blocks until the last reply finished playing on the client.
func (o *Orchestrator) waitPlayback(ctx context.Context) {
	o.mu.Lock()
	d := o.playbackEnd.Sub(o.now())
	o.mu.Unlock()
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) save(ctx context.Context) {
	if err := o.deps.Store.Save(ctx, o.sess); err != nil {
		o.log.Warn("save session", "err", err)
	}
}

// keywords builds STT vocabulary hints from the bank's enumerated choices.
func keywords(eng *interview.Engine) []types.KeywordBoost {
	choices := eng.Bank().Choices()
	out := make([]types.KeywordBoost, 0, len(choices))
	for _, c := range choices {
		out = append(out, types.KeywordBoost{Keyword: c, Boost: 1.5})
	}
	return out
}

func joinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}
