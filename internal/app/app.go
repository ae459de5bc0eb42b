// Package app wires all subsystems into a running intake call server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithSessionStore,
// WithSink, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/intakecall/internal/config"
	"github.com/MrWong99/intakecall/internal/fieldbank"
	"github.com/MrWong99/intakecall/internal/health"
	"github.com/MrWong99/intakecall/internal/interview"
	"github.com/MrWong99/intakecall/internal/observe"
	"github.com/MrWong99/intakecall/internal/pipeline"
	"github.com/MrWong99/intakecall/internal/record"
	"github.com/MrWong99/intakecall/internal/session"
	"github.com/MrWong99/intakecall/pkg/audio"
	"github.com/MrWong99/intakecall/pkg/types"
)

const (
	readHeaderTimeout = 10 * time.Second
	redisPingTimeout  = 3 * time.Second
)

// RecordLookup finds the record of an ended call.
// *record.PostgresRepository implements it.
type RecordLookup interface {
	Get(ctx context.Context, sessionID string) (record.Record, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	bank     *fieldbank.Bank
	store    session.Store
	memStore *session.MemoryStore
	sink     record.Sink
	lookup   RecordLookup
	metrics  *observe.Metrics
	sessions *SessionManager
	health   *health.Handler
	checkers []health.Checker

	metricsHandler http.Handler
	newID          func() string
	pipelineOpts   []pipeline.Option

	server *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSink injects the record sink instead of creating one from config.
func WithSink(s record.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRecordLookup sets where /sessions/{id} looks up calls that have ended.
func WithRecordLookup(l RecordLookup) Option {
	return func(a *App) { a.lookup = l }
}

// WithBank injects the field bank instead of loading it from config.
func WithBank(b *fieldbank.Bank) Option {
	return func(a *App) { a.bank = b }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler overrides the handler served on the metrics path.
// Default: promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithIDGenerator overrides session ID generation. Default: random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(a *App) { a.newID = gen }
}

// WithPipelineOptions appends options passed to every call's orchestrator.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(a *App) { a.pipelineOpts = append(a.pipelineOpts, opts...) }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go (see [BuildProviders]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: stt and tts providers are required")
	}
	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.newID == nil {
		a.newID = uuid.NewString
	}

	if err := a.initBank(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init field bank: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init session store: %w", err)
	}
	if err := a.initRecords(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init records: %w", err)
	}

	a.checkers = append(a.checkers, health.Ready("field_bank", func() bool { return a.bank != nil }))
	a.health = health.New(a.checkers...)
	a.sessions = NewSessionManager(a.newRunner)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

func (a *App) initBank() error {
	if a.bank != nil {
		return nil
	}
	path := a.Config().Interview.FieldBank
	var err error
	if path == "" {
		a.bank, err = fieldbank.Default()
	} else {
		a.bank, err = fieldbank.Load(path)
	}
	if err != nil {
		return err
	}
	slog.Info("field bank loaded", "path", path, "version", a.bank.Version, "sections", len(a.bank.SectionNames()))
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.Config().Session
	switch sc.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
		a.closers = append(a.closers, client.Close)

		opts := []session.RedisOption{session.WithRedisTTL(sc.TTL.Std())}
		if sc.RedisPrefix != "" {
			opts = append(opts, session.WithRedisPrefix(sc.RedisPrefix))
		}
		rs := session.NewRedisStore(client, opts...)

		pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := rs.Ping(pctx); err != nil {
			slog.Warn("redis unreachable at startup; session writes will be retried per turn", "addr", sc.RedisAddr, "err", err)
		}

		guard := session.NewGuard(rs)
		a.store = guard
		a.checkers = append(a.checkers,
			health.Ping("redis", rs),
			health.Degraded("session_store", guard.IsDegraded),
		)
	default:
		a.memStore = session.NewMemoryStore(session.WithTTL(sc.TTL.Std()))
		a.store = a.memStore
	}
	return nil
}

func (a *App) initRecords(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	rc := a.Config().Records
	var sinks record.Multi

	if rc.PostgresDSN != "" {
		repo, err := record.NewPostgresRepository(ctx, rc.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			repo.Close()
			return nil
		})
		a.checkers = append(a.checkers, health.Ping("postgres", repo))
		if a.lookup == nil {
			a.lookup = repo
		}
		sinks = append(sinks, repo)
	}
	if rc.JSONDir != "" {
		js, err := record.NewJSONFileSink(rc.JSONDir)
		if err != nil {
			return err
		}
		sinks = append(sinks, js)
	}

	if len(sinks) > 0 {
		a.sink = sinks
	}
	return nil
}

// Config returns the config new calls are built from.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// UpdateConfig swaps in cfg for calls started from now on. Live calls keep
// the settings they started with. Settings listed in
// [config.ConfigDiff.RestartRequired] are ignored until restart.
func (a *App) UpdateConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
}

// Sessions returns the live call manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// newRunner builds the orchestrator for one call from the current config.
func (a *App) newRunner(tr audio.Transport, info CallInfo) (Runner, error) {
	cfg := a.Config()
	eng := interview.New(a.bank, interview.WithClosing(cfg.Interview.Closing))

	opts := []pipeline.Option{
		pipeline.WithSessionID(info.SessionID),
		pipeline.WithTransportKind(info.Transport),
	}
	if info.Phone != "" {
		opts = append(opts, pipeline.WithPhone(info.Phone))
	}
	opts = append(opts, a.pipelineOpts...)

	return pipeline.New(pipelineConfig(cfg), pipeline.Deps{
		Transport: tr,
		STT:       a.providers.STT,
		TTS:       a.providers.TTS,
		LLM:       a.providers.LLM,
		Engine:    eng,
		Store:     a.store,
		Sink:      a.sink,
		Metrics:   a.metrics,
	}, opts...)
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	iv := cfg.Interview
	return pipeline.Config{
		Greeting:       iv.Greeting,
		Apology:        iv.Apology,
		UseLLMPhrasing: iv.UseLLMPhrasing,
		SystemPrompt:   iv.SystemPrompt,
		Language:       iv.Language,
		Voice: types.VoiceProfile{
			ID:       iv.Voice,
			Provider: cfg.Providers.TTS.Name,
		},
		Debounce:          cfg.Turn.Debounce.Std(),
		Ceiling:           cfg.Turn.Ceiling.Std(),
		SpeakingMargin:    cfg.Turn.SpeakingMargin.Std(),
		KeepaliveInterval: cfg.Turn.KeepaliveInterval.Std(),
		HistoryLimit:      cfg.Session.HistoryLimit,
		SessionTTL:        cfg.Session.TTL.Std(),
	}
}

// Run serves HTTP on the configured listen address until ctx is cancelled or
// the server fails. It also runs the session expiry sweep. Call Shutdown
// afterwards.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	a.sessions.RunSweeper(a.memStore, DefaultSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("server listening", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops accepting connections, ends live calls and releases all
// subsystems. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "live_calls", a.sessions.Len())

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.close()

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
