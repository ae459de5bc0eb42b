package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intakecall/internal/session"
	"github.com/MrWong99/intakecall/pkg/audio"
)

// ErrShuttingDown is returned by [SessionManager.Run] once shutdown began.
var ErrShuttingDown = errors.New("app: shutting down")

// DefaultSweepInterval is how often the memory session store is swept for
// expired sessions.
const DefaultSweepInterval = time.Minute

// CallInfo holds metadata about a live call.
type CallInfo struct {
	SessionID string    `json:"session_id"`
	Transport string    `json:"transport"`
	Phone     string    `json:"phone,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Runner drives one call to completion. *pipeline.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context) error
	Outcome() string
}

// RunnerFactory builds the runner for a new call on tr.
type RunnerFactory func(tr audio.Transport, info CallInfo) (Runner, error)

type liveCall struct {
	info   CallInfo
	cancel context.CancelFunc
}

// SessionManager tracks live calls. Every call runs under a context derived
// from the manager's, so [SessionManager.Shutdown] ends them all.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	factory RunnerFactory
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	live    map[string]*liveCall
	closing bool
	wg      sync.WaitGroup
}

// NewSessionManager creates a SessionManager that builds calls with factory.
func NewSessionManager(factory RunnerFactory) *SessionManager {
	base, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		factory: factory,
		now:     time.Now,
		base:    base,
		cancel:  cancel,
		live:    make(map[string]*liveCall),
	}
}

// Run builds a call for tr and blocks until it ends, ctx is cancelled or the
// manager shuts down. The runner owns tr once built; if Run fails before
// that, it closes tr itself.
func (sm *SessionManager) Run(ctx context.Context, tr audio.Transport, info CallInfo) error {
	if info.SessionID == "" {
		_ = tr.Close()
		return errors.New("app: session id is required")
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = sm.now().UTC()
	}

	sm.mu.Lock()
	if sm.closing {
		sm.mu.Unlock()
		_ = tr.Close()
		return ErrShuttingDown
	}
	if _, dup := sm.live[info.SessionID]; dup {
		sm.mu.Unlock()
		_ = tr.Close()
		return fmt.Errorf("app: session %q is already live", info.SessionID)
	}
	callCtx, cancel := context.WithCancel(sm.base)
	sm.live[info.SessionID] = &liveCall{info: info, cancel: cancel}
	sm.wg.Add(1)
	sm.mu.Unlock()

	defer func() {
		cancel()
		sm.mu.Lock()
		delete(sm.live, info.SessionID)
		sm.mu.Unlock()
		sm.wg.Done()
	}()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	log := slog.Default().With("session_id", info.SessionID)
	runner, err := sm.factory(tr, info)
	if err != nil {
		_ = tr.Close()
		return fmt.Errorf("app: build call: %w", err)
	}

	log.Info("call started", "transport", info.Transport, "phone", info.Phone)
	err = runner.Run(callCtx)
	log.Info("call ended", "outcome", runner.Outcome(), "duration", sm.now().Sub(info.StartedAt).Round(time.Millisecond), "err", err)
	return err
}

// Len returns the number of live calls.
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.live)
}

// Get returns the live call with the given session ID.
func (sm *SessionManager) Get(id string) (CallInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	c, ok := sm.live[id]
	if !ok {
		return CallInfo{}, false
	}
	return c.info, true
}

// Active returns the live calls ordered by start time.
func (sm *SessionManager) Active() []CallInfo {
	sm.mu.Lock()
	out := make([]CallInfo, 0, len(sm.live))
	for _, c := range sm.live {
		out = append(out, c.info)
	}
	sm.mu.Unlock()
	slices.SortFunc(out, func(a, b CallInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// Hangup cancels one live call. It reports whether the call was found.
func (sm *SessionManager) Hangup(id string) bool {
	sm.mu.Lock()
	c, ok := sm.live[id]
	sm.mu.Unlock()
	if ok {
		c.cancel()
	}
	return ok
}

// RunSweeper sweeps expired sessions from store every interval until the
// manager shuts down. It returns immediately; a nil store is a no-op.
func (sm *SessionManager) RunSweeper(store *session.MemoryStore, interval time.Duration) {
	if store == nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		store.RunSweeper(sm.base, interval)
	}()
}

// Shutdown refuses new calls, cancels every live call and waits for them to
// finish or for ctx to expire.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closing = true
	n := len(sm.live)
	sm.mu.Unlock()

	slog.Info("session manager shutting down", "live_calls", n)
	sm.cancel()

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for calls: %w", ctx.Err())
	}
}
