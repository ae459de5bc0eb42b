package session

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes writes non-fatal. The orchestrator holds
// the authoritative session in memory for the whole call, so a store outage
// must not end the call: failed Save and Touch calls are logged, swallowed
// and mark the guard degraded. Load and Delete errors are returned unchanged.
//
// Guard implements [Store].
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard creates a new [Guard] wrapping the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Load delegates to the underlying store.
func (g *Guard) Load(ctx context.Context, id string) (*Session, error) {
	return g.store.Load(ctx, id)
}

// Save attempts to persist s. On failure the error is logged and swallowed;
// the guard is marked as degraded. On success the degraded flag is cleared.
func (g *Guard) Save(ctx context.Context, s *Session) error {
	if err := g.store.Save(ctx, s); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: Save failed, swallowing error",
			"session_id", s.ID,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Delete delegates to the underlying store.
func (g *Guard) Delete(ctx context.Context, id string) error {
	return g.store.Delete(ctx, id)
}

// Touch extends expiry. Failures, including ErrNotFound after an outage
// dropped the key, are swallowed.
func (g *Guard) Touch(ctx context.Context, id string) error {
	if err := g.store.Touch(ctx, id); err != nil {
		g.degraded.Store(true)
		slog.Warn("session guard: Touch failed, swallowing error", "session_id", id, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent write to the underlying store
// failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

var _ Store = (*Guard)(nil)
