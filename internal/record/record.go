// Package record hands finished interviews to durable storage.
//
// A [Record] is a snapshot of a session taken when the call ends. Sinks
// receive it once; [Multi] fans a record out to several sinks.
package record

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/intakecall/internal/session"
	"github.com/MrWong99/intakecall/pkg/types"
)

// Call outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeHangup   = "hangup"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// ErrNotFound is returned when no record exists for a session ID.
var ErrNotFound = errors.New("record: not found")

// Record is the persisted form of one call.
type Record struct {
	SessionID string        `json:"session_id"`
	Phone     string        `json:"phone,omitempty"`
	Transport string        `json:"transport,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	Fields    map[string]string `json:"fields"`
	Confirmed []string          `json:"confirmed"`
	History   []types.Message   `json:"history"`
	Stats     session.Stats     `json:"stats"`
	Outcome   string            `json:"outcome"`
}

// FromSession snapshots sess as it stands at endedAt.
func FromSession(sess *session.Session, outcome string, endedAt time.Time) Record {
	return Record{
		SessionID: sess.ID,
		Phone:     sess.Phone,
		Transport: sess.Transport,
		StartedAt: sess.CreatedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(sess.CreatedAt),
		Fields:    sess.FieldMap(),
		Confirmed: slices.Clone(sess.Confirmed),
		History:   slices.Clone(sess.History),
		Stats:     sess.Stats(endedAt),
		Outcome:   outcome,
	}
}

// Sink receives finished call records.
type Sink interface {
	Save(ctx context.Context, r Record) error
}

// Multi saves to every sink in order and joins their errors. A failing sink
// does not stop the others.
type Multi []Sink

var _ Sink = Multi(nil)

// Save implements [Sink].
func (m Multi) Save(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
