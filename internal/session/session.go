// Package session holds the per-call interview state and the stores that
// keep it between turns.
//
// A [Session] is owned by exactly one orchestrator for its lifetime. It is
// mutated only through the interview engine, which calls the primitives
// defined here; those primitives enforce the data-model invariants (at most
// one pending confirmation, a field is confirmed only through a matching
// pending confirmation).
package session

import (
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/intakecall/pkg/types"
)

// DefaultHistoryLimit is the number of history messages kept per session.
const DefaultHistoryLimit = 20

// ErrNoPending is returned by ConfirmPending and RejectPending when no
// confirmation is outstanding.
var ErrNoPending = errors.New("session: no pending confirmation")

// FieldValue is one collected answer.
type FieldValue struct {
	Value     string `json:"value"`
	Confirmed bool   `json:"confirmed"`
}

// Pending is a tentative value awaiting a yes/no from the caller.
type Pending struct {
	Field   string    `json:"field"`
	Value   string    `json:"value"`
	AskedAt time.Time `json:"asked_at"`
}

// Session is one interview instance.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Section is the current section name. Empty once Complete is set.
	Section  string `json:"section"`
	Complete bool   `json:"complete"`

	Fields    map[string]FieldValue `json:"fields"`
	Confirmed []string              `json:"confirmed"`
	Pending   *Pending              `json:"pending,omitempty"`
	Flags     map[string]bool       `json:"flags"`

	// Skipped and Completed record section traversal in order.
	Skipped   []string `json:"skipped,omitempty"`
	Completed []string `json:"completed,omitempty"`

	History      []types.Message `json:"history"`
	HistoryLimit int             `json:"history_limit"`
	LastActivity time.Time       `json:"last_activity"`

	// Phone is the caller's number when the transport knows it.
	Phone string `json:"phone,omitempty"`
	// Transport names the audio transport kind ("browser", "twilio").
	Transport string `json:"transport,omitempty"`
}

// Option configures a new Session.
type Option func(*Session)

// WithHistoryLimit caps the number of retained history messages.
func WithHistoryLimit(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.HistoryLimit = n
		}
	}
}

// WithPhone records the caller's phone number.
func WithPhone(phone string) Option {
	return func(s *Session) {
		s.Phone = phone
	}
}

// WithTransport records the transport kind.
func WithTransport(kind string) Option {
	return func(s *Session) {
		s.Transport = kind
	}
}

// New creates a session positioned at firstSection.
func New(id, firstSection string, now time.Time, opts ...Option) *Session {
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Section:      firstSection,
		Fields:       make(map[string]FieldValue),
		Flags:        make(map[string]bool),
		HistoryLimit: DefaultHistoryLimit,
		LastActivity: now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Value returns the collected value of field.
func (s *Session) Value(field string) (string, bool) {
	fv, ok := s.Fields[field]
	return fv.Value, ok
}

// Answer returns the collected value of field or "".
func (s *Session) Answer(field string) string {
	return s.Fields[field].Value
}

// Has reports whether field holds a value.
func (s *Session) Has(field string) bool {
	_, ok := s.Fields[field]
	return ok
}

// Flag reports whether a conditional rule has set name.
func (s *Session) Flag(name string) bool {
	return s.Flags[name]
}

// IsConfirmed reports whether field is in the confirmed set.
func (s *Session) IsConfirmed(field string) bool {
	return slices.Contains(s.Confirmed, field)
}

// SetField stores an unconfirmed value.
func (s *Session) SetField(field, value string) {
	s.Fields[field] = FieldValue{Value: value}
}

// SetPending stores value unconfirmed and records it as the single pending
// confirmation, replacing any earlier one.
func (s *Session) SetPending(field, value string, now time.Time) {
	s.SetField(field, value)
	s.Pending = &Pending{Field: field, Value: value, AskedAt: now}
}

// ConfirmPending marks the pending field confirmed and clears the pending
// record. It returns the confirmed field.
func (s *Session) ConfirmPending() (string, error) {
	p := s.Pending
	if p == nil {
		return "", ErrNoPending
	}
	s.Fields[p.Field] = FieldValue{Value: p.Value, Confirmed: true}
	if !s.IsConfirmed(p.Field) {
		s.Confirmed = append(s.Confirmed, p.Field)
	}
	s.Pending = nil
	return p.Field, nil
}

// RejectPending discards the tentative value and clears the pending record.
// It returns the field that must be asked again.
func (s *Session) RejectPending() (string, error) {
	p := s.Pending
	if p == nil {
		return "", ErrNoPending
	}
	delete(s.Fields, p.Field)
	s.Pending = nil
	return p.Field, nil
}

// AddMessage appends to the bounded history, dropping the oldest entries.
func (s *Session) AddMessage(role, content string, now time.Time) {
	s.History = append(s.History, types.Message{Role: role, Content: content, Timestamp: now})
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if over := len(s.History) - limit; over > 0 {
		s.History = slices.Delete(s.History, 0, over)
	}
	s.LastActivity = now
}

// RecentHistory returns up to n of the newest history messages.
func (s *Session) RecentHistory(n int) []types.Message {
	if n <= 0 || n >= len(s.History) {
		return slices.Clone(s.History)
	}
	return slices.Clone(s.History[len(s.History)-n:])
}

// Touch records activity.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
}

// FieldMap flattens the collected fields to identifier → value.
func (s *Session) FieldMap() map[string]string {
	out := make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		out[k] = v.Value
	}
	return out
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Fields = make(map[string]FieldValue, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	c.Flags = make(map[string]bool, len(s.Flags))
	for k, v := range s.Flags {
		c.Flags[k] = v
	}
	c.Confirmed = slices.Clone(s.Confirmed)
	c.Skipped = slices.Clone(s.Skipped)
	c.Completed = slices.Clone(s.Completed)
	c.History = slices.Clone(s.History)
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}

// Stats summarises interview progress.
type Stats struct {
	FieldsCollected   int           `json:"fields_collected"`
	FieldsConfirmed   int           `json:"fields_confirmed"`
	SectionsCompleted int           `json:"sections_completed"`
	SectionsSkipped   int           `json:"sections_skipped"`
	CurrentSection    string        `json:"current_section"`
	Duration          time.Duration `json:"duration"`
	LastActivity      time.Time     `json:"last_activity"`
}

// Stats reports progress as of now.
func (s *Session) Stats(now time.Time) Stats {
	return Stats{
		FieldsCollected:   len(s.Fields),
		FieldsConfirmed:   len(s.Confirmed),
		SectionsCompleted: len(s.Completed),
		SectionsSkipped:   len(s.Skipped),
		CurrentSection:    s.Section,
		Duration:          now.Sub(s.CreatedAt),
		LastActivity:      s.LastActivity,
	}
}
