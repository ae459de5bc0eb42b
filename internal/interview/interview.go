// Package interview implements the intake state machine.
//
// The machine has one state per section of the question bank plus a terminal
// complete state. Progress inside a section is never stored explicitly: the
// active question is recomputed on every decision as the first question in
// the current section that is eligible (its dependency is met) and has no
// collected value. Given a session and one coalesced utterance, [Engine.Decide]
// mutates the session through the primitives of package session and returns
// the [Action] the orchestrator should speak.
//
// The engine is stateless apart from the immutable bank and may be shared by
// any number of sessions. A single session must not be decided concurrently.
package interview

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/intakecall/internal/fieldbank"
	"github.com/MrWong99/intakecall/internal/session"
)

var (
	// ErrComplete is returned by Decide once the interview has ended.
	ErrComplete = errors.New("interview: already complete")

	// ErrMissingSection is returned when the session's current section has no
	// entry in the bank. It is a configuration failure and ends the session.
	ErrMissingSection = errors.New("interview: section missing from field bank")
)

// DefaultClosing is spoken when the last section is done.
const DefaultClosing = "That's everything I need. Thank you for your time. " +
	"An attorney from our office will review your information and follow up with you soon. Goodbye."

// ActionKind classifies what the orchestrator must say next.
type ActionKind string

const (
	// ActionAsk presents a question.
	ActionAsk ActionKind = "ask"
	// ActionConfirm reads a tentative value back for a yes/no.
	ActionConfirm ActionKind = "confirm"
	// ActionReprompt repeats the active question after an invalid answer.
	ActionReprompt ActionKind = "reprompt"
	// ActionComplete closes the interview.
	ActionComplete ActionKind = "complete"
)

// Action is the outcome of one decision.
type Action struct {
	Kind ActionKind
	// Question is the question being asked, confirmed or re-prompted. Nil
	// for ActionComplete.
	Question *fieldbank.Question
	// Say is the scripted text to speak.
	Say string
	// Section is the current section after the decision, empty once complete.
	Section string
	// Transitions lists the sections entered during this decision, in order.
	Transitions []string
	// Skipped lists the sections passed over by a skip rule during this
	// decision.
	Skipped []string
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClosing overrides the closing remark.
func WithClosing(text string) Option {
	return func(e *Engine) {
		if text != "" {
			e.closing = text
		}
	}
}

// WithClock overrides the time source used to stamp pending confirmations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine decides the next interview action.
type Engine struct {
	bank    *fieldbank.Bank
	closing string
	now     func() time.Time
}

// New creates an Engine over bank. The bank must already be validated.
func New(bank *fieldbank.Bank, opts ...Option) *Engine {
	e := &Engine{
		bank:    bank,
		closing: DefaultClosing,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bank returns the question bank the engine runs on.
func (e *Engine) Bank() *fieldbank.Bank { return e.bank }

// NewSession creates a session positioned at the first section.
func (e *Engine) NewSession(id string, opts ...session.Option) *session.Session {
	return session.New(id, e.bank.First(), e.now(), opts...)
}

// Start returns the first question for sess. The skip rule of the starting
// section is evaluated here, on entry.
func (e *Engine) Start(sess *session.Session) (Action, error) {
	if sess.Complete {
		return Action{}, ErrComplete
	}
	if sess.Section == "" {
		sess.Section = e.bank.First()
	}
	i := e.bank.SectionIndex(sess.Section)
	if i < 0 {
		return Action{}, fmt.Errorf("%w: %q", ErrMissingSection, sess.Section)
	}

	var act Action
	if !e.included(sess, sess.Section) {
		sess.Skipped = append(sess.Skipped, sess.Section)
		act.Skipped = append(act.Skipped, sess.Section)
		if !e.enterAfter(sess, i, &act) {
			return e.complete(sess, act), nil
		}
	}
	return e.advance(sess, act)
}

// Decide applies one utterance to sess and returns the next action.
//
// With a pending confirmation the utterance is classified as a yes or no.
// Otherwise it answers the active question: invalid answers leave sess
// untouched and produce [ActionReprompt].
func (e *Engine) Decide(sess *session.Session, utterance string) (Action, error) {
	if sess.Complete {
		return Action{}, ErrComplete
	}
	if sess.Pending != nil {
		return e.resolvePending(sess, utterance)
	}

	q, err := e.NextEligible(sess)
	if err != nil {
		return Action{}, err
	}
	if q == nil {
		// The current section was finished without the move being recorded.
		return e.advance(sess, Action{})
	}

	value, problem := Validate(*q, utterance)
	if problem != "" {
		slog.Debug("answer rejected", "session_id", sess.ID, "field", q.ID, "problem", problem)
		return Action{
			Kind:     ActionReprompt,
			Question: q,
			Say:      problem + " " + QuestionPrompt(*q),
			Section:  sess.Section,
		}, nil
	}

	if q.NeedsConfirmation() {
		sess.SetPending(q.ID, value, e.now())
		e.applyRules(sess, q.ID, value)
		return Action{
			Kind:     ActionConfirm,
			Question: q,
			Say:      ConfirmationPrompt(*q, value),
			Section:  sess.Section,
		}, nil
	}

	sess.SetField(q.ID, value)
	e.applyRules(sess, q.ID, value)
	return e.advance(sess, Action{})
}

func (e *Engine) resolvePending(sess *session.Session, utterance string) (Action, error) {
	if IsAffirmative(utterance) {
		field, err := sess.ConfirmPending()
		if err != nil {
			return Action{}, err
		}
		slog.Debug("field confirmed", "session_id", sess.ID, "field", field)
		return e.advance(sess, Action{})
	}

	field, err := sess.RejectPending()
	if err != nil {
		return Action{}, err
	}
	for _, r := range e.bank.RulesFor(field) {
		delete(sess.Flags, r.Flag)
	}
	q, ok := e.bank.Question(field)
	if !ok {
		return Action{}, fmt.Errorf("interview: pending field %q not in field bank", field)
	}
	slog.Debug("confirmation rejected", "session_id", sess.ID, "field", field)
	return Action{
		Kind:     ActionAsk,
		Question: &q,
		Say:      "Sorry about that, let's try again. " + QuestionPrompt(q),
		Section:  sess.Section,
	}, nil
}

// NextEligible returns the first question of the current section whose
// dependency is met and which has no collected value, or nil when the
// section is done.
func (e *Engine) NextEligible(sess *session.Session) (*fieldbank.Question, error) {
	qs, err := e.bank.Questions(sess.Section)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingSection, sess.Section)
	}
	for i := range qs {
		q := qs[i]
		if sess.Has(q.ID) {
			continue
		}
		if !q.DependsOn.Met(sess) {
			continue
		}
		return &q, nil
	}
	return nil, nil
}

// advance asks the next eligible question, moving forward through sections
// as they run out. act carries transitions already made by the caller.
func (e *Engine) advance(sess *session.Session, act Action) (Action, error) {
	for {
		q, err := e.NextEligible(sess)
		if err != nil {
			return Action{}, err
		}
		if q != nil {
			act.Kind = ActionAsk
			act.Question = q
			act.Section = sess.Section
			act.Say = joinSay(e.remarks(act.Transitions), QuestionPrompt(*q))
			return act, nil
		}

		i := e.bank.SectionIndex(sess.Section)
		sess.Completed = append(sess.Completed, sess.Section)
		if !e.enterAfter(sess, i, &act) {
			return e.complete(sess, act), nil
		}
	}
}

// enterAfter moves sess to the first included section after index i,
// recording skips and the transition. It reports false when no section is
// left.
func (e *Engine) enterAfter(sess *session.Session, i int, act *Action) bool {
	for j := i + 1; j < len(e.bank.Sections); j++ {
		name := e.bank.Sections[j].Name
		if !e.included(sess, name) {
			slog.Info("section skipped", "session_id", sess.ID, "section", name)
			sess.Skipped = append(sess.Skipped, name)
			act.Skipped = append(act.Skipped, name)
			continue
		}
		sess.Section = name
		act.Transitions = append(act.Transitions, name)
		slog.Info("section entered", "session_id", sess.ID, "section", name)
		return true
	}
	return false
}

func (e *Engine) included(sess *session.Session, section string) bool {
	rule, ok := e.bank.SkipRuleFor(section)
	if !ok {
		return true
	}
	return rule.Include(sess.Answer)
}

func (e *Engine) complete(sess *session.Session, act Action) Action {
	sess.Section = ""
	sess.Complete = true
	act.Kind = ActionComplete
	act.Question = nil
	act.Section = ""
	act.Say = e.closing
	slog.Info("interview complete", "session_id", sess.ID, "fields", len(sess.Fields))
	return act
}

// applyRules sets or clears every flag keyed on field. Questions that depend
// on a flag become eligible once it is set.
func (e *Engine) applyRules(sess *session.Session, field, value string) {
	for _, r := range e.bank.RulesFor(field) {
		sess.Flags[r.Flag] = r.Matches(value)
	}
}

// remarks returns one transition remark, for the last section entered.
// Intermediate sections entered and left within one decision had no eligible
// questions and are not announced.
func (e *Engine) remarks(transitions []string) string {
	if len(transitions) == 0 {
		return ""
	}
	return TransitionRemark(transitions[len(transitions)-1])
}

func joinSay(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
