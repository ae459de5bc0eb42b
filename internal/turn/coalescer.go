// Package turn implements the real-time turn-taking primitives of a call:
// the [Coalescer], which turns a stream of final transcript fragments into
// whole utterances, and the [BargeIn] monitor, which detects the caller
// talking over synthesized speech.
//
// Both types own cancellable timers. Starting a timer for a purpose always
// stops the previous timer for the same purpose first, and Close stops all of
// them.
package turn

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intakecall/pkg/types"
)

const (
	// DefaultDebounce is the quiet period after the last final fragment
	// before the buffered utterance is emitted.
	DefaultDebounce = 300 * time.Millisecond

	// DefaultCeiling bounds how long a batch may keep growing, measured from
	// its first final fragment.
	DefaultCeiling = 5 * time.Second
)

// Utterance is one coalesced spoken turn.
type Utterance struct {
	// Text is the trimmed fragments joined by single spaces.
	Text string
	// Fragments is the number of non-empty finals merged into Text.
	Fragments int
	// FirstFinal is when the first fragment of the batch arrived.
	FirstFinal time.Time
	// EmittedAt is when the batch was closed.
	EmittedAt time.Time
	// Forced is set when the ceiling, not the debounce, closed the batch.
	Forced bool
}

// CoalescerOption configures a [Coalescer].
type CoalescerOption func(*Coalescer)

// WithDebounce sets the debounce window. Non-positive values are ignored.
func WithDebounce(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithCeiling sets the hard ceiling. Non-positive values are ignored.
func WithCeiling(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.ceiling = d
		}
	}
}

// WithClock sets the time source used to stamp utterances. Timers always
// run on wall time.
func WithClock(now func() time.Time) CoalescerOption {
	return func(c *Coalescer) {
		c.now = now
	}
}

// WithInterimHandler registers fn to receive interim transcripts. It is
// called synchronously from [Coalescer.Add] and must not block.
func WithInterimHandler(fn func(types.Transcript)) CoalescerOption {
	return func(c *Coalescer) {
		c.onInterim = fn
	}
}

// Coalescer merges final transcript fragments into utterances.
//
// Each final fragment is appended to the current batch and restarts the
// debounce timer. The batch is emitted when the debounce expires or when the
// ceiling, started by the batch's first fragment, trips. Interim transcripts
// are handed to the interim handler and never buffered.
//
// Emitted utterances are queued in FIFO order and delivered on
// [Coalescer.Utterances] one at a time, so a single reader processes exactly
// one utterance at a time while later ones wait.
//
// All methods are safe for concurrent use.
type Coalescer struct {
	debounce  time.Duration
	ceiling   time.Duration
	now       func() time.Time
	onInterim func(types.Transcript)

	mu            sync.Mutex
	fragments     []string
	firstFinal    time.Time
	batch         uint64 // incremented whenever a batch is emitted or dropped
	debounceSeq   uint64 // incremented whenever the debounce timer restarts
	debounceTimer *time.Timer
	ceilingTimer  *time.Timer
	queue         []Utterance
	closed        bool

	notify chan struct{}
	done   chan struct{}
	out    chan Utterance
}

// NewCoalescer creates a Coalescer and starts its delivery goroutine. Call
// [Coalescer.Close] to stop it.
func NewCoalescer(opts ...CoalescerOption) *Coalescer {
	c := &Coalescer{
		debounce: DefaultDebounce,
		ceiling:  DefaultCeiling,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan Utterance),
	}
	for _, o := range opts {
		o(c)
	}
	go c.deliver()
	return c
}

// Utterances returns the stream of emitted utterances. It is closed by
// [Coalescer.Close].
func (c *Coalescer) Utterances() <-chan Utterance {
	return c.out
}

// Add feeds one transcript event. Interims go to the interim handler; finals
// with non-blank text join the current batch.
func (c *Coalescer) Add(t types.Transcript) {
	if !t.IsFinal {
		if c.onInterim != nil {
			c.onInterim(t)
		}
		return
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if len(c.fragments) == 0 {
		c.firstFinal = c.now()
		batch := c.batch
		c.ceilingTimer = time.AfterFunc(c.ceiling, func() { c.fireCeiling(batch) })
	}
	c.fragments = append(c.fragments, text)

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceSeq++
	seq := c.debounceSeq
	c.debounceTimer = time.AfterFunc(c.debounce, func() { c.fireDebounce(seq) })
}

// Pending reports how many fragments are buffered.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fragments)
}

func (c *Coalescer) fireDebounce(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq != c.debounceSeq || len(c.fragments) == 0 {
		return
	}
	c.emitLocked(false)
}

func (c *Coalescer) fireCeiling(batch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || batch != c.batch || len(c.fragments) == 0 {
		return
	}
	c.emitLocked(true)
}

// emitLocked closes the current batch and queues it. c.mu must be held.
func (c *Coalescer) emitLocked(forced bool) {
	u := Utterance{
		Text:       strings.Join(c.fragments, " "),
		Fragments:  len(c.fragments),
		FirstFinal: c.firstFinal,
		EmittedAt:  c.now(),
		Forced:     forced,
	}
	c.resetLocked()
	c.queue = append(c.queue, u)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// resetLocked drops the batch and stops its timers. c.mu must be held.
func (c *Coalescer) resetLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.ceilingTimer != nil {
		c.ceilingTimer.Stop()
		c.ceilingTimer = nil
	}
	c.fragments = nil
	c.firstFinal = time.Time{}
	c.batch++
}

// deliver hands queued utterances to the reader in order.
func (c *Coalescer) deliver() {
	defer close(c.out)
	for {
		c.mu.Lock()
		var (
			next Utterance
			ok   bool
		)
		if len(c.queue) > 0 {
			next, ok = c.queue[0], true
		}
		c.mu.Unlock()

		if !ok {
			select {
			case <-c.notify:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.out <- next:
			c.mu.Lock()
			if len(c.queue) > 0 {
				c.queue = c.queue[1:]
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops all timers and the delivery goroutine. A partially buffered
// batch and undelivered utterances are dropped. Safe to call more than once.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.resetLocked()
	c.queue = nil
	close(c.done)
}
