// Package budget tracks the daily search budget and the quiet-hours window.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/machinarr/machinarr/internal/persist"
	"github.com/machinarr/machinarr/internal/store"
)

const dateLayout = "2006-01-02"

// State is the persisted daily counter set.
type State struct {
	APIHitsToday  int    `json:"apiHitsToday"`
	FindsToday    int    `json:"findsToday"`
	FindsTotal    int    `json:"findsTotal"`
	LastResetDate string `json:"lastResetDate"`
}

// Rollover resets the daily counters when now falls on a later UTC date than
// LastResetDate. It is idempotent for a given date.
func Rollover(s State, now time.Time) (State, bool) {
	today := now.UTC().Format(dateLayout)
	if s.LastResetDate == today {
		return s, false
	}
	s.APIHitsToday = 0
	s.FindsToday = 0
	s.LastResetDate = today
	return s, true
}

// Ledger owns the daily counters. Every access applies Rollover first.
type Ledger struct {
	mu       sync.Mutex
	state    State
	limit    int
	clock    clockwork.Clock
	onReset  []func()
	resetSet bool
	dirty    persist.DirtyCounter
	queries  *store.Queries
}

// NewLedger creates a ledger enforcing limit API hits per UTC day.
func NewLedger(limit int, clock clockwork.Clock) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Ledger{limit: limit, clock: clock}
}

// OnReset registers a callback run (without the ledger lock) after a daily
// rollover.
func (l *Ledger) OnReset(fn func()) {
	l.mu.Lock()
	l.onReset = append(l.onReset, fn)
	l.mu.Unlock()
}

// roll must be called with mu held. It returns the callbacks to run.
func (l *Ledger) roll() []func() {
	next, reset := Rollover(l.state, l.clock.Now())
	if !reset {
		return nil
	}
	l.state = next
	l.dirty.Mark()
	if !l.resetSet {
		// The first rollover after startup only stamps the date.
		l.resetSet = true
		return nil
	}
	return l.onReset
}

func (l *Ledger) with(fn func()) {
	l.mu.Lock()
	callbacks := l.roll()
	fn()
	l.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int {
	return l.limit
}

// Remaining returns how many API hits are left today.
func (l *Ledger) Remaining() int {
	var remaining int
	l.with(func() {
		remaining = l.limit - l.state.APIHitsToday
	})
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether today's budget is spent.
func (l *Ledger) Exhausted() bool {
	return l.Remaining() <= 0
}

// TryConsume takes one unit of budget. It returns false when none is left.
func (l *Ledger) TryConsume() bool {
	ok := false
	l.with(func() {
		if l.state.APIHitsToday < l.limit {
			l.state.APIHitsToday++
			l.dirty.Mark()
			ok = true
		}
	})
	return ok
}

// RecordFind counts a confirmed find.
func (l *Ledger) RecordFind() {
	l.with(func() {
		l.state.FindsToday++
		l.state.FindsTotal++
		l.dirty.Mark()
	})
}

// Snapshot returns the current counters after rollover.
func (l *Ledger) Snapshot() State {
	var s State
	l.with(func() {
		s = l.state
	})
	return s
}

// Restore replaces the counters with persisted state.
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	l.resetSet = s.LastResetDate != ""
}

// SetStore enables persistence.
func (l *Ledger) SetStore(q *store.Queries) {
	l.queries = q
}

// Name implements persist.Snapshotter.
func (l *Ledger) Name() string {
	return "counters"
}

// Dirty returns the number of unsaved mutations.
func (l *Ledger) Dirty() int {
	return l.dirty.Count()
}

// Save writes the counters.
func (l *Ledger) Save(ctx context.Context) error {
	if l.queries == nil {
		l.dirty.Settle(l.dirty.Count())
		return nil
	}
	l.mu.Lock()
	s := l.state
	seen := l.dirty.Count()
	l.mu.Unlock()

	err := l.queries.SaveCounters(ctx, store.CountersRow{
		APIHitsToday:  s.APIHitsToday,
		FindsToday:    s.FindsToday,
		FindsTotal:    s.FindsTotal,
		LastResetDate: s.LastResetDate,
	})
	if err != nil {
		return fmt.Errorf("save counters: %w", err)
	}
	l.dirty.Settle(seen)
	return nil
}

// Load restores the counters from the store.
func (l *Ledger) Load(ctx context.Context) error {
	if l.queries == nil {
		return nil
	}
	row, err := l.queries.GetCounters(ctx)
	if err != nil {
		return fmt.Errorf("load counters: %w", err)
	}
	l.Restore(State{
		APIHitsToday:  row.APIHitsToday,
		FindsToday:    row.FindsToday,
		FindsTotal:    row.FindsTotal,
		LastResetDate: row.LastResetDate,
	})
	return nil
}
