// Package timer provides the in-process expiry timer used by the session hub.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"filedrop/internal/drop"
)

// LocalTimer implements drop.Timer with one time.AfterFunc per scope.
// Scheduling a scope again replaces its pending wake-up, and a replaced or
// cancelled wake-up never fires. When a DeadlineStore is configured every
// schedule is persisted so Restore can re-arm pending wake-ups after a restart.
type LocalTimer struct {
	clock     drop.Clock
	logger    drop.Logger
	deadlines drop.DeadlineStore

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	fire    drop.FireFunc
	stopped bool
}

type entry struct {
	timer *time.Timer
	gen   uint64
	at    time.Time
}

// New creates a LocalTimer. deadlines may be nil, in which case schedules only
// live in memory.
func New(clock drop.Clock, logger drop.Logger, deadlines drop.DeadlineStore) *LocalTimer {
	return &LocalTimer{
		clock:     clock,
		logger:    logger,
		deadlines: deadlines,
		entries:   make(map[string]*entry),
	}
}

// OnFire sets the callback invoked when a scope's deadline elapses.
func (t *LocalTimer) OnFire(fn drop.FireFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fire = fn
}

// Schedule arms scopeID to fire at the given time, replacing any pending
// wake-up. Deadlines in the past fire immediately.
func (t *LocalTimer) Schedule(ctx context.Context, scopeID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.deadlines != nil {
		if err := t.deadlines.SaveDeadline(ctx, scopeID, at); err != nil {
			return fmt.Errorf("persisting deadline: %w", err)
		}
	}
	t.arm(scopeID, at)
	return nil
}

// Cancel drops the pending wake-up of scopeID, if any.
func (t *LocalTimer) Cancel(ctx context.Context, scopeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[scopeID]; ok {
		e.timer.Stop()
		delete(t.entries, scopeID)
	}
	if t.deadlines != nil {
		if err := t.deadlines.DeleteDeadline(ctx, scopeID); err != nil {
			return fmt.Errorf("deleting deadline: %w", err)
		}
	}
	return nil
}

// Restore re-arms every deadline persisted in the DeadlineStore and returns
// how many were armed.
func (t *LocalTimer) Restore(ctx context.Context) (int, error) {
	if t.deadlines == nil {
		return 0, nil
	}
	deadlines, err := t.deadlines.ListDeadlines(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading deadlines: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range deadlines {
		t.arm(d.ScopeID, d.At)
	}
	return len(deadlines), nil
}

// Pending returns the armed deadline of scopeID.
func (t *LocalTimer) Pending(scopeID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[scopeID]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of armed scopes.
func (t *LocalTimer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stop disarms every pending wake-up without touching persisted deadlines,
// so they are picked up again by Restore on the next start.
func (t *LocalTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for scopeID, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, scopeID)
	}
	t.stopped = true
}

// arm expects t.mu to be held.
func (t *LocalTimer) arm(scopeID string, at time.Time) {
	if t.stopped {
		return
	}
	if e, ok := t.entries[scopeID]; ok {
		e.timer.Stop()
	}

	t.gen++
	gen := t.gen
	delay := at.Sub(t.clock.Now())
	if delay < 0 {
		delay = 0
	}
	t.entries[scopeID] = &entry{
		gen:   gen,
		at:    at,
		timer: time.AfterFunc(delay, func() { t.expire(scopeID, gen) }),
	}
}

func (t *LocalTimer) expire(scopeID string, gen uint64) {
	ctx := context.Background()

	t.mu.Lock()
	e, ok := t.entries[scopeID]
	if !ok || e.gen != gen {
		// Replaced or cancelled after the runtime timer was already queued.
		t.mu.Unlock()
		return
	}
	delete(t.entries, scopeID)
	if t.deadlines != nil {
		if err := t.deadlines.DeleteDeadline(ctx, scopeID); err != nil {
			t.logger.Warn("deleting fired deadline", "scope", scopeID, "error", err)
		}
	}
	fire := t.fire
	t.mu.Unlock()

	if fire == nil {
		t.logger.Warn("deadline fired with no handler", "scope", scopeID)
		return
	}
	t.logger.Debug("deadline fired", "scope", scopeID)
	fire(ctx, scopeID)
}

// Compile-time check that LocalTimer implements drop.Timer
var _ drop.Timer = (*LocalTimer)(nil)
