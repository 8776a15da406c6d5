package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"filedrop/internal/drop"
)

// ManualTimer is a drop.Timer that only records schedules. Tests fire
// deadlines explicitly with Fire.
type ManualTimer struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	schedules int
	err       error
	fire      drop.FireFunc
}

// NewManualTimer creates an empty ManualTimer.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{pending: make(map[string]time.Time)}
}

// OnFire sets the callback run by Fire.
func (m *ManualTimer) OnFire(fn drop.FireFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fire = fn
}

// FailWith makes later Schedule calls return err. Pass nil to recover.
func (m *ManualTimer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *ManualTimer) Schedule(ctx context.Context, scopeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pending[scopeID] = at
	m.schedules++
	return nil
}

func (m *ManualTimer) Cancel(ctx context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, scopeID)
	return nil
}

// Pending returns the scheduled deadline of scopeID.
func (m *ManualTimer) Pending(scopeID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.pending[scopeID]
	return at, ok
}

// Scopes returns every scope with a pending deadline, sorted.
func (m *ManualTimer) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	scopes := make([]string, 0, len(m.pending))
	for scope := range m.pending {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// Schedules returns how many times Schedule succeeded.
func (m *ManualTimer) Schedules() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules
}

// Fire clears the pending deadline of scopeID and runs the callback.
func (m *ManualTimer) Fire(ctx context.Context, scopeID string) {
	m.mu.Lock()
	delete(m.pending, scopeID)
	fire := m.fire
	m.mu.Unlock()

	if fire != nil {
		fire(ctx, scopeID)
	}
}

var _ drop.Timer = (*ManualTimer)(nil)
