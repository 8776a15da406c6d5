package drop

import (
	"context"
	"time"
)

// Timer schedules one future wake-up per scope. Scheduling again replaces the
// pending wake-up; it never stacks.
type Timer interface {
	Schedule(ctx context.Context, scopeID string, at time.Time) error
	Cancel(ctx context.Context, scopeID string) error
}

// FireFunc is invoked by a Timer when a scope's deadline elapses.
type FireFunc func(ctx context.Context, scopeID string)
