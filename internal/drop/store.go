package drop

import (
	"context"
	"time"
)

// MetadataStore is key/value persistence scoped to one session instance.
// Values are opaque bytes; the coordinator stores JSON.
type MetadataStore interface {
	// Get returns the value of field in scope, or nil if it was never written.
	Get(ctx context.Context, scopeID, field string) ([]byte, error)

	// Put replaces the value of field in scope.
	Put(ctx context.Context, scopeID, field string, value []byte) error

	// DeleteAll removes every field of scope.
	DeleteAll(ctx context.Context, scopeID string) error

	// Close releases the underlying connection.
	Close() error
}

// Deadline is a pending expiry for one scope.
type Deadline struct {
	ScopeID string
	At      time.Time
}

// DeadlineStore persists pending expiry deadlines so they survive restarts.
// Metadata stores implement it alongside MetadataStore.
type DeadlineStore interface {
	SaveDeadline(ctx context.Context, scopeID string, at time.Time) error
	DeleteDeadline(ctx context.Context, scopeID string) error
	ListDeadlines(ctx context.Context) ([]Deadline, error)
}
