package drop

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const (
	// SessionTokenLength is the length of ids returned by CreateSession.
	SessionTokenLength = 8

	sessionAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	// instanceNamespace is mixed into name hashing so instance addresses are
	// specific to this service.
	instanceNamespace = "filedrop/session/"

	// expireRetryDelay is how long the hub waits before retrying a failed teardown.
	expireRetryDelay = time.Minute
)

// Hub routes session ids to their coordinators. The map lock covers lookup,
// insert, and removal only; it is never held while a coordinator runs.
type Hub struct {
	mu           sync.Mutex
	coordinators map[string]*Coordinator

	blobs  BlobStore
	store  MetadataStore
	timer  Timer
	logger Logger
	clock  Clock
	idgen  IDGenerator
	opts   Options
}

// NewHub creates a Hub whose coordinators share the given adapters.
// The timer's fire callback should be bound to Hub.Expire.
func NewHub(blobs BlobStore, store MetadataStore, timer Timer, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Hub {
	return &Hub{
		coordinators: make(map[string]*Coordinator),
		blobs:        blobs,
		store:        store,
		timer:        timer,
		logger:       logger,
		clock:        clock,
		idgen:        idgen,
		opts:         opts,
	}
}

// CreateSession returns a fresh random session id. Collisions are not checked.
func (h *Hub) CreateSession() (string, error) {
	max := big.NewInt(int64(len(sessionAlphabet)))
	var b strings.Builder
	for range SessionTokenLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating session id: %w", err)
		}
		b.WriteByte(sessionAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ResolveInstance maps a session id to its instance address. A 64-character
// hex id is already an address; anything else is a name and is hashed.
func ResolveInstance(session string) string {
	if isInstanceAddress(session) {
		return strings.ToLower(session)
	}
	sum := sha256.Sum256([]byte(instanceNamespace + session))
	return hex.EncodeToString(sum[:])
}

func isInstanceAddress(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Lookup returns the coordinator serving session.
func (h *Hub) Lookup(session string) *Coordinator {
	return h.Coordinator(ResolveInstance(session))
}

// Coordinator returns the live coordinator for instanceID, creating it if it
// does not exist or has expired.
func (h *Hub) Coordinator(instanceID string) *Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.coordinators[instanceID]; ok && !c.Expired() {
		return c
	}
	c := NewCoordinator(instanceID, h.blobs, h.store, h.timer, h.logger, h.clock, h.idgen, h.opts)
	h.coordinators[instanceID] = c
	return c
}

// Expire tears down the session at instanceID. It matches FireFunc so it can
// be bound to the timer. A failed teardown is retried later.
func (h *Hub) Expire(ctx context.Context, instanceID string) {
	c := h.Coordinator(instanceID)
	if err := c.Expire(ctx); err != nil {
		h.logger.Error("expiring session", "instance", instanceID, "error", err)
		at := h.clock.Now().Add(expireRetryDelay)
		if err := h.timer.Schedule(ctx, instanceID, at); err != nil {
			h.logger.Error("scheduling expiry retry", "instance", instanceID, "error", err)
		}
		return
	}

	h.mu.Lock()
	if h.coordinators[instanceID] == c {
		delete(h.coordinators, instanceID)
	}
	h.mu.Unlock()
}

// Shutdown closes every live connection with a going-away code. Durable state
// is left in place for the next start.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	coordinators := make([]*Coordinator, 0, len(h.coordinators))
	for _, c := range h.coordinators {
		coordinators = append(coordinators, c)
	}
	h.mu.Unlock()

	for _, c := range coordinators {
		c.CloseConnections(CloseGoingAway, "Server shutting down.")
	}
}

// Len returns the number of live coordinators.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.coordinators)
}
