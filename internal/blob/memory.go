package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"filedrop/internal/drop"
)

// MemoryStore is an in-memory implementation of drop.BlobStore.
// It is useful for tests and single-process deployments that do not need
// files to survive a restart. This implementation is safe for concurrent use.
type MemoryStore struct {
	objects map[string]memoryObject
	clock   drop.Clock
	mu      sync.RWMutex
}

type memoryObject struct {
	data []byte
	info drop.BlobInfo
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore(clock drop.Clock) *MemoryStore {
	if clock == nil {
		clock = drop.RealClock{}
	}
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		clock:   clock,
	}
}

// Put stores everything read from r under key, replacing any previous object.
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (drop.BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return drop.BlobInfo{}, fmt.Errorf("reading object: %w", err)
	}

	sum := sha256.Sum256(data)
	info := drop.BlobInfo{
		Size:         int64(len(data)),
		ContentType:  contentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, info: info}
	return info, nil
}

// Get returns the object stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*drop.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", drop.ErrBlobNotFound, key)
	}
	return &drop.Blob{
		BlobInfo: obj.info,
		Body:     io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// Delete removes the object under key if present.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Compile-time check that MemoryStore implements drop.BlobStore
var _ drop.BlobStore = (*MemoryStore)(nil)
