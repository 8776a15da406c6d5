package blob

import (
	"context"
	"fmt"
	"io"

	"filedrop/internal/drop"
)

// SealedStore wraps another BlobStore and seals object bytes at rest.
// Callers see plaintext in both directions.
type SealedStore struct {
	inner  drop.BlobStore
	sealer drop.Sealer
}

// NewSealedStore wraps inner so every object is sealed with sealer.
func NewSealedStore(inner drop.BlobStore, sealer drop.Sealer) *SealedStore {
	return &SealedStore{inner: inner, sealer: sealer}
}

// Put seals r while streaming it into the inner store. The reported size is
// the plaintext size.
func (s *SealedStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (drop.BlobInfo, error) {
	plain := &countingReader{r: r}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.sealer.Seal(plain, pw))
	}()

	info, err := s.inner.Put(ctx, key, pr, contentType)
	// Unblocks the sealing goroutine if the inner store stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return drop.BlobInfo{}, fmt.Errorf("storing sealed object: %w", err)
	}

	info.Size = plain.n
	return info, nil
}

// Get opens the sealed object and returns a plaintext body. The plaintext
// size is not known until the body is read, so Size is reported as -1.
func (s *SealedStore) Get(ctx context.Context, key string) (*drop.Blob, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := s.sealer.Open(sealed.Body, pw)
		sealed.Body.Close()
		pw.CloseWithError(err)
	}()

	info := sealed.BlobInfo
	info.Size = -1
	return &drop.Blob{BlobInfo: info, Body: pr}, nil
}

// Delete removes the sealed object.
func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Compile-time check that SealedStore implements drop.BlobStore
var _ drop.BlobStore = (*SealedStore)(nil)
