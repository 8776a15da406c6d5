package drop

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object as reported by the BlobStore.
// Size is negative when the store cannot know it before the body is read.
type BlobInfo struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Blob is an object read back from the BlobStore. The caller must close Body.
type Blob struct {
	BlobInfo
	Body io.ReadCloser
}

// BlobStore holds uploaded file bytes, keyed by "{instanceID}-{fileID}".
// Put overwrites an existing key. There is no versioning.
type BlobStore interface {
	// Put stores everything read from r under key and reports what was stored.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (BlobInfo, error)

	// Get opens the object stored under key. Returns ErrBlobNotFound if absent.
	Get(ctx context.Context, key string) (*Blob, error)

	// Delete removes the object under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Sealer transforms blob bytes for storage at rest and back.
type Sealer interface {
	// Seal reads plaintext from r and writes sealed bytes to w.
	Seal(r io.Reader, w io.Writer) error

	// Open reads sealed bytes from r and writes plaintext to w.
	Open(r io.Reader, w io.Writer) error
}

// BlobKey returns the storage key for a file within a session instance.
func BlobKey(instanceID, fileID string) string {
	return instanceID + "-" + fileID
}
