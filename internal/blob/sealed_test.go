package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"filedrop/internal/drop"
	"filedrop/internal/encryption"
)

func TestSealedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore(nil)
	s := NewSealedStore(inner, encryption.NewTestSealer())

	data := bytes.Repeat([]byte("payload"), 1000)
	info, err := s.Put(ctx, "k", bytes.NewReader(data), "application/octet-stream")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Errorf("Size = %d, want plaintext size %d", info.Size, len(data))
	}

	raw, err := inner.Get(ctx, "k")
	if err != nil {
		t.Fatalf("inner Get() error = %v", err)
	}
	if stored := readBlob(t, raw); bytes.Equal(stored, data) {
		t.Error("inner store holds plaintext")
	}

	b, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if b.Size >= 0 {
		t.Errorf("Size = %d, want unknown", b.Size)
	}
	if got := readBlob(t, b); !bytes.Equal(got, data) {
		t.Errorf("round trip returned %d bytes, want %d", len(got), len(data))
	}
}

func TestSealedStore_GetMissing(t *testing.T) {
	s := NewSealedStore(NewMemoryStore(nil), encryption.NewTestSealer())
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, drop.ErrBlobNotFound) {
		t.Errorf("Get() error = %v, want ErrBlobNotFound", err)
	}
}
