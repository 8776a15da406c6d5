package encryption

import (
	"bytes"
	"fmt"
	"io"

	"filedrop/internal/drop"
)

// testHeader is prepended to data by TestSealer so sealed output is clearly
// different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("FDSEAL\x00\x00")

// TestSealer is a deterministic sealer for tests. It prepends a fixed 8-byte
// header when sealing and strips it when opening.
type TestSealer struct{}

var _ drop.Sealer = (*TestSealer)(nil)

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Seal(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (s *TestSealer) Open(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test seal header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
