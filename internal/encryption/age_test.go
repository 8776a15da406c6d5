package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"filedrop/internal/config"
)

func newTestAgeSealer(t *testing.T) *AgeSealer {
	t.Helper()
	cfg := config.EncryptionConfig{
		Type:         "age",
		IdentityPath: filepath.Join(t.TempDir(), "keys", "filedrop.key"),
	}
	return NewAgeSealer(cfg)
}

func TestAgeSealer_IsConfigured_BeforeSetup(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)
	if s.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
}

func TestAgeSealer_Setup(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)

	if err := s.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !s.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	info, err := os.Stat(s.identityPath)
	if err != nil {
		t.Fatalf("identity file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("identity mode = %v, want 0600", info.Mode().Perm())
	}

	if err := s.Setup(); err == nil {
		t.Error("second Setup() should refuse to replace the identity")
	}
}

func TestAgeSealer_SealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestAgeSealer(t)
			if err := s.Setup(); err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			var sealed bytes.Buffer
			if err := s.Seal(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("sealed output contains the plaintext")
			}

			var opened bytes.Buffer
			if err := s.Open(bytes.NewReader(sealed.Bytes()), &opened); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeSealer_OpenWithOtherIdentity(t *testing.T) {
	t.Parallel()

	a := newTestAgeSealer(t)
	b := newTestAgeSealer(t)
	for _, s := range []*AgeSealer{a, b} {
		if err := s.Setup(); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}

	var sealed bytes.Buffer
	if err := a.Seal(bytes.NewReader([]byte("secret")), &sealed); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	var out bytes.Buffer
	if err := b.Open(bytes.NewReader(sealed.Bytes()), &out); err == nil {
		t.Error("Open() with a different identity should return error")
	}
}

func TestAgeSealer_SealBeforeSetup(t *testing.T) {
	t.Parallel()

	s := newTestAgeSealer(t)
	var buf bytes.Buffer
	if err := s.Seal(bytes.NewReader([]byte("data")), &buf); err == nil {
		t.Error("Seal() before Setup should return error")
	}
}
