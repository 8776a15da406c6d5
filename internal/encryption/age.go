package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"filedrop/internal/config"
	"filedrop/internal/drop"
)

// AgeSealer implements drop.Sealer using filippo.io/age with an X25519 key.
// The server both seals and opens, so a single identity file holds the
// private key and the recipient is derived from it.
type AgeSealer struct {
	identityPath string

	once     sync.Once
	identity *age.X25519Identity
	loadErr  error
}

var _ drop.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates an AgeSealer from configuration.
func NewAgeSealer(cfg config.EncryptionConfig) *AgeSealer {
	return &AgeSealer{identityPath: cfg.IdentityPath}
}

// Setup generates a new X25519 identity and writes it to the identity path.
// It refuses to replace an existing identity, since that would make every
// sealed object unreadable.
func (s *AgeSealer) Setup() error {
	if s.IsConfigured() {
		return fmt.Errorf("identity already exists at %s", s.identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(s.identityPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}
	return nil
}

// IsConfigured returns true if the identity file exists.
func (s *AgeSealer) IsConfigured() bool {
	_, err := os.Stat(s.identityPath)
	return err == nil
}

// Seal reads plaintext from r and writes age ciphertext to w.
func (s *AgeSealer) Seal(r io.Reader, w io.Writer) error {
	identity, err := s.load()
	if err != nil {
		return err
	}

	encWriter, err := age.Encrypt(w, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Open reads age ciphertext from r and writes plaintext to w.
func (s *AgeSealer) Open(r io.Reader, w io.Writer) error {
	identity, err := s.load()
	if err != nil {
		return err
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

// load reads the identity once and caches it.
func (s *AgeSealer) load() (*age.X25519Identity, error) {
	s.once.Do(func() {
		data, err := os.ReadFile(s.identityPath)
		if err != nil {
			s.loadErr = fmt.Errorf("reading identity: %w", err)
			return
		}

		identities, err := age.ParseIdentities(bytes.NewReader(data))
		if err != nil {
			s.loadErr = fmt.Errorf("parsing identity: %w", err)
			return
		}
		for _, id := range identities {
			if x, ok := id.(*age.X25519Identity); ok {
				s.identity = x
				return
			}
		}
		s.loadErr = fmt.Errorf("no X25519 identity found in %s", s.identityPath)
	})
	return s.identity, s.loadErr
}
