package encryption

import (
	"fmt"
	"strings"

	"filedrop/internal/config"
	"filedrop/internal/drop"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
// It returns nil for "none", meaning blobs are stored as received.
func NewSealerFromConfig(cfg config.EncryptionConfig) (drop.Sealer, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return nil, nil
	case "age":
		return NewAgeSealer(cfg), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
