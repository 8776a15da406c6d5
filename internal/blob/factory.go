package blob

import (
	"context"
	"fmt"

	"filedrop/internal/config"
	"filedrop/internal/drop"
)

// NewStoreFromConfig creates a BlobStore based on the blob config type. When
// sealer is non-nil the store seals every object at rest.
func NewStoreFromConfig(ctx context.Context, cfg config.BlobConfig, sealer drop.Sealer) (drop.BlobStore, error) {
	var store drop.BlobStore
	switch cfg.Type {
	case "memory":
		store = NewMemoryStore(drop.RealClock{})
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		fsStore, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		store = fsStore
	case "s3":
		s3Store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PathStyle:       cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s3Store
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}

	if sealer != nil {
		store = NewSealedStore(store, sealer)
	}
	return store, nil
}
