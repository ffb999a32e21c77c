package objectstore

import (
	"context"
	"fmt"

	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

// NewObjectStoreFromConfig creates an ObjectStore based on the source config type.
func NewObjectStoreFromConfig(ctx context.Context, cfg config.SourceConfig) (recovery.ObjectStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		s, err := NewS3StoreFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem source requires fs_root to be set")
		}
		s, err := NewFileSystemStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown source type: %q", cfg.Type)
	}
}
