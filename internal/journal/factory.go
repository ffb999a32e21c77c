package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

// FileName is the journal database file inside data_dir.
const FileName = "sessions.db"

// NewJournalFromConfig opens the Journal selected by the journal config type.
func NewJournalFromConfig(cfg config.JournalConfig) (recovery.Journal, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
		path = filepath.Join(cfg.DataDir, FileName)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}

	j, err := Open(path)
	if err != nil {
		return nil, err
	}
	return j, nil
}
