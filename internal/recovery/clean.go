package recovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	walSuffix = "-wal"
	shmSuffix = "-shm"
)

// WALPath returns the side log path the engine uses for storePath.
func WALPath(storePath string) string { return storePath + walSuffix }

// SharedIndexPath returns the shared-memory index path for storePath.
func SharedIndexPath(storePath string) string { return storePath + shmSuffix }

// ResiduePaths returns the transient files that must not outlive a session
// on a store in its canonical single-file state.
func ResiduePaths(storePath string) []string {
	return []string{WALPath(storePath), SharedIndexPath(storePath)}
}

// Cleaner removes transient log and index files. It is idempotent: absent
// files are skipped silently, so it may run at the end of apply, at the end
// of a session, and again at process exit.
type Cleaner struct {
	logger Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(logger Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean removes each path. Failures other than "does not exist" are
// returned as warnings; Clean never fails.
func (c *Cleaner) Clean(paths ...string) []Warning {
	var warnings []Warning
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			c.logger.Info("removed residue", "path", p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			c.logger.Warn("failed to remove residue", "path", p, "error", err)
			warnings = append(warnings, Warning{
				Phase:   PhaseCleanup,
				Message: fmt.Sprintf("removing %s: %v", p, err),
			})
		}
	}
	return warnings
}

// Leftovers reports which of paths still exist.
func (c *Cleaner) Leftovers(paths ...string) []string {
	var left []string
	for _, p := range paths {
		if exists(p) {
			left = append(left, p)
		}
	}
	return left
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
