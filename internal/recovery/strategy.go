package recovery

import (
	"context"
	"fmt"
)

// StrategyKind tags which Applier a session uses.
type StrategyKind string

const (
	// StrategyCheckpoint folds a binary WAL segment into the store file.
	StrategyCheckpoint StrategyKind = "checkpoint"
	// StrategyReplay executes a textual statement log as one transaction.
	StrategyReplay StrategyKind = "replay"
)

// ParseStrategyKind parses a strategy name.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch StrategyKind(s) {
	case StrategyCheckpoint, StrategyReplay:
		return StrategyKind(s), nil
	default:
		return "", fmt.Errorf("unknown recovery strategy: %q", s)
	}
}

// Strategy is the interchangeable apply step of a session. Fetching,
// guarding, verification and cleanup are shared by all strategies.
type Strategy interface {
	Kind() StrategyKind

	// LogPath returns where the fetched artifact is placed for storePath.
	LogPath(storePath string) string

	// Apply folds the artifact at logPath into the store at storePath.
	// Failures are *PhaseError values in PhaseApply.
	Apply(ctx context.Context, storePath, logPath string) error

	// Residue lists the files to remove once Apply has run, whatever its
	// outcome.
	Residue(storePath, logPath string) []string
}
