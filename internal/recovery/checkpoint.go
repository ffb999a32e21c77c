package recovery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// walHeaderSize is the fixed header at the start of a WAL segment. Its first
// four bytes are one of the two big-endian magic numbers below.
const walHeaderSize = 32

const (
	walMagicLE uint32 = 0x377f0682
	walMagicBE uint32 = 0x377f0683
)

// CheckpointMerge recovers a store by placing a fetched WAL segment next to
// it and forcing a truncating checkpoint. The merge is destructive; any
// previous log must already be behind the backup guard.
type CheckpointMerge struct {
	engine  Engine
	cleaner *Cleaner
	logger  Logger
}

// NewCheckpointMerge creates the checkpoint-merge strategy.
func NewCheckpointMerge(engine Engine, cleaner *Cleaner, logger Logger) *CheckpointMerge {
	return &CheckpointMerge{engine: engine, cleaner: cleaner, logger: logger}
}

func (c *CheckpointMerge) Kind() StrategyKind { return StrategyCheckpoint }

func (c *CheckpointMerge) LogPath(storePath string) string { return WALPath(storePath) }

func (c *CheckpointMerge) Residue(storePath, _ string) []string { return ResiduePaths(storePath) }

// Apply opens the store in WAL mode, merges and truncates the log, then
// switches the store back to rollback-journal mode so later opens never
// look for a side log. A non-empty segment must carry a WAL header and must
// merge at least one frame; the engine silently ignores a log it cannot read.
func (c *CheckpointMerge) Apply(ctx context.Context, storePath, logPath string) error {
	logSize, err := checkWALHeader(logPath)
	if err != nil {
		c.logger.Error("wal segment rejected", "log", logPath, "error", err)
		return newPhaseError(PhaseApply, ErrCheckpoint, err)
	}

	// A shared index left from before the swap describes the old log.
	c.cleaner.Clean(SharedIndexPath(storePath))

	store, err := c.engine.Open(ctx, storePath)
	if err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("opening store: %w", err))
	}
	closed := false
	defer func() {
		if !closed {
			store.Close()
		}
	}()

	mode, err := store.SetJournalMode(ctx, JournalWAL)
	if err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("enabling wal mode: %w", err))
	}
	if mode != JournalWAL {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("engine refused wal mode, reports %q", mode))
	}

	if err := store.SetSynchronous(ctx, "NORMAL"); err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("setting synchronous: %w", err))
	}

	res, err := store.CheckpointTruncate(ctx)
	if err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, err)
	}
	if !res.Complete() {
		return newPhaseError(PhaseApply, ErrCheckpoint,
			fmt.Errorf("incomplete checkpoint: busy=%t log=%d checkpointed=%d", res.Busy, res.LogFrames, res.CheckpointedFrames))
	}
	if logSize > 0 && res.CheckpointedFrames == 0 {
		return newPhaseError(PhaseApply, ErrCheckpoint,
			fmt.Errorf("wal segment of %d bytes merged no frames", logSize))
	}
	c.logger.Info("checkpoint completed", "store", storePath, "log", logPath, "frames", res.CheckpointedFrames)

	mode, err = store.SetJournalMode(ctx, JournalDelete)
	if err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("disabling wal mode: %w", err))
	}
	if mode != JournalDelete {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("engine kept journal mode %q", mode))
	}

	closed = true
	if err := store.Close(); err != nil {
		return newPhaseError(PhaseApply, ErrCheckpoint, fmt.Errorf("closing store: %w", err))
	}
	return nil
}

// checkWALHeader returns the size of the segment at path. A missing or empty
// segment is valid; anything else must start with a WAL header.
func checkWALHeader(path string) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening wal segment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("reading wal segment: %w", err)
	}
	if info.Size() == 0 {
		return 0, nil
	}
	if info.Size() < walHeaderSize {
		return 0, fmt.Errorf("wal segment of %d bytes is shorter than its header", info.Size())
	}

	var header [walHeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, fmt.Errorf("reading wal header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(header[:4]); magic != walMagicLE && magic != walMagicBE {
		return 0, fmt.Errorf("wal segment has bad magic %#08x", magic)
	}
	return info.Size(), nil
}
