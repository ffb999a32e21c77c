package testutil

import (
	"context"

	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
)

// OverrideStore wraps a real Store and replaces selected operations.
// Nil hooks fall through to the wrapped Store.
type OverrideStore struct {
	recovery.Store
	RoundTripFn      func(ctx context.Context, table, value string) (string, error)
	CheckpointFn     func(ctx context.Context) (recovery.CheckpointResult, error)
	JournalModeFn    func(ctx context.Context, mode recovery.JournalMode) (recovery.JournalMode, error)
	IntegrityCheckFn func(ctx context.Context) ([]string, error)
}

func (s *OverrideStore) RoundTrip(ctx context.Context, table, value string) (string, error) {
	if s.RoundTripFn != nil {
		return s.RoundTripFn(ctx, table, value)
	}
	return s.Store.RoundTrip(ctx, table, value)
}

func (s *OverrideStore) CheckpointTruncate(ctx context.Context) (recovery.CheckpointResult, error) {
	if s.CheckpointFn != nil {
		return s.CheckpointFn(ctx)
	}
	return s.Store.CheckpointTruncate(ctx)
}

func (s *OverrideStore) SetJournalMode(ctx context.Context, mode recovery.JournalMode) (recovery.JournalMode, error) {
	if s.JournalModeFn != nil {
		return s.JournalModeFn(ctx, mode)
	}
	return s.Store.SetJournalMode(ctx, mode)
}

func (s *OverrideStore) IntegrityCheck(ctx context.Context) ([]string, error) {
	if s.IntegrityCheckFn != nil {
		return s.IntegrityCheckFn(ctx)
	}
	return s.Store.IntegrityCheck(ctx)
}

// HookedEngine opens stores with the real SQLite engine and passes each
// through Wrap.
type HookedEngine struct {
	Wrap func(recovery.Store) recovery.Store
}

func (e *HookedEngine) Open(ctx context.Context, path string) (recovery.Store, error) {
	store, err := sqlite.NewEngine().Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return e.Wrap(store), nil
}

var (
	_ recovery.Store  = (*OverrideStore)(nil)
	_ recovery.Engine = (*HookedEngine)(nil)
)
