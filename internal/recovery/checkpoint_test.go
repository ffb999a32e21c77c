package recovery_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
	"wal-recover/internal/testutil"
)

func newCheckpointMerge(engine recovery.Engine) (*recovery.CheckpointMerge, *recovery.Cleaner) {
	cleaner := recovery.NewCleaner(recovery.NewNopLogger())
	return recovery.NewCheckpointMerge(engine, cleaner, recovery.NewNopLogger()), cleaner
}

func journalMode(t *testing.T, path string) string {
	t.Helper()
	db, err := sqlite.OpenConnection(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer db.Close()
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal mode: %v", err)
	}
	return mode
}

func TestCheckpointMerge_Apply(t *testing.T) {
	dir := t.TempDir()
	fx := testutil.NewWALFixture(t, dir, "app.db", 3, 4)
	walPath := recovery.WALPath(fx.StorePath)
	if err := os.WriteFile(walPath, fx.WAL, 0o644); err != nil {
		t.Fatal(err)
	}
	// A stale index from an earlier process must not confuse the merge.
	if err := os.WriteFile(recovery.SharedIndexPath(fx.StorePath), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	cm, cleaner := newCheckpointMerge(sqlite.NewEngine())
	if cm.LogPath(fx.StorePath) != walPath {
		t.Errorf("LogPath() = %q, want %q", cm.LogPath(fx.StorePath), walPath)
	}
	if err := cm.Apply(context.Background(), fx.StorePath, walPath); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	cleaner.Clean(cm.Residue(fx.StorePath, walPath)...)

	for _, p := range recovery.ResiduePaths(fx.StorePath) {
		if fileExists(p) {
			t.Errorf("%s still present after merge", p)
		}
	}
	if mode := journalMode(t, fx.StorePath); mode != "delete" {
		t.Errorf("journal mode = %q, want delete", mode)
	}
	if n := testutil.CountRows(t, fx.StorePath, testutil.ItemsTable); n != int64(fx.TotalRows) {
		t.Errorf("rows = %d, want %d", n, fx.TotalRows)
	}
}

func TestCheckpointMerge_Failures(t *testing.T) {
	tests := []struct {
		name     string
		override func(s *testutil.OverrideStore)
	}{
		{
			name: "busy",
			override: func(s *testutil.OverrideStore) {
				s.CheckpointFn = func(context.Context) (recovery.CheckpointResult, error) {
					return recovery.CheckpointResult{Busy: true, LogFrames: 4, CheckpointedFrames: 4}, nil
				}
			},
		},
		{
			name: "partial merge",
			override: func(s *testutil.OverrideStore) {
				s.CheckpointFn = func(context.Context) (recovery.CheckpointResult, error) {
					return recovery.CheckpointResult{LogFrames: 10, CheckpointedFrames: 6}, nil
				}
			},
		},
		{
			name: "wal mode refused",
			override: func(s *testutil.OverrideStore) {
				s.JournalModeFn = func(context.Context, recovery.JournalMode) (recovery.JournalMode, error) {
					return recovery.JournalDelete, nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			fx := testutil.NewWALFixture(t, dir, "app.db", 2, 2)
			walPath := recovery.WALPath(fx.StorePath)
			if err := os.WriteFile(walPath, fx.WAL, 0o644); err != nil {
				t.Fatal(err)
			}

			engine := &testutil.HookedEngine{Wrap: func(s recovery.Store) recovery.Store {
				o := &testutil.OverrideStore{Store: s}
				tt.override(o)
				return o
			}}
			cm, _ := newCheckpointMerge(engine)
			err := cm.Apply(context.Background(), fx.StorePath, walPath)
			assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrCheckpoint)
		})
	}
}

func TestCheckpointMerge_UnreadableSegment(t *testing.T) {
	tests := []struct {
		name    string
		segment func(wal []byte) []byte
	}{
		{
			name:    "no wal header",
			segment: func([]byte) []byte { return bytes.Repeat([]byte{0xAB}, 8192) },
		},
		{
			name:    "shorter than header",
			segment: func(wal []byte) []byte { return wal[:10] },
		},
		{
			name: "corrupt header checksum",
			segment: func(wal []byte) []byte {
				wal = bytes.Clone(wal)
				wal[24] ^= 0xFF
				return wal
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			fx := testutil.NewWALFixture(t, dir, "app.db", 3, 4)
			walPath := recovery.WALPath(fx.StorePath)
			if err := os.WriteFile(walPath, tt.segment(fx.WAL), 0o644); err != nil {
				t.Fatal(err)
			}

			cm, _ := newCheckpointMerge(sqlite.NewEngine())
			err := cm.Apply(context.Background(), fx.StorePath, walPath)
			assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrCheckpoint)

			os.Remove(walPath)
			os.Remove(recovery.SharedIndexPath(fx.StorePath))
			if n := testutil.CountRows(t, fx.StorePath, testutil.ItemsTable); n != int64(fx.BaseRows) {
				t.Errorf("rows = %d, want %d", n, fx.BaseRows)
			}
		})
	}
}

func TestCheckpointMerge_EmptySegment(t *testing.T) {
	dir := t.TempDir()
	fx := testutil.NewWALFixture(t, dir, "app.db", 3, 1)
	walPath := recovery.WALPath(fx.StorePath)
	if err := os.WriteFile(walPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cm, _ := newCheckpointMerge(sqlite.NewEngine())
	if err := cm.Apply(context.Background(), fx.StorePath, walPath); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if n := testutil.CountRows(t, fx.StorePath, testutil.ItemsTable); n != int64(fx.BaseRows) {
		t.Errorf("rows = %d, want %d", n, fx.BaseRows)
	}
}

func TestCheckpointMerge_MissingStore(t *testing.T) {
	cm, _ := newCheckpointMerge(sqlite.NewEngine())
	err := cm.Apply(context.Background(), "/nonexistent/app.db", "/nonexistent/app.db-wal")
	assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrCheckpoint)
}
