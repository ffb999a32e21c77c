package recovery_test

import (
	"os"
	"path/filepath"
	"testing"

	"wal-recover/internal/recovery"
)

func TestResiduePaths(t *testing.T) {
	got := recovery.ResiduePaths("/data/app.db")
	want := []string{"/data/app.db-wal", "/data/app.db-shm"}
	if len(got) != len(want) {
		t.Fatalf("ResiduePaths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ResiduePaths()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCleaner_Clean(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "app.db")
	for _, p := range recovery.ResiduePaths(store) {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := recovery.NewCleaner(recovery.NewNopLogger())
	if w := c.Clean(recovery.ResiduePaths(store)...); len(w) != 0 {
		t.Errorf("Clean() warnings = %v, want none", w)
	}
	if left := c.Leftovers(recovery.ResiduePaths(store)...); len(left) != 0 {
		t.Errorf("Leftovers() = %v, want none", left)
	}

	// Absent files are not an error, so cleaning twice is safe.
	if w := c.Clean(recovery.ResiduePaths(store)...); len(w) != 0 {
		t.Errorf("second Clean() warnings = %v, want none", w)
	}
}

func TestCleaner_CleanReportsUnremovable(t *testing.T) {
	dir := t.TempDir()
	busy := filepath.Join(dir, "app.db-wal")
	if err := os.MkdirAll(filepath.Join(busy, "child"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := recovery.NewCleaner(recovery.NewNopLogger())
	warnings := c.Clean(busy)
	if len(warnings) != 1 {
		t.Fatalf("Clean() warnings = %v, want 1", warnings)
	}
	if warnings[0].Phase != recovery.PhaseCleanup {
		t.Errorf("warning phase = %q, want %q", warnings[0].Phase, recovery.PhaseCleanup)
	}
	if left := c.Leftovers(busy); len(left) != 1 {
		t.Errorf("Leftovers() = %v, want [%s]", left, busy)
	}
}
