package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
)

// ItemsTable is the table every store fixture holds.
const ItemsTable = "items"

// NewStoreFile creates a store at dir/name in rollback-journal mode with
// rows rows in ItemsTable.
func NewStoreFile(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db := openFixture(t, path)
	defer db.Close()

	mustExec(t, db, "PRAGMA journal_mode = DELETE")
	mustExec(t, db, "CREATE TABLE "+ItemsTable+" (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	insertItems(t, db, 0, rows)
	return path
}

// NewEmptyStoreFile creates a valid store with no tables.
func NewEmptyStoreFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db := openFixture(t, path)
	defer db.Close()
	mustExec(t, db, "PRAGMA user_version = 1")
	return path
}

// WALFixture is a store file plus a write-ahead log segment that, once
// merged, adds rows to it.
type WALFixture struct {
	StorePath string
	WAL       []byte
	BaseRows  int
	TotalRows int
}

// NewWALFixture builds a store at dir/name holding baseRows rows and
// returns it with a WAL segment carrying walRows more. The store file on
// disk has no -wal or -shm companion.
func NewWALFixture(t *testing.T, dir, name string, baseRows, walRows int) WALFixture {
	t.Helper()
	src := filepath.Join(t.TempDir(), "source.db")
	db := openFixture(t, src)

	mustExec(t, db, "PRAGMA journal_mode = WAL")
	mustExec(t, db, "CREATE TABLE "+ItemsTable+" (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	insertItems(t, db, 0, baseRows)
	mustExec(t, db, "PRAGMA wal_checkpoint(TRUNCATE)")

	base, err := os.ReadFile(src)
	if err != nil {
		db.Close()
		t.Fatalf("reading base store: %v", err)
	}

	mustExec(t, db, "PRAGMA wal_autocheckpoint = 0")
	insertItems(t, db, baseRows, walRows)

	wal, err := os.ReadFile(recovery.WALPath(src))
	db.Close()
	if err != nil {
		t.Fatalf("reading wal segment: %v", err)
	}
	if len(wal) == 0 {
		t.Fatal("wal segment is empty")
	}

	dest := filepath.Join(dir, name)
	if err := os.WriteFile(dest, base, 0o644); err != nil {
		t.Fatalf("writing store fixture: %v", err)
	}
	return WALFixture{StorePath: dest, WAL: wal, BaseRows: baseRows, TotalRows: baseRows + walRows}
}

// CountRows opens the store at path and counts rows in table.
func CountRows(t *testing.T, path, table string) int64 {
	t.Helper()
	store, err := sqlite.NewEngine().Open(context.Background(), path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer store.Close()

	n, err := store.RowCount(context.Background(), table)
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func openFixture(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sqlite.OpenConnection(path)
	if err != nil {
		t.Fatalf("opening fixture %s: %v", path, err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, stmt string) {
	t.Helper()
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("%s: %v", stmt, err)
	}
}

func insertItems(t *testing.T, db *sql.DB, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		if _, err := db.Exec("INSERT INTO "+ItemsTable+" (id, name) VALUES (?, ?)", i+1, fmt.Sprintf("item-%d", i+1)); err != nil {
			t.Fatalf("inserting item %d: %v", i+1, err)
		}
	}
}
