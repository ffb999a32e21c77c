package recovery_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
	"wal-recover/internal/testutil"
)

func TestParseStatements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "one per line",
			in:   "INSERT INTO t VALUES (1);\nINSERT INTO t VALUES (2);\n",
			want: []string{"INSERT INTO t VALUES (1)", "INSERT INTO t VALUES (2)"},
		},
		{
			name: "several on a line",
			in:   "DELETE FROM t; INSERT INTO t VALUES (3);",
			want: []string{"DELETE FROM t", "INSERT INTO t VALUES (3)"},
		},
		{
			name: "blank lines and padding",
			in:   "\n\n   UPDATE t SET v = 1   ;  \n\t\n",
			want: []string{"UPDATE t SET v = 1"},
		},
		{
			name: "missing final terminator",
			in:   "INSERT INTO t VALUES (4)",
			want: []string{"INSERT INTO t VALUES (4)"},
		},
		{
			name: "only terminators",
			in:   ";;\n ; \n",
			want: nil,
		},
		{
			name: "empty",
			in:   "",
			want: nil,
		},
		{
			name: "terminator inside literal splits",
			in:   "INSERT INTO t VALUES ('a;b');",
			want: []string{"INSERT INTO t VALUES ('a", "b')"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := recovery.ParseStatements(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("ParseStatements() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseStatements() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatementReplay_Paths(t *testing.T) {
	r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
	if got := r.LogPath("/data/app.db"); got != "/data/app.db"+recovery.ReplaySuffix {
		t.Errorf("LogPath() = %q", got)
	}
	if got := r.Residue("/data/app.db", "/tmp/x.sql"); len(got) != 1 || got[0] != "/tmp/x.sql" {
		t.Errorf("Residue() = %v, want [/tmp/x.sql]", got)
	}

	custom := recovery.NewStatementReplay(sqlite.NewEngine(), "/spool/app.sql", recovery.NewNopLogger())
	if got := custom.LogPath("/data/app.db"); got != "/spool/app.sql" {
		t.Errorf("LogPath() = %q, want /spool/app.sql", got)
	}
}

func TestStatementReplay_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("all statements commit", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 3)
		logPath := filepath.Join(dir, "app.replay.sql")
		writeFile(t, logPath, "INSERT INTO items VALUES (4, 'four');\nINSERT INTO items VALUES (5, 'five'); UPDATE items SET name = 'uno' WHERE id = 1;\n")

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		if err := r.Apply(ctx, store, logPath); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if n := testutil.CountRows(t, store, testutil.ItemsTable); n != 5 {
			t.Errorf("rows = %d, want 5", n)
		}
	})

	t.Run("failing statement rolls back the batch", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 3)
		before := testutil.FileSHA256(t, store)
		logPath := filepath.Join(dir, "app.replay.sql")
		writeFile(t, logPath, "INSERT INTO items VALUES (4, 'four');\nINSERT INTO no_such_table VALUES (1);\nINSERT INTO items VALUES (6, 'six');\n")

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		err := r.Apply(ctx, store, logPath)
		assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrReplayExecution)

		var se *recovery.StatementError
		if !errors.As(err, &se) {
			t.Fatalf("error %v does not carry a *StatementError", err)
		}
		if se.Index != 1 {
			t.Errorf("StatementError.Index = %d, want 1", se.Index)
		}
		if !strings.Contains(se.Statement, "no_such_table") {
			t.Errorf("StatementError.Statement = %q", se.Statement)
		}
		if n := testutil.CountRows(t, store, testutil.ItemsTable); n != 3 {
			t.Errorf("rows = %d, want 3 (first insert rolled back)", n)
		}
		if testutil.FileSHA256(t, store) != before {
			t.Error("store file changed after rolled-back replay")
		}
	})

	t.Run("empty log leaves store untouched", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 2)
		before := testutil.FileSHA256(t, store)
		logPath := filepath.Join(dir, "app.replay.sql")
		writeFile(t, logPath, "\n;\n  \n")

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		if err := r.Apply(ctx, store, logPath); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if testutil.FileSHA256(t, store) != before {
			t.Error("store file changed by empty replay")
		}
	})

	t.Run("enclosing transaction from a dump is unwrapped", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 3)
		logPath := filepath.Join(dir, "app.replay.sql")
		writeFile(t, logPath, "PRAGMA foreign_keys=OFF;\nBEGIN TRANSACTION;\nINSERT INTO items VALUES (4, 'four');\nINSERT INTO items VALUES (5, 'five');\ncommit;\n")

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		if err := r.Apply(ctx, store, logPath); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if n := testutil.CountRows(t, store, testutil.ItemsTable); n != 5 {
			t.Errorf("rows = %d, want 5", n)
		}
	})

	t.Run("failure inside unwrapped transaction reports log position", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 3)
		before := testutil.FileSHA256(t, store)
		logPath := filepath.Join(dir, "app.replay.sql")
		writeFile(t, logPath, "BEGIN;\nINSERT INTO items VALUES (4, 'four');\nINSERT INTO no_such_table VALUES (1);\nEND TRANSACTION;\n")

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		err := r.Apply(ctx, store, logPath)
		assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrReplayExecution)

		var se *recovery.StatementError
		if !errors.As(err, &se) {
			t.Fatalf("error %v does not carry a *StatementError", err)
		}
		if se.Index != 2 {
			t.Errorf("StatementError.Index = %d, want 2", se.Index)
		}
		if testutil.FileSHA256(t, store) != before {
			t.Error("store file changed after rolled-back replay")
		}
	})

	rejected := []struct {
		name  string
		log   string
		index int
	}{
		{
			name:  "commit mid log",
			log:   "INSERT INTO items VALUES (4, 'four');\nCOMMIT;\nINSERT INTO no_such_table VALUES (1);\n",
			index: 1,
		},
		{
			name:  "rollback",
			log:   "INSERT INTO items VALUES (4, 'four');\nROLLBACK;\n",
			index: 1,
		},
		{
			name:  "savepoint",
			log:   "SAVEPOINT sp; INSERT INTO items VALUES (4, 'four'); release sp;\n",
			index: 0,
		},
		{
			name:  "begin without commit",
			log:   "BEGIN;\nINSERT INTO items VALUES (4, 'four');\n",
			index: 0,
		},
		{
			name:  "statements after commit",
			log:   "BEGIN;\nINSERT INTO items VALUES (4, 'four');\nCOMMIT;\nINSERT INTO items VALUES (5, 'five');\n",
			index: 0,
		},
		{
			name:  "two transactions",
			log:   "BEGIN; INSERT INTO items VALUES (4, 'four'); COMMIT;\nBEGIN; INSERT INTO items VALUES (5, 'five'); COMMIT;\n",
			index: 0,
		},
	}
	for _, tt := range rejected {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := testutil.NewStoreFile(t, dir, "app.db", 3)
			before := testutil.FileSHA256(t, store)
			logPath := filepath.Join(dir, "app.replay.sql")
			writeFile(t, logPath, tt.log)

			engine := &testutil.HookedEngine{Wrap: func(s recovery.Store) recovery.Store {
				t.Error("store opened for a rejected log")
				return s
			}}
			r := recovery.NewStatementReplay(engine, "", recovery.NewNopLogger())
			err := r.Apply(ctx, store, logPath)
			assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrReplayExecution)

			var se *recovery.StatementError
			if !errors.As(err, &se) {
				t.Fatalf("error %v does not carry a *StatementError", err)
			}
			if se.Index != tt.index {
				t.Errorf("StatementError.Index = %d, want %d", se.Index, tt.index)
			}
			if n := testutil.CountRows(t, store, testutil.ItemsTable); n != 3 {
				t.Errorf("rows = %d, want 3", n)
			}
			if testutil.FileSHA256(t, store) != before {
				t.Error("store file changed by a rejected log")
			}
		})
	}

	t.Run("missing log", func(t *testing.T) {
		dir := t.TempDir()
		store := testutil.NewStoreFile(t, dir, "app.db", 1)

		r := recovery.NewStatementReplay(sqlite.NewEngine(), "", recovery.NewNopLogger())
		err := r.Apply(ctx, store, filepath.Join(dir, "absent.sql"))
		assertPhaseError(t, err, recovery.PhaseApply, recovery.ErrReplayExecution)
	})
}
