package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"wal-recover/internal/recovery"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Engine opens SQLite stores. It implements recovery.Engine.
type Engine struct{}

// NewEngine creates a SQLite engine.
func NewEngine() *Engine { return &Engine{} }

// Open connects to an existing store file. Unlike sql.Open it refuses to
// create a missing file, so a wrong path cannot masquerade as an empty store.
func (e *Engine) Open(ctx context.Context, path string) (recovery.Store, error) {
	if path != MemoryPath {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("store file: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection pool.
// The pool holds a single connection: journal mode switches need exclusive
// access, and ":memory:" databases are per connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Store is an open SQLite store. It implements recovery.Store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStoreFromDB wraps an existing connection pool.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying pool for direct queries in tests and tools.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

func (s *Store) SetJournalMode(ctx context.Context, mode recovery.JournalMode) (recovery.JournalMode, error) {
	switch mode {
	case recovery.JournalWAL, recovery.JournalDelete, "truncate", "persist", "memory", "off":
	default:
		return "", fmt.Errorf("unsupported journal mode: %q", mode)
	}
	var got string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode = "+string(mode)).Scan(&got); err != nil {
		return "", fmt.Errorf("setting journal mode %s: %w", mode, err)
	}
	return recovery.JournalMode(strings.ToLower(got)), nil
}

func (s *Store) SetSynchronous(ctx context.Context, level string) error {
	level = strings.ToUpper(level)
	switch level {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("unsupported synchronous level: %q", level)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous = "+level); err != nil {
		return fmt.Errorf("setting synchronous %s: %w", level, err)
	}
	return nil
}

func (s *Store) CheckpointTruncate(ctx context.Context) (recovery.CheckpointResult, error) {
	var busy, logFrames, ckptFrames int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &ckptFrames)
	if err != nil {
		return recovery.CheckpointResult{}, fmt.Errorf("running checkpoint: %w", err)
	}
	return recovery.CheckpointResult{
		Busy:               busy != 0,
		LogFrames:          logFrames,
		CheckpointedFrames: ckptFrames,
	}, nil
}

// ExecBatch executes stmts in one transaction. The first failing statement
// rolls back the whole batch.
func (s *Store) ExecBatch(ctx context.Context, stmts []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return &recovery.StatementError{Index: i, Statement: stmt, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// QueryBatch runs read-only queries in one transaction and counts the rows
// each returns.
func (s *Store) QueryBatch(ctx context.Context, queries []string) ([]int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	counts := make([]int, len(queries))
	for i, q := range queries {
		n, err := countRows(ctx, tx, q)
		if err != nil {
			return nil, fmt.Errorf("query %d (%s): %w", i+1, q, err)
		}
		counts[i] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return counts, nil
}

func countRows(ctx context.Context, tx *sql.Tx, query string) (int, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

// RoundTrip creates a scratch table, writes value, reads it back and drops
// the table, all in one committed transaction.
func (s *Store) RoundTrip(ctx context.Context, table, value string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	name := quoteIdent(table)
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" (id INTEGER PRIMARY KEY, payload TEXT NOT NULL)"); err != nil {
		return "", fmt.Errorf("creating scratch table: %w", err)
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO "+name+" (payload) VALUES (?)", value)
	if err != nil {
		return "", fmt.Errorf("writing scratch row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("reading scratch row id: %w", err)
	}

	var got string
	if err := tx.QueryRowContext(ctx, "SELECT payload FROM "+name+" WHERE id = ?", id).Scan(&got); err != nil {
		return "", fmt.Errorf("reading scratch row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+name); err != nil {
		return "", fmt.Errorf("dropping scratch table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing transaction: %w", err)
	}
	return got, nil
}

func (s *Store) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return nil, fmt.Errorf("running integrity check: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scanning integrity report: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("running integrity check: %w", err)
	}
	return lines, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Compile-time checks
var (
	_ recovery.Engine = (*Engine)(nil)
	_ recovery.Store  = (*Store)(nil)
)
