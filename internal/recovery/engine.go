package recovery

import "context"

// JournalMode is the store's durability mode.
type JournalMode string

const (
	// JournalWAL keeps pending changes in a side log next to the store file.
	JournalWAL JournalMode = "wal"
	// JournalDelete uses a rollback journal that is removed after each
	// transaction, leaving the store as a single file at rest.
	JournalDelete JournalMode = "delete"
)

// CheckpointResult is the engine's acknowledgement of a checkpoint.
type CheckpointResult struct {
	Busy               bool
	LogFrames          int
	CheckpointedFrames int
}

// Complete reports whether every log frame was merged into the store.
func (r CheckpointResult) Complete() bool {
	return !r.Busy && r.LogFrames == r.CheckpointedFrames
}

// Engine opens connections to a local durable store.
type Engine interface {
	// Open connects to the store file at path. It must not create the
	// file; callers check existence first.
	Open(ctx context.Context, path string) (Store, error)
}

// Store is an open connection to a local durable store. A Store issues at
// most one transaction at a time.
type Store interface {
	// SetJournalMode switches the durability mode and returns the mode the
	// engine reports afterwards.
	SetJournalMode(ctx context.Context, mode JournalMode) (JournalMode, error)

	// SetSynchronous sets the fsync level (e.g. "NORMAL", "FULL").
	SetSynchronous(ctx context.Context, level string) error

	// CheckpointTruncate merges the side log into the store file and
	// truncates the log.
	CheckpointTruncate(ctx context.Context) (CheckpointResult, error)

	// ExecBatch runs every statement in order inside one transaction and
	// commits only if all succeed. A failing statement is reported as a
	// *StatementError and the transaction is rolled back.
	ExecBatch(ctx context.Context, stmts []string) error

	// QueryBatch runs read-only queries inside one transaction and returns
	// the number of rows each produced.
	QueryBatch(ctx context.Context, queries []string) ([]int, error)

	// Tables lists user-level tables, excluding engine-internal ones.
	Tables(ctx context.Context) ([]string, error)

	// RowCount returns the number of rows in table.
	RowCount(ctx context.Context, table string) (int64, error)

	// RoundTrip creates table, writes value into it, reads it back, drops
	// the table and commits. It returns the value that was read back.
	RoundTrip(ctx context.Context, table, value string) (string, error)

	// IntegrityCheck runs the engine's structural integrity check and
	// returns its report lines.
	IntegrityCheck(ctx context.Context) ([]string, error)

	Close() error
}
