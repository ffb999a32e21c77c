package recovery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// statementTerminator separates statements on a replay log line.
const statementTerminator = ";"

// maxLineSize bounds a single replay log line.
const maxLineSize = 64 << 20

// errTransactionControl rejects a statement that would end the replay
// transaction early.
var errTransactionControl = errors.New("transaction control statement not allowed in replay log")

// transactionKeywords lead statements that open or close a transaction.
var transactionKeywords = map[string]bool{
	"BEGIN":     true,
	"COMMIT":    true,
	"END":       true,
	"ROLLBACK":  true,
	"SAVEPOINT": true,
	"RELEASE":   true,
}

// ReplaySuffix is appended to the store path to form the default local path
// a statement log is fetched to.
const ReplaySuffix = ".replay.sql"

// ParseStatements splits a statement log into its non-empty statements, in
// file order. Parsing is lexical only: a terminator inside a string literal
// splits the statement, and malformed SQL surfaces at execution time.
func ParseStatements(r io.Reader) ([]string, error) {
	var stmts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, frag := range strings.Split(line, statementTerminator) {
			if s := strings.TrimSpace(frag); s != "" {
				stmts = append(stmts, s)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading statement log: %w", err)
	}
	return stmts, nil
}

// StatementReplay recovers a store by executing a fetched statement log as
// a single all-or-nothing transaction.
type StatementReplay struct {
	engine  Engine
	logPath string
	logger  Logger
}

// NewStatementReplay creates the statement-replay strategy. logPath is the
// local path the statement log is fetched to; empty means the store path
// plus ReplaySuffix.
func NewStatementReplay(engine Engine, logPath string, logger Logger) *StatementReplay {
	return &StatementReplay{engine: engine, logPath: logPath, logger: logger}
}

func (r *StatementReplay) Kind() StrategyKind { return StrategyReplay }

func (r *StatementReplay) LogPath(storePath string) string {
	if r.logPath != "" {
		return r.logPath
	}
	return storePath + ReplaySuffix
}

// Residue is the fetched statement log itself; replay never leaves a side log.
func (r *StatementReplay) Residue(_, logPath string) []string { return []string{logPath} }

// Apply parses the whole log before touching the store, then executes it in
// one transaction. An empty log succeeds without opening the store.
func (r *StatementReplay) Apply(ctx context.Context, storePath, logPath string) error {
	f, err := os.Open(logPath)
	if err != nil {
		return newPhaseError(PhaseApply, ErrReplayExecution, fmt.Errorf("opening statement log: %w", err))
	}
	stmts, err := ParseStatements(f)
	f.Close()
	if err != nil {
		return newPhaseError(PhaseApply, ErrReplayExecution, err)
	}

	stmts, positions, err := unwrapTransaction(stmts)
	if err != nil {
		r.logger.Error("replay log rejected", "log", logPath, "error", err)
		return newPhaseError(PhaseApply, ErrReplayExecution, err)
	}

	if len(stmts) == 0 {
		r.logger.Info("statement log is empty, nothing to replay", "log", logPath)
		return nil
	}

	store, err := r.engine.Open(ctx, storePath)
	if err != nil {
		return newPhaseError(PhaseApply, ErrReplayExecution, fmt.Errorf("opening store: %w", err))
	}
	defer store.Close()

	if err := store.ExecBatch(ctx, stmts); err != nil {
		var se *StatementError
		if errors.As(err, &se) {
			se.Index = positions[se.Index]
		}
		r.logger.Error("replay rolled back", "store", storePath, "error", err)
		return newPhaseError(PhaseApply, ErrReplayExecution, err)
	}

	r.logger.Info("statements replayed", "store", storePath, "count", len(stmts))
	return nil
}

// unwrapTransaction drops a single BEGIN ... COMMIT pair whose COMMIT ends
// the log, as written by the sqlite3 shell's .dump. Any other transaction
// control statement is rejected before the store is touched. positions maps
// each kept statement to its index in stmts.
func unwrapTransaction(stmts []string) (kept []string, positions []int, err error) {
	var control []int
	for i, s := range stmts {
		if transactionKeywords[leadingKeyword(s)] {
			control = append(control, i)
		}
	}

	skip := make(map[int]bool, 2)
	if len(control) == 2 {
		begin, end := control[0], control[1]
		closing := leadingKeyword(stmts[end])
		if leadingKeyword(stmts[begin]) == "BEGIN" && (closing == "COMMIT" || closing == "END") && end == len(stmts)-1 {
			skip[begin], skip[end] = true, true
		}
	}
	for _, i := range control {
		if !skip[i] {
			return nil, nil, &StatementError{Index: i, Statement: stmts[i], Err: errTransactionControl}
		}
	}

	for i, s := range stmts {
		if !skip[i] {
			kept = append(kept, s)
			positions = append(positions, i)
		}
	}
	return kept, positions, nil
}

func leadingKeyword(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}
