package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wal-recover/internal/journal/migrations"
	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
)

// SQLiteJournal stores session records in a SQLite database whose schema
// is managed by golang-migrate.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the journal at path and migrates it to
// the latest schema. path may be ":memory:".
func Open(path string) (*SQLiteJournal, error) {
	db, err := sqlite.OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// Path returns the journal database path.
func (j *SQLiteJournal) Path() string { return j.path }

// CheckMigrations verifies the journal schema is current.
func (j *SQLiteJournal) CheckMigrations() error {
	return migrations.Check(j.db)
}

func (j *SQLiteJournal) RecordSession(rec *recovery.SessionRecord) error {
	_, err := j.db.ExecContext(context.Background(), `
		INSERT INTO recovery_sessions (
			id, strategy, artifact, store_path, started_at, finished_at,
			success, phase, failure_reason, guard_outcome,
			fetch_ms, apply_ms, verify_ms, bytes, warnings
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Strategy),
		rec.Artifact,
		rec.StorePath,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
		rec.Success,
		string(rec.Phase),
		rec.FailureReason,
		string(rec.Guard),
		rec.FetchDuration.Milliseconds(),
		rec.ApplyDuration.Milliseconds(),
		rec.VerifyDuration.Milliseconds(),
		rec.Bytes,
		rec.Warnings,
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", rec.ID, err)
	}
	return nil
}

func (j *SQLiteJournal) ListSessions(limit int) ([]*recovery.SessionRecord, error) {
	rows, err := j.db.QueryContext(context.Background(), `
		SELECT id, strategy, artifact, store_path, started_at, finished_at,
		       success, phase, failure_reason, guard_outcome,
		       fetch_ms, apply_ms, verify_ms, bytes, warnings
		FROM recovery_sessions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var records []*recovery.SessionRecord
	for rows.Next() {
		var (
			rec                        recovery.SessionRecord
			strategy, phase, guard     string
			fetchMS, applyMS, verifyMS int64
		)
		err := rows.Scan(
			&rec.ID, &strategy, &rec.Artifact, &rec.StorePath, &rec.StartedAt, &rec.FinishedAt,
			&rec.Success, &phase, &rec.FailureReason, &guard,
			&fetchMS, &applyMS, &verifyMS, &rec.Bytes, &rec.Warnings,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		rec.Strategy = recovery.StrategyKind(strategy)
		rec.Phase = recovery.Phase(phase)
		rec.Guard = recovery.GuardOutcome(guard)
		rec.FetchDuration = time.Duration(fetchMS) * time.Millisecond
		rec.ApplyDuration = time.Duration(applyMS) * time.Millisecond
		rec.VerifyDuration = time.Duration(verifyMS) * time.Millisecond
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return records, nil
}

// Close closes the journal database.
func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteJournal implements recovery.Journal
var _ recovery.Journal = (*SQLiteJournal)(nil)
