package recovery

import "time"

// SessionRecord is a persisted summary of one finished session.
type SessionRecord struct {
	ID             string
	Strategy       StrategyKind
	Artifact       string
	StorePath      string
	StartedAt      time.Time
	FinishedAt     time.Time
	Success        bool
	Phase          Phase
	FailureReason  string
	Guard          GuardOutcome
	FetchDuration  time.Duration
	ApplyDuration  time.Duration
	VerifyDuration time.Duration
	Bytes          int64
	Warnings       int
}

// NewSessionRecord summarizes res for the journal.
func NewSessionRecord(res *Result) *SessionRecord {
	return &SessionRecord{
		ID:             res.SessionID,
		Strategy:       res.Strategy,
		Artifact:       res.Artifact,
		StorePath:      res.StorePath,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		Success:        res.Success,
		Phase:          res.Phase,
		FailureReason:  res.FailureReason,
		Guard:          res.Guard,
		FetchDuration:  res.FetchDuration,
		ApplyDuration:  res.ApplyDuration,
		VerifyDuration: res.VerifyDuration,
		Bytes:          res.Bytes,
		Warnings:       len(res.Warnings),
	}
}

// Journal persists session outcomes so operators can audit past recoveries.
// It is separate from the store being recovered.
type Journal interface {
	RecordSession(rec *SessionRecord) error

	// ListSessions returns up to limit sessions, newest first.
	ListSessions(limit int) ([]*SessionRecord, error)

	Close() error
}
