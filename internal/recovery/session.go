package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Options selects what a session recovers. They are explicit per session so
// several sessions with different targets can run in one process, as long as
// no two share a store path.
type Options struct {
	Bucket       string
	Key          string
	StorePath    string
	ExpectedSize int64 // 0: use the object store's declared size

	// FetchAttempts is the number of fetch tries; values below 1 mean 1.
	FetchAttempts int
	// RetryBackoff is multiplied by the attempt number between tries.
	RetryBackoff time.Duration

	AmbiguousPolicy AmbiguousPolicy
}

// Deps are the collaborators a session composes. Verifier may be nil to
// skip post-recovery verification.
type Deps struct {
	Fetcher  *Fetcher
	Strategy Strategy
	Verifier *Verifier
	Cleaner  *Cleaner
	Clock    Clock
	IDGen    IDGenerator
	Logger   Logger
}

// Result is the structured outcome of a session.
type Result struct {
	SessionID string
	Strategy  StrategyKind
	Artifact  string
	StorePath string
	LogPath   string

	Success bool
	// Phase is PhaseDone on success, otherwise the phase that failed.
	Phase         Phase
	Err           error
	FailureReason string

	StartedAt      time.Time
	FinishedAt     time.Time
	FetchDuration  time.Duration
	ApplyDuration  time.Duration
	VerifyDuration time.Duration
	FetchAttempts  int
	Bytes          int64

	Verdict  *Verdict
	Guard    GuardOutcome
	Warnings []Warning
}

// TotalDuration is the wall time of the whole session.
func (r *Result) TotalDuration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Result) warn(w ...Warning) {
	r.Warnings = append(r.Warnings, w...)
}

// Session runs one backup-guarded recovery attempt against one store.
type Session struct {
	opts     Options
	fetcher  *Fetcher
	strategy Strategy
	verifier *Verifier
	cleaner  *Cleaner
	clock    Clock
	idgen    IDGenerator
	logger   Logger
}

// NewSession creates a session. It does no I/O.
func NewSession(opts Options, deps Deps) *Session {
	if opts.AmbiguousPolicy == "" {
		opts.AmbiguousPolicy = PolicyDiscardBackup
	}
	return &Session{
		opts:     opts,
		fetcher:  deps.Fetcher,
		strategy: deps.Strategy,
		verifier: deps.Verifier,
		cleaner:  deps.Cleaner,
		clock:    deps.Clock,
		idgen:    deps.IDGen,
		logger:   deps.Logger,
	}
}

// Run executes the session: precondition, guard, fetch, apply, verify,
// cleanup. Every failure goes through the guard's rollback before Run
// returns. Cancelling ctx aborts the fetch; once apply starts the session
// runs to completion regardless.
func (s *Session) Run(ctx context.Context) *Result {
	logPath := s.strategy.LogPath(s.opts.StorePath)
	res := &Result{
		SessionID: s.idgen.New(),
		Strategy:  s.strategy.Kind(),
		Artifact:  s.opts.Bucket + "/" + s.opts.Key,
		StorePath: s.opts.StorePath,
		LogPath:   logPath,
		Phase:     PhasePrecondition,
		StartedAt: s.clock.Now(),
		Guard:     OutcomeNone,
	}
	s.logger.Info("recovery started",
		"session", res.SessionID,
		"strategy", res.Strategy,
		"artifact", res.Artifact,
		"store", res.StorePath,
	)

	if _, err := os.Stat(s.opts.StorePath); err != nil {
		s.finish(res, newPhaseError(PhasePrecondition, ErrPrecondition, fmt.Errorf("store file: %w", err)))
		return res
	}

	res.Phase = PhaseGuard
	guard, warnings, err := EngageGuard(logPath, s.opts.AmbiguousPolicy, s.logger)
	res.warn(warnings...)
	if err != nil {
		s.finish(res, newPhaseError(PhaseGuard, ErrPrecondition, err))
		return res
	}

	err = s.guarded(ctx, res, logPath)

	// Past this point nothing may be interrupted.
	residue := s.strategy.Residue(s.opts.StorePath, logPath)
	res.warn(s.cleaner.Clean(residue...)...)

	if err != nil {
		var outcome GuardOutcome
		outcome, warnings = guard.Rollback()
		res.Guard = outcome
		res.warn(warnings...)
		res.warn(s.cleaner.Clean(SharedIndexPath(s.opts.StorePath))...)
		s.finish(res, err)
		return res
	}

	res.Guard, warnings = guard.Commit()
	res.warn(warnings...)
	for _, p := range s.cleaner.Leftovers(residue...) {
		res.warn(Warning{Phase: PhaseCleanup, Message: fmt.Sprintf("residue still present: %s", p)})
	}
	s.finish(res, nil)
	return res
}

// guarded is the critical section wrapped by the backup guard.
func (s *Session) guarded(ctx context.Context, res *Result, logPath string) error {
	res.Phase = PhaseFetch
	artifact := Artifact{
		Bucket:       s.opts.Bucket,
		Key:          s.opts.Key,
		Dest:         logPath,
		ExpectedSize: s.opts.ExpectedSize,
	}
	fetchStart := s.clock.Now()
	stats, err := s.fetchWithRetry(ctx, res, artifact)
	res.FetchDuration = s.clock.Now().Sub(fetchStart)
	res.Bytes = stats.Bytes
	if err != nil {
		return err
	}

	applyCtx := context.WithoutCancel(ctx)

	res.Phase = PhaseApply
	applyStart := s.clock.Now()
	err = s.strategy.Apply(applyCtx, s.opts.StorePath, logPath)
	res.ApplyDuration = s.clock.Now().Sub(applyStart)
	res.warn(s.cleaner.Clean(s.strategy.Residue(s.opts.StorePath, logPath)...)...)
	if err != nil {
		return err
	}

	if s.verifier == nil {
		return nil
	}
	res.Phase = PhaseVerify
	verifyStart := s.clock.Now()
	verdict, err := s.verifier.Verify(applyCtx, s.opts.StorePath)
	res.VerifyDuration = s.clock.Now().Sub(verifyStart)
	res.Verdict = verdict
	return err
}

func (s *Session) fetchWithRetry(ctx context.Context, res *Result, a Artifact) (FetchStats, error) {
	attempts := max(s.opts.FetchAttempts, 1)
	for i := 1; ; i++ {
		res.FetchAttempts = i
		stats, err := s.fetcher.Fetch(ctx, a)
		if err == nil {
			return stats, nil
		}
		if i >= attempts || ctx.Err() != nil {
			return stats, err
		}
		delay := s.opts.RetryBackoff * time.Duration(i)
		s.logger.Warn("fetch failed, retrying",
			"attempt", i,
			"of", attempts,
			"delay", delay,
			"error", err,
		)
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return stats, newPhaseError(PhaseFetch, ErrRemoteFetch, err)
		}
	}
}

func (s *Session) finish(res *Result, err error) {
	res.FinishedAt = s.clock.Now()
	for _, w := range res.Warnings {
		s.logger.Warn("recovery warning", "session", res.SessionID, "phase", w.Phase, "message", w.Message)
	}

	if err == nil {
		res.Success = true
		res.Phase = PhaseDone
		s.logger.Info("recovery succeeded",
			"session", res.SessionID,
			"fetch", res.FetchDuration,
			"apply", res.ApplyDuration,
			"verify", res.VerifyDuration,
			"total", res.TotalDuration(),
		)
		return
	}

	res.Err = err
	res.FailureReason = err.Error()
	var pe *PhaseError
	if errors.As(err, &pe) {
		res.Phase = pe.Phase
	}
	s.logger.Error("recovery failed",
		"session", res.SessionID,
		"phase", res.Phase,
		"guard", res.Guard,
		"error", err,
		"fetch", res.FetchDuration,
		"apply", res.ApplyDuration,
		"total", res.TotalDuration(),
	)
}
