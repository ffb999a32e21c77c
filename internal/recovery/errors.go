package recovery

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Phase names a step of a recovery session.
type Phase string

const (
	PhasePrecondition Phase = "precondition"
	PhaseGuard        Phase = "guard"
	PhaseFetch        Phase = "fetch"
	PhaseApply        Phase = "apply"
	PhaseVerify       Phase = "verify"
	PhaseCleanup      Phase = "cleanup"
	PhaseReconcile    Phase = "reconcile"
	PhaseDone         Phase = "done"
)

var (
	// ErrPrecondition means the store file is missing; no work was attempted.
	ErrPrecondition = errors.New("precondition failed")
	// ErrRemoteFetch means the object store transfer failed.
	ErrRemoteFetch = errors.New("remote fetch failed")
	// ErrTransferIntegrity means the downloaded size differs from the
	// declared remote size. The download is discarded.
	ErrTransferIntegrity = errors.New("transfer integrity check failed")
	// ErrCheckpoint means the engine did not acknowledge a complete merge.
	ErrCheckpoint = errors.New("checkpoint failed")
	// ErrReplayExecution means a replayed statement failed and the batch
	// was rolled back.
	ErrReplayExecution = errors.New("replay execution failed")
	// ErrVerification means the apply succeeded but the store failed its
	// post-recovery checks.
	ErrVerification = errors.New("verification failed")
)

// PhaseError is a session failure tagged with the phase it happened in and
// one of the sentinel kinds above. errors.Is matches both Kind and Err.
type PhaseError struct {
	Phase Phase
	Kind  error
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Phase, e.Kind, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newPhaseError(phase Phase, kind, err error) *PhaseError {
	return &PhaseError{Phase: phase, Kind: kind, Err: err}
}

// StatementError reports the replayed statement that aborted a batch.
type StatementError struct {
	Index     int // zero-based position in the replay log
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("statement %d (%s): %v", e.Index+1, truncate(e.Statement, 80), e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Warning is a non-fatal problem: residue or a stale backup left behind,
// or an ambiguous reconciliation. Warnings never change a session verdict.
type Warning struct {
	Phase   Phase
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Phase, w.Message)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
