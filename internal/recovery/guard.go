package recovery

import (
	"fmt"
	"os"
)

// BackupSuffix is appended to a log path to form its backup path.
const BackupSuffix = ".backup"

// BackupPath returns the backup path for logPath.
func BackupPath(logPath string) string { return logPath + BackupSuffix }

// AmbiguousPolicy decides what a failed session does with the backup when a
// log file has reappeared at the original path.
type AmbiguousPolicy string

const (
	// PolicyDiscardBackup removes the backup and leaves the newer log.
	PolicyDiscardBackup AmbiguousPolicy = "discard"
	// PolicyKeepBackup leaves both files and reports a warning so an
	// operator can decide. The next session refuses to engage until the
	// backup is resolved.
	PolicyKeepBackup AmbiguousPolicy = "keep"
)

// ParseAmbiguousPolicy parses a policy name. Empty means PolicyDiscardBackup.
func ParseAmbiguousPolicy(s string) (AmbiguousPolicy, error) {
	switch AmbiguousPolicy(s) {
	case "", PolicyDiscardBackup:
		return PolicyDiscardBackup, nil
	case PolicyKeepBackup:
		return PolicyKeepBackup, nil
	default:
		return "", fmt.Errorf("unknown ambiguous policy: %q", s)
	}
}

// GuardOutcome describes what reconciliation did with the backup.
type GuardOutcome string

const (
	OutcomeNone      GuardOutcome = "none"      // no backup existed
	OutcomeCommitted GuardOutcome = "committed" // backup removed after success
	OutcomeRestored  GuardOutcome = "restored"  // backup renamed back into place
	OutcomeDiscarded GuardOutcome = "discarded" // ambiguous: backup removed, newer log kept
	OutcomeKept      GuardOutcome = "kept"      // ambiguous: both files left in place
	OutcomeStuck     GuardOutcome = "stuck"     // reconciliation itself failed
)

// BackupGuard makes overwriting a local log file reversible. Engage moves
// an existing log aside with a single rename; Commit discards the backup
// after success and Rollback puts it back after failure.
type BackupGuard struct {
	logPath    string
	backupPath string
	policy     AmbiguousPolicy
	logger     Logger
	backedUp   bool
}

// EngageGuard prepares logPath to be overwritten. A backup left by an
// earlier crashed session is reconciled first; if it cannot be (see
// PolicyKeepBackup), EngageGuard fails without touching anything.
func EngageGuard(logPath string, policy AmbiguousPolicy, logger Logger) (*BackupGuard, []Warning, error) {
	g := &BackupGuard{
		logPath:    logPath,
		backupPath: BackupPath(logPath),
		policy:     policy,
		logger:     logger,
	}

	var warnings []Warning
	if exists(g.backupPath) {
		logger.Warn("stale backup found, reconciling before recovery", "backup", g.backupPath)
		_, warnings = Reconcile(logPath, policy, logger)
		if exists(g.backupPath) {
			return nil, warnings, fmt.Errorf("unreconciled backup at %s", g.backupPath)
		}
	}

	if exists(logPath) {
		if err := os.Rename(logPath, g.backupPath); err != nil {
			return nil, warnings, fmt.Errorf("backing up %s: %w", logPath, err)
		}
		g.backedUp = true
		logger.Info("existing log backed up", "log", logPath, "backup", g.backupPath)
	}

	return g, warnings, nil
}

// BackedUp reports whether Engage moved an existing log aside.
func (g *BackupGuard) BackedUp() bool { return g.backedUp }

// LogPath returns the guarded log path.
func (g *BackupGuard) LogPath() string { return g.logPath }

// Commit discards the backup after a successful session. A failed removal
// is a warning, not a session failure.
func (g *BackupGuard) Commit() (GuardOutcome, []Warning) {
	if !exists(g.backupPath) {
		return OutcomeNone, nil
	}
	if err := os.Remove(g.backupPath); err != nil {
		g.logger.Warn("failed to remove backup", "backup", g.backupPath, "error", err)
		return OutcomeStuck, []Warning{{
			Phase:   PhaseCleanup,
			Message: fmt.Sprintf("stale backup left at %s: %v", g.backupPath, err),
		}}
	}
	g.logger.Info("backup removed", "backup", g.backupPath)
	return OutcomeCommitted, nil
}

// Rollback restores the pre-session log after a failed session.
// It is safe to call more than once.
func (g *BackupGuard) Rollback() (GuardOutcome, []Warning) {
	return Reconcile(g.logPath, g.policy, g.logger)
}

// Reconcile runs the failure path of the guard for logPath on its own, for
// example after a crash left a backup behind. If no log exists the backup
// is renamed back; if one does, policy decides. Running it twice is a no-op
// the second time.
func Reconcile(logPath string, policy AmbiguousPolicy, logger Logger) (GuardOutcome, []Warning) {
	backupPath := BackupPath(logPath)
	if !exists(backupPath) {
		return OutcomeNone, nil
	}

	if !exists(logPath) {
		if err := os.Rename(backupPath, logPath); err != nil {
			logger.Error("failed to restore backup", "backup", backupPath, "error", err)
			return OutcomeStuck, []Warning{{
				Phase:   PhaseReconcile,
				Message: fmt.Sprintf("restoring %s: %v", backupPath, err),
			}}
		}
		logger.Info("restored original log from backup", "log", logPath)
		return OutcomeRestored, nil
	}

	if policy == PolicyKeepBackup {
		logger.Warn("log reappeared during failed session, keeping backup for operator review",
			"log", logPath, "backup", backupPath)
		return OutcomeKept, []Warning{{
			Phase:   PhaseReconcile,
			Message: fmt.Sprintf("ambiguous: both %s and %s kept", logPath, backupPath),
		}}
	}

	if err := os.Remove(backupPath); err != nil {
		logger.Error("failed to discard backup", "backup", backupPath, "error", err)
		return OutcomeStuck, []Warning{{
			Phase:   PhaseReconcile,
			Message: fmt.Sprintf("removing %s: %v", backupPath, err),
		}}
	}
	logger.Warn("log reappeared during failed session, backup discarded",
		"log", logPath, "backup", backupPath)
	return OutcomeDiscarded, []Warning{{
		Phase:   PhaseReconcile,
		Message: fmt.Sprintf("ambiguous: kept newer %s, discarded backup", logPath),
	}}
}
