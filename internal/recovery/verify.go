package recovery

import (
	"context"
	"fmt"
	"strings"
)

// CheckName identifies one post-recovery check.
type CheckName string

const (
	CheckStructural CheckName = "structural"
	CheckFunctional CheckName = "functional"
	CheckIntegrity  CheckName = "integrity"
	CheckSanity     CheckName = "sanity"
)

// integrityOK is the only report line that counts as a clean integrity check.
const integrityOK = "ok"

// scratchPrefix names the throwaway table used by the functional check.
const scratchPrefix = "walrecover_scratch_"

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name   CheckName
	Passed bool
	Detail string
}

// Verdict collects the independent check results for a store.
type Verdict struct {
	Checks    []CheckResult
	TableRows map[string]int64
}

// OK reports whether every check passed.
func (v *Verdict) OK() bool {
	return len(v.Failed()) == 0
}

// Failed returns the checks that did not pass.
func (v *Verdict) Failed() []CheckResult {
	var failed []CheckResult
	for _, c := range v.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Check returns the result for name, if it ran.
func (v *Verdict) Check(name CheckName) (CheckResult, bool) {
	for _, c := range v.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

func (v *Verdict) String() string {
	parts := make([]string, len(v.Checks))
	for i, c := range v.Checks {
		status := "pass"
		if !c.Passed {
			status = "FAIL"
		}
		parts[i] = fmt.Sprintf("%s=%s", c.Name, status)
		if !c.Passed && c.Detail != "" {
			parts[i] += " (" + c.Detail + ")"
		}
	}
	return strings.Join(parts, ", ")
}

// VerifyConfig holds Verifier settings.
type VerifyConfig struct {
	// SanityQueries are read-only queries run in their own transaction.
	// A failing query fails the sanity check.
	SanityQueries []string
}

// Verifier confirms a recovered store is structurally sound and takes
// writes.
type Verifier struct {
	engine Engine
	idgen  IDGenerator
	cfg    VerifyConfig
	logger Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(engine Engine, idgen IDGenerator, cfg VerifyConfig, logger Logger) *Verifier {
	return &Verifier{engine: engine, idgen: idgen, cfg: cfg, logger: logger}
}

// Verify runs all checks against the store at storePath. Checks are
// independent; each runs even if an earlier one failed. The returned error
// is non-nil exactly when the verdict is not OK.
func (v *Verifier) Verify(ctx context.Context, storePath string) (*Verdict, error) {
	verdict := &Verdict{TableRows: make(map[string]int64)}

	store, err := v.engine.Open(ctx, storePath)
	if err != nil {
		detail := fmt.Sprintf("opening store: %v", err)
		for _, name := range []CheckName{CheckStructural, CheckFunctional, CheckIntegrity} {
			verdict.Checks = append(verdict.Checks, CheckResult{Name: name, Detail: detail})
		}
		return verdict, v.result(storePath, verdict)
	}
	defer store.Close()

	verdict.Checks = append(verdict.Checks,
		v.checkStructure(ctx, store, verdict),
		v.checkFunctional(ctx, store),
		v.checkIntegrity(ctx, store),
	)
	if len(v.cfg.SanityQueries) > 0 {
		verdict.Checks = append(verdict.Checks, v.checkSanity(ctx, store))
	}

	return verdict, v.result(storePath, verdict)
}

func (v *Verifier) result(storePath string, verdict *Verdict) error {
	failed := verdict.Failed()
	if len(failed) == 0 {
		v.logger.Info("store verified", "store", storePath, "tables", len(verdict.TableRows))
		return nil
	}
	details := make([]string, len(failed))
	for i, c := range failed {
		details[i] = fmt.Sprintf("%s: %s", c.Name, c.Detail)
		v.logger.Error("verification check failed", "store", storePath, "check", c.Name, "detail", c.Detail)
	}
	return newPhaseError(PhaseVerify, ErrVerification, fmt.Errorf("%s", strings.Join(details, "; ")))
}

// checkStructure requires at least one user table, each readable.
func (v *Verifier) checkStructure(ctx context.Context, store Store, verdict *Verdict) CheckResult {
	res := CheckResult{Name: CheckStructural}
	tables, err := store.Tables(ctx)
	if err != nil {
		res.Detail = fmt.Sprintf("listing tables: %v", err)
		return res
	}
	if len(tables) == 0 {
		res.Detail = "store has no tables"
		return res
	}
	for _, t := range tables {
		n, err := store.RowCount(ctx, t)
		if err != nil {
			res.Detail = fmt.Sprintf("reading table %s: %v", t, err)
			return res
		}
		verdict.TableRows[t] = n
		v.logger.Debug("table row count", "table", t, "rows", n)
	}
	res.Passed = true
	res.Detail = fmt.Sprintf("%d tables", len(tables))
	return res
}

// checkFunctional writes a marker row into a scratch table and reads it back.
func (v *Verifier) checkFunctional(ctx context.Context, store Store) CheckResult {
	res := CheckResult{Name: CheckFunctional}
	id := strings.ReplaceAll(v.idgen.New(), "-", "")
	table := scratchPrefix + id
	marker := "marker-" + id

	got, err := store.RoundTrip(ctx, table, marker)
	if err != nil {
		res.Detail = fmt.Sprintf("scratch round trip: %v", err)
		return res
	}
	if got != marker {
		res.Detail = fmt.Sprintf("read back %q, wrote %q", got, marker)
		return res
	}
	res.Passed = true
	return res
}

// checkIntegrity requires the engine's integrity check to answer exactly "ok".
func (v *Verifier) checkIntegrity(ctx context.Context, store Store) CheckResult {
	res := CheckResult{Name: CheckIntegrity}
	lines, err := store.IntegrityCheck(ctx)
	if err != nil {
		res.Detail = fmt.Sprintf("running integrity check: %v", err)
		return res
	}
	if len(lines) != 1 || lines[0] != integrityOK {
		res.Detail = strings.Join(lines, "; ")
		return res
	}
	res.Passed = true
	return res
}

func (v *Verifier) checkSanity(ctx context.Context, store Store) CheckResult {
	res := CheckResult{Name: CheckSanity}
	counts, err := store.QueryBatch(ctx, v.cfg.SanityQueries)
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	res.Detail = fmt.Sprintf("%d queries, rows %v", len(counts), counts)
	return res
}
