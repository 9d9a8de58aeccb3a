package remedy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/stores"
)

// SiteProbe observes site state for before/after snapshots and the site
// scan. Satisfied by runtime.CMS.
type SiteProbe interface {
	DBConnected(ctx context.Context, siteID string) bool
	UserCount(ctx context.Context, siteID string) (int, error)
	PendingMigrations(ctx context.Context, siteID string) (bool, error)
	CacheRebuild(ctx context.Context, siteID string) error
}

// AttemptStore persists remediation attempts. Satisfied by
// *stores.SQLiteStore.
type AttemptStore interface {
	InsertRemediationAttempt(ctx context.Context, attempt *stores.RemediationAttempt) error
	ListRemediationAttempts(ctx context.Context, siteID string, limit int) ([]*stores.RemediationAttempt, error)
}

// Match is a resolved pattern with the params extracted from the failure
// output.
type Match struct {
	Pattern *Pattern
	Params  Params
}

// Outcome reports one apply.
type Outcome struct {
	PatternID string
	Command   string
	Result    stores.RemediationResult
	DryRun    bool

	// VerifyOutput is the verification command's output, kept for display.
	VerifyOutput string
}

// stateSnapshot is the observable site state recorded around an apply.
type stateSnapshot struct {
	RuntimeRunning bool `json:"runtime_running"`
	DBConnected    bool `json:"db_connected"`
	UserCount      int  `json:"user_count"`
}

// Engine matches failure output against the registry and applies corrective
// commands on the host.
type Engine struct {
	registry *Registry
	probe    SiteProbe
	rt       runtime.Runtime
	store    AttemptStore
	runner   runtime.CommandRunner
	resolve  runtime.SitePathResolver
	dryRun   bool
	clock    func() time.Time
	logger   zerolog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithDryRun renders commands without executing or persisting anything.
func WithDryRun(enabled bool) EngineOption {
	return func(e *Engine) { e.dryRun = enabled }
}

// NewEngine creates a remediation engine.
func NewEngine(registry *Registry, probe SiteProbe, rt runtime.Runtime, store AttemptStore, runner runtime.CommandRunner, resolve runtime.SitePathResolver, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		probe:    probe,
		rt:       rt,
		store:    store,
		runner:   runner,
		resolve:  resolve,
		clock:    time.Now,
		logger:   logger.With().Str("component", "remedy").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze matches failure output against the registry in registration
// order and returns the first match. A match whose extracted module name or
// path fails validation is skipped, never applied.
func (e *Engine) Analyze(output string) (*Match, bool) {
	var first *Match
	extra := 0

	for _, p := range e.registry.Patterns() {
		params, ok := p.match(output)
		if !ok {
			continue
		}
		if params.ModuleName != "" {
			if err := ValidateModuleName(params.ModuleName); err != nil {
				e.logger.Warn().Str("pattern", p.ID).Err(err).Msg("match skipped")
				continue
			}
		}
		if params.Path != "" {
			if err := ValidatePath(params.Path); err != nil {
				e.logger.Warn().Str("pattern", p.ID).Err(err).Msg("match skipped")
				continue
			}
		}
		if first == nil {
			first = &Match{Pattern: p, Params: params}
			continue
		}
		extra++
	}

	if first == nil {
		return nil, false
	}
	if extra > 0 {
		e.logger.Warn().
			Str("pattern", first.Pattern.ID).
			Int("also_matched", extra).
			Msg("multiple patterns matched; first registered wins")
	}
	return first, true
}

// Apply executes a match's corrective command for a site. When the pattern
// has a verify command, its exit status alone decides success. Every real
// attempt is persisted, successful or not; dry runs are not.
func (e *Engine) Apply(ctx context.Context, match *Match, siteID string) (*Outcome, error) {
	if err := runtime.ValidateSiteID(siteID); err != nil {
		return nil, err
	}

	sitePath, err := e.resolve(siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site path: %w", err)
	}

	params := match.Params
	params.Site = siteID
	params.SitePath = sitePath

	command, err := render(match.Pattern.cmdTmpl, params)
	if err != nil {
		return nil, err
	}

	if e.dryRun {
		e.logger.Info().Str("pattern", match.Pattern.ID).Str("command", command).Msg("dry run")
		return &Outcome{PatternID: match.Pattern.ID, Command: command, DryRun: true}, nil
	}

	before := e.snapshot(ctx, siteID)
	start := e.clock()

	_, cmdExit, cmdErr := e.runner.Run(ctx, sitePath, "sh", "-c", command)

	outcome := &Outcome{PatternID: match.Pattern.ID, Command: command}
	success := cmdErr == nil && cmdExit == 0

	if match.Pattern.verifyTmpl != nil {
		verifyCmd, err := render(match.Pattern.verifyTmpl, params)
		if err != nil {
			return nil, err
		}
		verifyOut, verifyExit, verifyErr := e.runner.Run(ctx, sitePath, "sh", "-c", verifyCmd)
		outcome.VerifyOutput = verifyOut
		success = verifyErr == nil && verifyExit == 0
	}

	if success {
		outcome.Result = stores.RemediationResultSuccess
	} else {
		outcome.Result = stores.RemediationResultFailed
	}

	after := e.snapshot(ctx, siteID)
	attempt := &stores.RemediationAttempt{
		PatternID:   match.Pattern.ID,
		SiteID:      siteID,
		Command:     command,
		StateBefore: before,
		StateAfter:  after,
		Result:      outcome.Result,
		Duration:    e.clock().Sub(start),
		CreatedAt:   start.UTC(),
	}
	if err := e.store.InsertRemediationAttempt(ctx, attempt); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist remediation attempt")
	}

	e.logger.Info().
		Str("site", siteID).
		Str("pattern", match.Pattern.ID).
		Str("result", string(outcome.Result)).
		Msg("remediation applied")
	return outcome, nil
}

// snapshot serializes the observable site state. Probe failures degrade to
// zero values; the snapshot is an audit aid, not a gate.
func (e *Engine) snapshot(ctx context.Context, siteID string) string {
	state := stateSnapshot{}
	if status, err := e.rt.Describe(ctx, siteID); err == nil {
		state.RuntimeRunning = status.Running
	}
	state.DBConnected = e.probe.DBConnected(ctx, siteID)
	if count, err := e.probe.UserCount(ctx, siteID); err == nil {
		state.UserCount = count
	}

	data, err := json.Marshal(state)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// BatchItem is one failure to remediate in a batch run.
type BatchItem struct {
	SiteID string
	Output string
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Fixed   int
	Failed  int
	Skipped int
}

// Batch analyzes and applies each item independently. Items with no
// matching pattern are skipped; one site's failure never stops the rest.
func (e *Engine) Batch(ctx context.Context, items []BatchItem) BatchResult {
	result := BatchResult{}
	for _, item := range items {
		match, ok := e.Analyze(item.Output)
		if !ok {
			result.Skipped++
			continue
		}
		outcome, err := e.Apply(ctx, match, item.SiteID)
		if err != nil || outcome.Result == stores.RemediationResultFailed {
			result.Failed++
			continue
		}
		if outcome.DryRun {
			result.Skipped++
			continue
		}
		result.Fixed++
	}
	return result
}

// ScanReport is the outcome of a proactive site scan. Fixed and Unfixed
// hold the pattern IDs of the fixes attempted for failed checks.
type ScanReport struct {
	RuntimeRunning    bool
	DBConnected       bool
	PendingMigrations bool
	Issues            []string
	Fixed             []string
	Unfixed           []string
}

// Healthy reports whether no check both failed and resisted its fix.
func (r *ScanReport) Healthy() bool {
	return len(r.Unfixed) == 0
}

// Scan check pattern IDs. Each scan check is gated behind a registered
// pattern so operators can override the fix the same way they override
// output-matched remediations.
const (
	scanRuntimePattern    = "runtime_not_running"
	scanDatabasePattern   = "database_connection"
	scanMigrationsPattern = "migrations_pending"
)

// SiteScan probes a site for latent problems without a triggering failure.
// Each failed check is routed through its pattern's corrective command and
// re-probed; the report is healthy when nothing failed or every failure was
// fixed. The derived caches are rebuilt at the end regardless of findings;
// stale caches are the most common cause of phantom issues.
func (e *Engine) SiteScan(ctx context.Context, siteID string) (*ScanReport, error) {
	if err := runtime.ValidateSiteID(siteID); err != nil {
		return nil, err
	}

	report := &ScanReport{}
	defer func() {
		if err := e.probe.CacheRebuild(ctx, siteID); err != nil {
			e.logger.Warn().Str("site", siteID).Err(err).Msg("post-scan cache rebuild failed")
		}
	}()

	report.RuntimeRunning = e.runtimeRunning(ctx, siteID)
	if !report.RuntimeRunning {
		report.Issues = append(report.Issues, "runtime is not running")
		if e.fixByID(ctx, siteID, scanRuntimePattern) && e.runtimeRunning(ctx, siteID) {
			report.RuntimeRunning = true
			report.Fixed = append(report.Fixed, scanRuntimePattern)
		} else {
			report.Unfixed = append(report.Unfixed, scanRuntimePattern)
		}
	}

	report.DBConnected = e.probe.DBConnected(ctx, siteID)
	if !report.DBConnected {
		report.Issues = append(report.Issues, "database is not answering")
		if e.fixByID(ctx, siteID, scanDatabasePattern) && e.probe.DBConnected(ctx, siteID) {
			report.DBConnected = true
			report.Fixed = append(report.Fixed, scanDatabasePattern)
		} else {
			report.Unfixed = append(report.Unfixed, scanDatabasePattern)
		}
	}

	if report.DBConnected {
		pending, err := e.probe.PendingMigrations(ctx, siteID)
		if err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("migration status unavailable: %v", err))
		} else if pending {
			report.PendingMigrations = true
			report.Issues = append(report.Issues, "database migrations are pending")
			if e.fixByID(ctx, siteID, scanMigrationsPattern) {
				if stillPending, err := e.probe.PendingMigrations(ctx, siteID); err == nil && !stillPending {
					report.Fixed = append(report.Fixed, scanMigrationsPattern)
				} else {
					report.Unfixed = append(report.Unfixed, scanMigrationsPattern)
				}
			} else {
				report.Unfixed = append(report.Unfixed, scanMigrationsPattern)
			}
		}
	}

	e.logger.Info().
		Str("site", siteID).
		Int("issues", len(report.Issues)).
		Int("fixed", len(report.Fixed)).
		Int("unfixed", len(report.Unfixed)).
		Msg("site scan finished")
	return report, nil
}

func (e *Engine) runtimeRunning(ctx context.Context, siteID string) bool {
	status, err := e.rt.Describe(ctx, siteID)
	return err == nil && status.Running
}

// fixByID applies a registered pattern directly, outside of output matching.
// It reports whether the corrective command applied and verified.
func (e *Engine) fixByID(ctx context.Context, siteID, patternID string) bool {
	p, ok := e.registry.Get(patternID)
	if !ok {
		e.logger.Warn().Str("pattern", patternID).Msg("scan fix pattern not registered")
		return false
	}
	outcome, err := e.Apply(ctx, &Match{Pattern: p}, siteID)
	if err != nil {
		e.logger.Warn().Str("pattern", patternID).Err(err).Msg("scan fix failed")
		return false
	}
	return !outcome.DryRun && outcome.Result == stores.RemediationResultSuccess
}

// History returns recent remediation attempts for a site, newest first.
func (e *Engine) History(ctx context.Context, siteID string, limit int) ([]*stores.RemediationAttempt, error) {
	return e.store.ListRemediationAttempts(ctx, siteID, limit)
}
