package remedy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/stores"
)

type fakeProbe struct {
	dbConnected    bool
	userCount      int
	pending        bool
	cacheRebuilds  int
	cacheRebuildOK bool
}

func (f *fakeProbe) DBConnected(ctx context.Context, siteID string) bool { return f.dbConnected }

func (f *fakeProbe) UserCount(ctx context.Context, siteID string) (int, error) {
	return f.userCount, nil
}

func (f *fakeProbe) PendingMigrations(ctx context.Context, siteID string) (bool, error) {
	return f.pending, nil
}

func (f *fakeProbe) CacheRebuild(ctx context.Context, siteID string) error {
	f.cacheRebuilds++
	return nil
}

type fakeRuntime struct{ running bool }

func (f *fakeRuntime) Start(ctx context.Context, siteID string) error   { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, siteID string) error    { return nil }
func (f *fakeRuntime) Restart(ctx context.Context, siteID string) error { return nil }

func (f *fakeRuntime) Describe(ctx context.Context, siteID string) (runtime.Status, error) {
	return runtime.Status{Running: f.running}, nil
}

func (f *fakeRuntime) Exec(ctx context.Context, siteID string, command ...string) (string, int, error) {
	return "", 0, nil
}

type fakeAttemptStore struct {
	attempts []*stores.RemediationAttempt
}

func (f *fakeAttemptStore) InsertRemediationAttempt(ctx context.Context, attempt *stores.RemediationAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeAttemptStore) ListRemediationAttempts(ctx context.Context, siteID string, limit int) ([]*stores.RemediationAttempt, error) {
	return f.attempts, nil
}

// shellRunner scripts exit codes by command substring; unmatched commands
// succeed. onRun, when set, observes every command before it resolves so
// tests can mutate fixture state as a side effect of a fix command.
type shellRunner struct {
	commands []string
	exitFor  map[string]int
	onRun    func(cmd string)
}

func (s *shellRunner) Run(ctx context.Context, dir, name string, args ...string) (string, int, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	s.commands = append(s.commands, cmd)
	if s.onRun != nil {
		s.onRun(cmd)
	}
	for substr, code := range s.exitFor {
		if strings.Contains(cmd, substr) {
			return "", code, nil
		}
	}
	return "", 0, nil
}

type engineFixture struct {
	engine *Engine
	probe  *fakeProbe
	rt     *fakeRuntime
	store  *fakeAttemptStore
	runner *shellRunner
}

func setupEngine(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()

	registry := NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		t.Fatalf("builtins failed: %v", err)
	}

	fx := &engineFixture{
		probe:  &fakeProbe{dbConnected: true, userCount: 3},
		rt:     &fakeRuntime{running: true},
		store:  &fakeAttemptStore{},
		runner: &shellRunner{exitFor: map[string]int{}},
	}
	resolve := func(siteID string) (string, error) { return "/var/www/" + siteID, nil }
	fx.engine = NewEngine(registry, fx.probe, fx.rt, fx.store, fx.runner, resolve, zerolog.Nop(), opts...)
	return fx
}

func TestAnalyzePermissionDenied(t *testing.T) {
	fx := setupEngine(t)

	output := `Warning: file_put_contents(): Permission denied in '/var/www/demo/sites/default/settings.php'`
	match, ok := fx.engine.Analyze(output)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Pattern.ID != "permission_denied" {
		t.Errorf("matched %s, want permission_denied", match.Pattern.ID)
	}
	if match.Params.Path != "/var/www/demo/sites/default/settings.php" {
		t.Errorf("extracted path = %q", match.Params.Path)
	}
}

func TestAnalyzeExtractsModuleName(t *testing.T) {
	fx := setupEngine(t)

	match, ok := fx.engine.Analyze(`The module 'pathauto' is missing from the active configuration`)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Pattern.ID != "module_missing" {
		t.Errorf("matched %s, want module_missing", match.Pattern.ID)
	}
	if match.Params.ModuleName != "pathauto" {
		t.Errorf("module = %q, want pathauto", match.Params.ModuleName)
	}
}

func TestAnalyzeFirstRegisteredWins(t *testing.T) {
	fx := setupEngine(t)

	// Output matching both permission_denied and module_missing; the
	// earlier-registered pattern must win.
	output := `Permission denied; module 'pathauto' is missing`
	match, ok := fx.engine.Analyze(output)
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Pattern.ID != "permission_denied" {
		t.Errorf("matched %s, want first-registered permission_denied", match.Pattern.ID)
	}
}

func TestAnalyzeRejectsInjectedPath(t *testing.T) {
	fx := setupEngine(t)

	// The quoted "path" smuggles a second shell command; the match must be
	// dropped before anything could render it.
	output := `Permission denied on '/tmp/x; touch /tmp/pwned'`
	if match, ok := fx.engine.Analyze(output); ok {
		t.Fatalf("unsafe extracted path must not produce a match, got %s", match.Pattern.ID)
	}
	if len(fx.runner.commands) != 0 {
		t.Errorf("nothing may execute during analysis, ran %v", fx.runner.commands)
	}
}

func TestAnalyzeNoMatch(t *testing.T) {
	fx := setupEngine(t)
	if _, ok := fx.engine.Analyze("everything is fine"); ok {
		t.Error("expected no match")
	}
}

func TestApplyVerifyDecidesSuccess(t *testing.T) {
	fx := setupEngine(t)
	// Corrective chmod succeeds but the writability verify still fails.
	fx.runner.exitFor["test -w"] = 1

	match, ok := fx.engine.Analyze("Permission denied")
	if !ok {
		t.Fatal("expected a match")
	}

	outcome, err := fx.engine.Apply(context.Background(), match, "demo")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if outcome.Result != stores.RemediationResultFailed {
		t.Errorf("result = %s, verify failure must mean failed", outcome.Result)
	}

	if len(fx.store.attempts) != 1 {
		t.Fatalf("failed attempt must still be persisted, got %d", len(fx.store.attempts))
	}
	attempt := fx.store.attempts[0]
	if attempt.Result != stores.RemediationResultFailed {
		t.Errorf("persisted result = %s", attempt.Result)
	}
	if !strings.Contains(attempt.StateBefore, "runtime_running") {
		t.Errorf("state snapshot missing, got %q", attempt.StateBefore)
	}
}

func TestApplyVerifySuccess(t *testing.T) {
	fx := setupEngine(t)

	match, _ := fx.engine.Analyze("Permission denied")
	outcome, err := fx.engine.Apply(context.Background(), match, "demo")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if outcome.Result != stores.RemediationResultSuccess {
		t.Errorf("result = %s, want success", outcome.Result)
	}
	if !strings.Contains(outcome.Command, "/var/www/demo") {
		t.Errorf("command should interpolate the site path, got %q", outcome.Command)
	}
}

func TestApplyDryRun(t *testing.T) {
	fx := setupEngine(t, WithDryRun(true))

	match, _ := fx.engine.Analyze("Permission denied")
	outcome, err := fx.engine.Apply(context.Background(), match, "demo")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !outcome.DryRun {
		t.Error("expected dry-run outcome")
	}
	if outcome.Command == "" {
		t.Error("dry run should still render the command")
	}
	if len(fx.runner.commands) != 0 {
		t.Errorf("dry run must not execute anything, ran %v", fx.runner.commands)
	}
	if len(fx.store.attempts) != 0 {
		t.Error("dry run must not persist an attempt")
	}
}

func TestApplyRejectsBadSiteID(t *testing.T) {
	fx := setupEngine(t)

	match, _ := fx.engine.Analyze("Permission denied")
	if _, err := fx.engine.Apply(context.Background(), match, "demo; rm -rf /"); err == nil {
		t.Fatal("expected validation error")
	}
	if len(fx.runner.commands) != 0 {
		t.Error("validation failure must precede any execution")
	}
}

func TestBatchCounters(t *testing.T) {
	fx := setupEngine(t)
	fx.runner.exitFor["config:status"] = 1

	items := []BatchItem{
		{SiteID: "site-a", Output: "Permission denied"},
		{SiteID: "site-b", Output: "Site UUID in source storage does not match the target storage"},
		{SiteID: "site-c", Output: "nothing recognizable"},
		{SiteID: "site-d", Output: "also not recognizable"},
	}

	result := fx.engine.Batch(context.Background(), items)
	if result.Fixed != 1 {
		t.Errorf("fixed = %d, want 1", result.Fixed)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if result.Skipped != 2 {
		t.Errorf("skipped = %d, want 2 for unmatched outputs", result.Skipped)
	}
}

func TestSiteScanAlwaysRebuildsCaches(t *testing.T) {
	fx := setupEngine(t)
	fx.rt.running = false
	fx.probe.dbConnected = false

	report, err := fx.engine.SiteScan(context.Background(), "demo")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Issues) == 0 {
		t.Error("expected issues for a stopped, disconnected site")
	}
	if report.Healthy() {
		t.Error("site must stay unhealthy when fixes do not take")
	}
	if len(report.Unfixed) != 2 {
		t.Errorf("unfixed = %v, want runtime and database checks", report.Unfixed)
	}
	if fx.probe.cacheRebuilds != 1 {
		t.Errorf("cache rebuilds = %d, the refresh must run regardless of findings", fx.probe.cacheRebuilds)
	}
}

func TestSiteScanFixesStoppedRuntime(t *testing.T) {
	fx := setupEngine(t)
	fx.rt.running = false
	fx.runner.onRun = func(cmd string) {
		if strings.Contains(cmd, "ddev start") {
			fx.rt.running = true
		}
	}

	report, err := fx.engine.SiteScan(context.Background(), "demo")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !report.RuntimeRunning {
		t.Error("runtime should be running after the fix")
	}
	if len(report.Fixed) != 1 || report.Fixed[0] != "runtime_not_running" {
		t.Errorf("fixed = %v, want [runtime_not_running]", report.Fixed)
	}
	if !report.Healthy() {
		t.Errorf("a fully fixed site is healthy, unfixed = %v", report.Unfixed)
	}
	if len(fx.store.attempts) != 1 {
		t.Errorf("the scan fix must be persisted like any remediation, got %d attempts", len(fx.store.attempts))
	}
}

func TestSiteScanReportsPendingMigrations(t *testing.T) {
	fx := setupEngine(t)
	fx.probe.pending = true

	report, err := fx.engine.SiteScan(context.Background(), "demo")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !report.PendingMigrations {
		t.Error("expected pending migrations to be reported")
	}
	// The fake keeps reporting pending after the fix, so the check stays
	// unfixed and the site unhealthy.
	if len(report.Unfixed) != 1 || report.Unfixed[0] != "migrations_pending" {
		t.Errorf("unfixed = %v, want [migrations_pending]", report.Unfixed)
	}
	if report.Healthy() {
		t.Error("pending migrations that resist the fix must mean unhealthy")
	}
}
