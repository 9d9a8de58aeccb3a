package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stagehand/stagehand/pkg/runtime"
)

// stepFuncs is one step's execution pair: run does the work, verify is a
// cheap check whether the work is already done. Both must be safe to call
// repeatedly.
type stepFuncs struct {
	run    func(ctx context.Context, d Deployment) error
	verify func(ctx context.Context, d Deployment) (bool, error)
}

// devModules are the helper modules enabled in development and stripped by
// production hardening.
var devModules = []string{"devel", "stage_file_proxy"}

// cacheLayerModules are the cache layers disabled for local iteration.
var cacheLayerModules = []string{"page_cache", "dynamic_page_cache"}

// unsanitizedQuery counts user records whose contact data escaped
// sanitization.
const unsanitizedQuery = "SELECT COUNT(*) FROM users_field_data WHERE uid > 0 AND mail NOT LIKE '%@example.invalid'"

func (o *Orchestrator) stepImpl(key string) (stepFuncs, error) {
	switch key {
	case "validate_settings":
		return stepFuncs{run: o.stepValidateSettings, verify: o.verifyAfter(o.stepValidateSettings)}, nil
	case "init_runtime":
		return stepFuncs{run: o.stepInitRuntime, verify: o.verifyMaterialized}, nil
	case "start_runtime":
		return stepFuncs{run: o.stepStartRuntime, verify: o.verifyRunning}, nil
	case "install_dependencies":
		return stepFuncs{run: o.stepInstallDependencies, verify: o.verifyDependencies}, nil
	case "acquire_dataset":
		return stepFuncs{run: o.stepAcquireDataset, verify: o.verifyDataset}, nil
	case "import_config":
		return stepFuncs{run: o.stepImportConfig, verify: o.verifyConfig}, nil
	case "apply_migrations":
		return stepFuncs{run: o.stepApplyMigrations, verify: o.verifyMigrations}, nil
	case "rebuild_caches":
		return stepFuncs{run: o.stepRebuildCaches, verify: o.verifyCMSResponds}, nil
	case "enable_dev_modules":
		return stepFuncs{run: o.stepEnableDevModules, verify: o.verifyDevModules}, nil
	case "disable_cache_layers":
		return stepFuncs{run: o.stepDisableCacheLayers, verify: o.verifyCacheLayersOff}, nil
	case "verify_sanitization":
		return stepFuncs{run: o.stepVerifySanitization, verify: o.verifySanitized}, nil
	case "enable_staging_settings":
		return stepFuncs{run: o.stepEnableStagingSettings, verify: o.verifyStagingSettings}, nil
	case "enable_production_hardening":
		return stepFuncs{run: o.stepProductionHardening, verify: o.verifyHardened}, nil
	case "warm_caches":
		return stepFuncs{run: o.stepWarmCaches, verify: o.verifyCMSResponds}, nil
	default:
		return stepFuncs{}, fmt.Errorf("no implementation for step %q", key)
	}
}

// verifyAfter adapts a run func whose success implies the step is done.
func (o *Orchestrator) verifyAfter(run func(ctx context.Context, d Deployment) error) func(ctx context.Context, d Deployment) (bool, error) {
	return func(ctx context.Context, d Deployment) (bool, error) {
		if err := run(ctx, d); err != nil {
			return false, nil
		}
		return true, nil
	}
}

func (o *Orchestrator) stepValidateSettings(ctx context.Context, d Deployment) error {
	if err := runtime.ValidateSiteID(d.SiteID); err != nil {
		return err
	}
	if err := runtime.ValidateSiteID(d.TargetID); err != nil {
		return err
	}
	if o.cfg.Resolve != nil {
		if _, err := o.cfg.Resolve(d.TargetID); err != nil {
			return fmt.Errorf("target path unresolvable: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) stepInitRuntime(ctx context.Context, d Deployment) error {
	if o.cfg.Materialized != nil {
		exists, err := o.cfg.Materialized.Materialized(ctx, d.TargetID)
		if err == nil && exists {
			return nil
		}
	}
	if o.cfg.Runner == nil || o.cfg.Resolve == nil {
		return fmt.Errorf("runtime initialization needs a command runner and path resolver")
	}

	dir, err := o.cfg.Resolve(d.TargetID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	out, code, err := o.cfg.Runner.Run(ctx, dir, o.cfg.RuntimeBinary,
		"config", "--project-name="+d.TargetID, "--auto")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s config failed (exit %d): %s", o.cfg.RuntimeBinary, code, firstLine(out))
	}
	return nil
}

func (o *Orchestrator) verifyMaterialized(ctx context.Context, d Deployment) (bool, error) {
	if o.cfg.Materialized == nil {
		return false, nil
	}
	return o.cfg.Materialized.Materialized(ctx, d.TargetID)
}

func (o *Orchestrator) stepStartRuntime(ctx context.Context, d Deployment) error {
	return o.cfg.Runtime.Start(ctx, d.TargetID)
}

func (o *Orchestrator) verifyRunning(ctx context.Context, d Deployment) (bool, error) {
	status, err := o.cfg.Runtime.Describe(ctx, d.TargetID)
	if err != nil {
		return false, nil
	}
	return status.Running, nil
}

func (o *Orchestrator) stepInstallDependencies(ctx context.Context, d Deployment) error {
	out, code, err := o.cfg.Runtime.Exec(ctx, d.TargetID, "composer", "install", "--no-interaction")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("composer install failed (exit %d): %s", code, firstLine(out))
	}
	return nil
}

func (o *Orchestrator) verifyDependencies(ctx context.Context, d Deployment) (bool, error) {
	_, code, err := o.cfg.Runtime.Exec(ctx, d.TargetID, "test", "-d", "vendor")
	if err != nil {
		return false, nil
	}
	return code == 0, nil
}

func (o *Orchestrator) stepAcquireDataset(ctx context.Context, d Deployment) error {
	handle, err := o.cfg.Router.Acquire(ctx, d.Intent, d.SiteID, d.TargetID)
	if err != nil {
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordAcquisition(string(d.Intent.Kind), "failure")
		}
		return err
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordAcquisition(handle.Strategy, "success")
	}
	o.logger.Info().
		Str("target", d.TargetID).
		Str("strategy", handle.Strategy).
		Bool("sanitized", handle.Sanitized).
		Msg("dataset acquired")
	return nil
}

func (o *Orchestrator) verifyDataset(ctx context.Context, d Deployment) (bool, error) {
	return o.cfg.CMS.DBConnected(ctx, d.TargetID), nil
}

func (o *Orchestrator) stepImportConfig(ctx context.Context, d Deployment) error {
	return o.cfg.CMS.ConfigImport(ctx, d.TargetID)
}

func (o *Orchestrator) verifyConfig(ctx context.Context, d Deployment) (bool, error) {
	out, err := o.cfg.CMS.ConfigDiff(ctx, d.TargetID)
	if err != nil {
		return false, nil
	}
	trimmed := strings.TrimSpace(out)
	return trimmed == "" || strings.Contains(strings.ToLower(trimmed), "no differences"), nil
}

func (o *Orchestrator) stepApplyMigrations(ctx context.Context, d Deployment) error {
	return o.cfg.CMS.ApplyMigrations(ctx, d.TargetID)
}

func (o *Orchestrator) verifyMigrations(ctx context.Context, d Deployment) (bool, error) {
	pending, err := o.cfg.CMS.PendingMigrations(ctx, d.TargetID)
	if err != nil {
		return false, nil
	}
	return !pending, nil
}

func (o *Orchestrator) stepRebuildCaches(ctx context.Context, d Deployment) error {
	return o.cfg.CMS.CacheRebuild(ctx, d.TargetID)
}

func (o *Orchestrator) verifyCMSResponds(ctx context.Context, d Deployment) (bool, error) {
	_, err := o.cfg.CMS.Status(ctx, d.TargetID)
	return err == nil, nil
}

func (o *Orchestrator) stepEnableDevModules(ctx context.Context, d Deployment) error {
	for _, module := range devModules {
		if err := o.cfg.CMS.EnableModule(ctx, d.TargetID, module); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyDevModules(ctx context.Context, d Deployment) (bool, error) {
	for _, module := range devModules {
		enabled, err := o.moduleEnabled(ctx, d.TargetID, module)
		if err != nil || !enabled {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) stepDisableCacheLayers(ctx context.Context, d Deployment) error {
	for _, module := range cacheLayerModules {
		enabled, err := o.moduleEnabled(ctx, d.TargetID, module)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}
		if err := o.cfg.CMS.DisableModule(ctx, d.TargetID, module); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyCacheLayersOff(ctx context.Context, d Deployment) (bool, error) {
	for _, module := range cacheLayerModules {
		enabled, err := o.moduleEnabled(ctx, d.TargetID, module)
		if err != nil || enabled {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) stepVerifySanitization(ctx context.Context, d Deployment) error {
	count, err := o.unsanitizedCount(ctx, d.TargetID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%d user records with unsanitized contact data", count)
	}
	return nil
}

func (o *Orchestrator) verifySanitized(ctx context.Context, d Deployment) (bool, error) {
	count, err := o.unsanitizedCount(ctx, d.TargetID)
	if err != nil {
		return false, nil
	}
	return count == 0, nil
}

func (o *Orchestrator) unsanitizedCount(ctx context.Context, siteID string) (int, error) {
	out, err := o.cfg.CMS.Query(ctx, siteID, unsanitizedQuery)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty sanitization check result")
	}
	count, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("failed to parse sanitization check from %q: %w", out, err)
	}
	return count, nil
}

func (o *Orchestrator) stepEnableStagingSettings(ctx context.Context, d Deployment) error {
	// Outbound mail from staging must never reach real recipients.
	return o.cfg.CMS.EnableModule(ctx, d.TargetID, "reroute_email")
}

func (o *Orchestrator) verifyStagingSettings(ctx context.Context, d Deployment) (bool, error) {
	enabled, err := o.moduleEnabled(ctx, d.TargetID, "reroute_email")
	if err != nil {
		return false, nil
	}
	return enabled, nil
}

func (o *Orchestrator) stepProductionHardening(ctx context.Context, d Deployment) error {
	for _, module := range devModules {
		enabled, err := o.moduleEnabled(ctx, d.TargetID, module)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}
		if err := o.cfg.CMS.DisableModule(ctx, d.TargetID, module); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) verifyHardened(ctx context.Context, d Deployment) (bool, error) {
	for _, module := range devModules {
		enabled, err := o.moduleEnabled(ctx, d.TargetID, module)
		if err != nil || enabled {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) stepWarmCaches(ctx context.Context, d Deployment) error {
	if err := o.cfg.CMS.CacheRebuild(ctx, d.TargetID); err != nil {
		return err
	}
	// Prime the page cache with a front-page hit; best effort.
	if out, code, err := o.cfg.Runtime.Exec(ctx, d.TargetID, "curl", "-fsS", "-o", "/dev/null", "http://localhost"); err != nil || code != 0 {
		o.logger.Debug().Str("output", firstLine(out)).Msg("cache warm request failed")
	}
	return nil
}

// moduleEnabled checks the CMS module list for an enabled module.
func (o *Orchestrator) moduleEnabled(ctx context.Context, siteID, module string) (bool, error) {
	out, code, err := o.cfg.Runtime.Exec(ctx, siteID, o.cfg.CMS.Binary(), "pm:list", "--status=enabled", "--field=name")
	if err != nil {
		return false, err
	}
	if code != 0 {
		return false, fmt.Errorf("module list failed (exit %d): %s", code, firstLine(out))
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == module {
			return true, nil
		}
	}
	return false, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
