package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagehand/stagehand/pkg/acquire"
	"github.com/stagehand/stagehand/pkg/checkpoint"
	"github.com/stagehand/stagehand/pkg/configstore"
	"github.com/stagehand/stagehand/pkg/orchestrator"
	"github.com/stagehand/stagehand/pkg/preflight"
	"github.com/stagehand/stagehand/pkg/remedy"
	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/steps"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
	"github.com/stagehand/stagehand/pkg/transports/ssh"
)

// app holds the wired collaborators behind every subcommand. One app is built
// per command invocation and closed when the command returns.
type app struct {
	settings *configstore.Settings
	store    *configstore.Store
	tracker  *steps.Tracker

	runner  runtime.CommandRunner
	resolve runtime.SitePathResolver
	local   *runtime.Local
	cms     *runtime.CMS

	db          *stores.SQLiteStore
	inventory   *acquire.Inventory
	router      *acquire.Router
	production  *acquire.SSHProductionSource
	checkpoints *checkpoint.Manager
	registry    *remedy.Registry
	remedy      *remedy.Engine
	preflight   *preflight.Checker
	orch        *orchestrator.Orchestrator

	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer

	logger zerolog.Logger
}

// resolveConfigPath returns the settings file path from the --config flag or
// the default location under the user's home directory.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".stagehand", "settings.yaml"), nil
}

// loadApp wires the full application from the settings file.
func loadApp(ctx context.Context) (*app, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	store, err := configstore.New(path)
	if err != nil {
		return nil, err
	}
	settings, err := configstore.LoadSettings(store)
	if err != nil {
		return nil, err
	}

	logCfg := telemetry.DefaultLoggingConfig()
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	a := &app{
		settings: settings,
		store:    store,
		tracker:  steps.NewTracker(store),
		runner:   runtime.ExecRunner{},
		logger:   logger,
	}
	a.resolve = func(siteID string) (string, error) {
		if err := runtime.ValidateSiteID(siteID); err != nil {
			return "", err
		}
		return filepath.Join(settings.SitesDir, siteID), nil
	}
	a.local = runtime.NewLocal(settings.RuntimeBinary, a.runner, a.resolve, logger)
	a.cms = runtime.NewCMS(a.local, settings.CMSBinary)

	db, err := stores.NewSQLiteStore(stores.Config{Path: settings.DatabasePath})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(settings.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := db.Init(ctx); err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.db = db

	a.metrics = telemetry.NewMetrics(telemetry.DefaultMetricsConfig())
	a.events = telemetry.NewEventPublisher(telemetry.DefaultEventsConfig())
	a.events.Subscribe(func(event telemetry.Event) {
		logger.Debug().
			Str("type", event.Type).
			Str("site", event.Site).
			Str("step", event.Step).
			Msg(event.Message)
	})
	tracer, err := telemetry.NewTracer(telemetry.DefaultTracingConfig(), appVersion)
	if err != nil {
		a.close()
		return nil, err
	}
	a.tracer = tracer

	a.inventory = acquire.NewInventory(settings.SnapshotsDir, logger)
	if err := os.MkdirAll(settings.SnapshotsDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Snapshots directory unavailable, acquisition may fall back to cloning")
	} else if err := a.inventory.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Snapshot watching unavailable, inventory will rescan on demand")
	}
	pipeline := acquire.NewPipeline(a.cms, "", logger)

	var routerOpts []acquire.RouterOption
	var prodConfig *ssh.Config
	if settings.Production.Configured() {
		prodConfig = productionSSHConfig(settings.Production)
		source, err := acquire.NewSSHProductionSource(prodConfig, settings.Production.RemotePath, settings.CMSBinary, logger)
		if err != nil {
			log.Warn().Err(err).Msg("Production source unavailable, continuing without it")
		} else {
			a.production = source
			routerOpts = append(routerOpts, acquire.WithProductionSource(source))
		}
	}
	a.router = acquire.NewRouter(a.inventory, a.cms, pipeline, logger, routerOpts...)

	a.checkpoints = checkpoint.NewManager(db, a.cms, a.local, settings.CheckpointsDir, logger,
		checkpoint.WithRevisionLookup(a.resolve, a.runner))

	a.registry = remedy.NewRegistry()
	loader := remedy.NewLoader(settings.PatternsFile, a.registry, logger)
	if err := loader.Load(); err != nil {
		a.close()
		return nil, err
	}
	if err := loader.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Pattern watching unavailable, edits need a restart to take effect")
	}
	a.remedy = remedy.NewEngine(a.registry, a.cms, a.local, db, a.runner, a.resolve, logger)

	preflightOpts := []preflight.CheckerOption{
		preflight.WithGitCheck(a.resolve, a.runner),
	}
	if prodConfig != nil {
		preflightOpts = append(preflightOpts, preflight.WithProductionConfig(prodConfig))
	}
	a.preflight = preflight.NewChecker(a.local, a.local, settings.RuntimeBinary, settings.CMSBinary,
		filepath.Dir(store.Path()), a.metrics, logger, preflightOpts...)

	orch, err := orchestrator.New(orchestrator.Config{
		Runtime:       a.local,
		CMS:           a.cms,
		Materialized:  a.local,
		Tracker:       a.tracker,
		Preflight:     a.preflight,
		Router:        a.router,
		Checkpoints:   a.checkpoints,
		Remedy:        a.remedy,
		Runner:        a.runner,
		Resolve:       a.resolve,
		RuntimeBinary: settings.RuntimeBinary,
		Events:        a.events,
		Metrics:       a.metrics,
		Tracer:        a.tracer,
		EventStore:    db,
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.orch = orch

	return a, nil
}

// newRemedyEngine builds a remediation engine for direct operator use, with
// the dry-run switch applied.
func (a *app) newRemedyEngine(dryRun bool) *remedy.Engine {
	return remedy.NewEngine(a.registry, a.cms, a.local, a.db, a.runner, a.resolve, a.logger,
		remedy.WithDryRun(dryRun))
}

// close releases the app's resources. Safe on a partially built app.
func (a *app) close() {
	if a.production != nil {
		if err := a.production.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close production transport")
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn().Err(err).Msg("failed to shut down tracer")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close database")
		}
	}
}

// productionSSHConfig maps the production settings onto the SSH transport
// configuration, keeping transport defaults for unset fields.
func productionSSHConfig(p configstore.ProductionSettings) *ssh.Config {
	cfg := ssh.DefaultConfig(p.Host, p.User)
	if p.Port != 0 {
		cfg.Port = p.Port
	}
	if p.KeyPath != "" {
		cfg.PrivateKeyPath = p.KeyPath
	}
	return cfg
}
