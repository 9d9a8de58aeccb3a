// Package orchestrator drives a deployment through the step catalog: the
// preflight gate, checkpointing before destructive steps, per-step execution
// with one remediation retry, and progress tracking for resume.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/acquire"
	"github.com/stagehand/stagehand/pkg/preflight"
	"github.com/stagehand/stagehand/pkg/remedy"
	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/steps"
	"github.com/stagehand/stagehand/pkg/stores"
	"github.com/stagehand/stagehand/pkg/telemetry"
)

// DeployType classifies what kind of deployment is running.
type DeployType string

const (
	// DeployFresh builds a new target project from a source site's data.
	DeployFresh DeployType = "fresh"
	// DeployImport refreshes an existing target in place.
	DeployImport DeployType = "import"
	// DeployPromote moves a site's current state to the next environment.
	DeployPromote DeployType = "promote"
)

// ParseDeployType validates a deploy type name.
func ParseDeployType(name string) (DeployType, error) {
	switch DeployType(name) {
	case DeployFresh, DeployImport, DeployPromote:
		return DeployType(name), nil
	default:
		return "", fmt.Errorf("unknown deploy type %q (want fresh, import, or promote)", name)
	}
}

// Deployment describes one deployment run.
type Deployment struct {
	Type        DeployType
	SiteID      string
	TargetID    string
	Environment steps.Environment
	Intent      acquire.Intent
}

// Preflighter gates a deployment. Satisfied by *preflight.Checker.
type Preflighter interface {
	Run(ctx context.Context, req preflight.Request) (*preflight.Report, error)
}

// Acquirer populates the target dataset. Satisfied by *acquire.Router.
type Acquirer interface {
	Acquire(ctx context.Context, intent acquire.Intent, siteID, targetID string) (*acquire.DatasetHandle, error)
}

// Checkpointer records recovery points. Satisfied by *checkpoint.Manager.
type Checkpointer interface {
	Record(ctx context.Context, siteID, environment string) (*stores.Checkpoint, error)
}

// Remediator matches and corrects step failures. Satisfied by
// *remedy.Engine.
type Remediator interface {
	Analyze(output string) (*remedy.Match, bool)
	Apply(ctx context.Context, match *remedy.Match, siteID string) (*remedy.Outcome, error)
}

// DeployEventStore persists the deployment event log. Satisfied by
// *stores.SQLiteStore.
type DeployEventStore interface {
	InsertDeployEvent(ctx context.Context, event *stores.DeployEvent) error
}

// riskySteps destroy or rewrite target data; a checkpoint is recorded before
// the first of them touches a target that still holds a reachable dataset.
var riskySteps = map[string]bool{
	"acquire_dataset":  true,
	"import_config":    true,
	"apply_migrations": true,
}

// provisioningSteps are already satisfied on a materialized target. An
// import refresh verifies them and re-runs only the ones whose verification
// fails, instead of re-provisioning an existing project.
var provisioningSteps = map[string]bool{
	"init_runtime":         true,
	"install_dependencies": true,
}

// Config wires an Orchestrator.
type Config struct {
	Runtime       runtime.Runtime
	CMS           *runtime.CMS
	Materialized  steps.MaterializedChecker
	Tracker       *steps.Tracker
	Preflight     Preflighter
	Router        Acquirer
	Checkpoints   Checkpointer
	Remedy        Remediator
	Runner        runtime.CommandRunner
	Resolve       runtime.SitePathResolver
	RuntimeBinary string

	Events     *telemetry.EventPublisher
	Metrics    *telemetry.Metrics
	Tracer     *telemetry.Tracer
	EventStore DeployEventStore
	Logger     zerolog.Logger
}

// Orchestrator runs deployments.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
	clock  func() time.Time
}

// New creates an orchestrator. Runtime, CMS, Tracker, Router, and Preflight
// are required; telemetry collaborators are optional.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runtime == nil || cfg.CMS == nil {
		return nil, fmt.Errorf("orchestrator requires a runtime and a CMS administrator")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("orchestrator requires a progress tracker")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("orchestrator requires an acquisition router")
	}
	if cfg.Preflight == nil {
		return nil, fmt.Errorf("orchestrator requires a preflight checker")
	}
	if cfg.RuntimeBinary == "" {
		cfg.RuntimeBinary = "ddev"
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "orchestrator").Logger(),
		clock:  time.Now,
	}, nil
}

// Deploy runs a full deployment from the first step. Steps already done are
// harmless to re-run; every step is idempotent.
func (o *Orchestrator) Deploy(ctx context.Context, d Deployment) error {
	return o.run(ctx, d, 1)
}

// Resume continues a stopped deployment. fromStep 0 resumes from the
// tracked position; a positive fromStep overrides it. Steps below the
// resume point are verified rather than re-run, and re-run only when their
// verification fails.
func (o *Orchestrator) Resume(ctx context.Context, d Deployment, fromStep int) error {
	if fromStep <= 0 {
		if o.cfg.Tracker.IsComplete(d.TargetID, d.Environment) {
			o.logger.Info().Str("target", d.TargetID).Msg("deployment already complete")
			return nil
		}
		progress := o.cfg.Tracker.GetProgress(d.TargetID, d.Environment)
		fromStep = progress.CurrentStep
		if fromStep < 1 {
			fromStep = 1
		}
	}
	if _, err := steps.ByOrdinal(d.Environment, fromStep); err != nil {
		return err
	}
	return o.run(ctx, d, fromStep)
}

func (o *Orchestrator) run(ctx context.Context, d Deployment, startFrom int) (err error) {
	if err := o.validate(d); err != nil {
		return err
	}

	// A promote moves a site forward from its development sibling, so an
	// unspecified intent resolves to a development clone rather than the
	// auto chain that prefers production.
	if d.Type == DeployPromote && d.Intent.Kind == acquire.IntentAuto {
		d.Intent.Kind = acquire.IntentDevelopment
	}

	var endSpan func(error)
	if o.cfg.Tracer != nil {
		var sctx context.Context
		sctx, span := o.cfg.Tracer.StartDeploySpan(ctx, d.TargetID, string(d.Environment), string(d.Type))
		ctx = sctx
		endSpan = func(err error) { telemetry.EndSpan(span, err) }
	} else {
		endSpan = func(error) {}
	}
	defer func() { endSpan(err) }()

	report, err := o.cfg.Preflight.Run(ctx, preflight.Request{SourceID: d.SiteID, TargetID: d.TargetID})
	if err != nil {
		return fmt.Errorf("preflight failed to run: %w", err)
	}
	if !report.Passed() {
		var failures []string
		for _, res := range report.Results {
			if res.Severity == preflight.SeverityFail {
				failures = append(failures, fmt.Sprintf("%s: %s", res.Name, res.Detail))
			}
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(failures, "; "))
	}

	start := o.clock()
	o.publish(ctx, d, "", telemetry.EventTypeDeployStarted, telemetry.EventLevelInfo,
		fmt.Sprintf("%s deployment of %s to %s started", d.Type, d.SiteID, d.Environment))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordDeploymentStarted(string(d.Environment), string(d.Type))
	}

	catalog := steps.CatalogFor(d.Environment)
	checkpointed := false

	for _, step := range catalog {
		if step.Ordinal < startFrom || (d.Type == DeployImport && provisioningSteps[step.Key]) {
			ok, verr := o.verifyStep(ctx, d, step)
			if verr == nil && ok {
				o.publish(ctx, d, step.Key, telemetry.EventTypeStepVerified, telemetry.EventLevelInfo,
					fmt.Sprintf("step %d (%s) verified, skipping", step.Ordinal, step.Key))
				continue
			}
			o.logger.Warn().
				Int("step", step.Ordinal).
				Str("key", step.Key).
				Msg("step verification failed, running it")
		}

		if riskySteps[step.Key] && !checkpointed && o.cfg.Checkpoints != nil {
			if o.cfg.CMS.DBConnected(ctx, d.TargetID) {
				cp, cerr := o.cfg.Checkpoints.Record(ctx, d.TargetID, string(d.Environment))
				if cerr != nil {
					o.stopAt(ctx, d, step, start, cerr)
					return fmt.Errorf("checkpoint before step %d (%s) failed: %w", step.Ordinal, step.Key, cerr)
				}
				checkpointed = true
				o.publish(ctx, d, step.Key, telemetry.EventTypeCheckpointCreated, telemetry.EventLevelInfo,
					fmt.Sprintf("checkpoint %s recorded before %s", cp.ID, step.Key))
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordCheckpoint()
				}
			} else {
				// Nothing reachable to protect yet; skip silently. The flag
				// still flips so later risky steps in this run don't re-probe.
				checkpointed = true
			}
		}

		if terr := o.cfg.Tracker.SetProgress(d.TargetID, d.Environment, step.Ordinal); terr != nil {
			o.logger.Warn().Err(terr).Msg("failed to record progress")
		}

		if serr := o.executeStep(ctx, d, step); serr != nil {
			o.stopAt(ctx, d, step, start, serr)
			return fmt.Errorf("step %d (%s) failed: %w", step.Ordinal, step.Key, serr)
		}
	}

	if err := o.cfg.Tracker.MarkComplete(d.TargetID, d.Environment); err != nil {
		o.logger.Warn().Err(err).Msg("failed to record completion")
	}
	o.publish(ctx, d, "", telemetry.EventTypeDeployCompleted, telemetry.EventLevelInfo,
		fmt.Sprintf("deployment of %s to %s completed", d.TargetID, d.Environment))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordDeploymentCompleted(string(d.Environment), string(d.Type), "success", o.clock().Sub(start).Seconds())
	}
	o.logger.Info().
		Str("target", d.TargetID).
		Str("environment", string(d.Environment)).
		Dur("duration", o.clock().Sub(start)).
		Msg("deployment complete")
	return nil
}

func (o *Orchestrator) validate(d Deployment) error {
	if err := runtime.ValidateSiteID(d.SiteID); err != nil {
		return err
	}
	if err := runtime.ValidateSiteID(d.TargetID); err != nil {
		return err
	}
	if _, err := steps.ParseEnvironment(string(d.Environment)); err != nil {
		return err
	}
	if d.Type == "" {
		return fmt.Errorf("deploy type is required")
	}
	return nil
}

// stopAt records the stopped position and emits the failure telemetry.
func (o *Orchestrator) stopAt(ctx context.Context, d Deployment, step steps.StepDefinition, start time.Time, cause error) {
	if err := o.cfg.Tracker.SetProgress(d.TargetID, d.Environment, step.Ordinal); err != nil {
		o.logger.Warn().Err(err).Msg("failed to record stopped position")
	}
	o.publish(ctx, d, step.Key, telemetry.EventTypeDeployFailed, telemetry.EventLevelError,
		fmt.Sprintf("deployment stopped at step %d (%s): %v", step.Ordinal, step.Key, cause))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordDeploymentCompleted(string(d.Environment), string(d.Type), "failure", o.clock().Sub(start).Seconds())
	}
}

// executeStep runs one step, with a single remediation attempt and retry on
// failure.
func (o *Orchestrator) executeStep(ctx context.Context, d Deployment, step steps.StepDefinition) (err error) {
	impl, err := o.stepImpl(step.Key)
	if err != nil {
		return err
	}

	if o.cfg.Tracer != nil {
		sctx, span := o.cfg.Tracer.StartStepSpan(ctx, step.Key, step.Ordinal)
		ctx = sctx
		defer func() { telemetry.EndSpan(span, err) }()
	}

	o.publish(ctx, d, step.Key, telemetry.EventTypeStepStarted, telemetry.EventLevelInfo,
		fmt.Sprintf("step %d: %s", step.Ordinal, step.Title))
	start := o.clock()

	err = impl.run(ctx, d)
	if err != nil && o.cfg.Remedy != nil {
		if rerr := o.remediate(ctx, d, step, err); rerr == nil {
			err = impl.run(ctx, d)
		}
	}

	outcome := "success"
	level := telemetry.EventLevelInfo
	eventType := telemetry.EventTypeStepCompleted
	message := fmt.Sprintf("step %d (%s) completed", step.Ordinal, step.Key)
	if err != nil {
		outcome = "failure"
		level = telemetry.EventLevelError
		eventType = telemetry.EventTypeStepFailed
		message = fmt.Sprintf("step %d (%s) failed: %v", step.Ordinal, step.Key, err)
	}

	o.publish(ctx, d, step.Key, eventType, level, message)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordStep(step.Key, outcome, o.clock().Sub(start).Seconds())
	}
	return err
}

// remediate tries exactly one pattern-matched correction for a failed step.
// It returns nil when a correction was applied successfully and the step
// deserves a retry.
func (o *Orchestrator) remediate(ctx context.Context, d Deployment, step steps.StepDefinition, cause error) error {
	match, ok := o.cfg.Remedy.Analyze(cause.Error())
	if !ok {
		return fmt.Errorf("no matching remediation pattern")
	}

	outcome, err := o.cfg.Remedy.Apply(ctx, match, d.TargetID)
	if err != nil {
		return err
	}

	result := string(outcome.Result)
	if outcome.DryRun {
		result = "dry-run"
	}
	o.publish(ctx, d, step.Key, telemetry.EventTypeRemediation, telemetry.EventLevelWarning,
		fmt.Sprintf("remediation %s applied for step %s: %s", outcome.PatternID, step.Key, result))
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordRemediation(outcome.PatternID, result)
	}

	if outcome.Result != stores.RemediationResultSuccess {
		return fmt.Errorf("remediation %s did not verify", outcome.PatternID)
	}
	return nil
}

// verifyStep runs a step's cheap verification.
func (o *Orchestrator) verifyStep(ctx context.Context, d Deployment, step steps.StepDefinition) (bool, error) {
	impl, err := o.stepImpl(step.Key)
	if err != nil {
		return false, err
	}
	return impl.verify(ctx, d)
}

// publish emits an event to the publisher and the persistent event log.
// Both are best effort.
func (o *Orchestrator) publish(ctx context.Context, d Deployment, stepKey, eventType, level, message string) {
	if o.cfg.Events != nil {
		o.cfg.Events.Publish(telemetry.Event{
			Type:        eventType,
			Site:        d.TargetID,
			Environment: string(d.Environment),
			Step:        stepKey,
			Message:     message,
			Level:       level,
		})
	}
	if o.cfg.EventStore != nil {
		event := &stores.DeployEvent{
			SiteID:      d.TargetID,
			Environment: string(d.Environment),
			StepKey:     stepKey,
			Type:        eventType,
			Level:       level,
			Message:     message,
			CreatedAt:   o.clock().UTC(),
		}
		if err := o.cfg.EventStore.InsertDeployEvent(ctx, event); err != nil {
			o.logger.Warn().Err(err).Msg("failed to persist deploy event")
		}
	}
}
