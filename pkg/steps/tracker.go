package steps

import (
	"context"
	"fmt"

	"github.com/stagehand/stagehand/pkg/configstore"
)

// Progress sentinels.
const (
	// StepNotStarted means no deployment has been recorded for the site.
	StepNotStarted = 0

	// StepComplete is the sentinel for a finished deployment.
	StepComplete = -1
)

// Progress is the persisted deployment position for one (site, environment).
type Progress struct {
	SiteID      string
	Environment Environment
	CurrentStep int
}

// MaterializedChecker reports whether a site is already materialized in an
// environment, independent of tracked state. Tracked and observed state can
// diverge; the display layer reconciles them.
type MaterializedChecker interface {
	Materialized(ctx context.Context, siteID string) (bool, error)
}

// Tracker persists and reads deployment progress through the config store.
type Tracker struct {
	store *configstore.Store
}

// NewTracker creates a tracker over the given store.
func NewTracker(store *configstore.Store) *Tracker {
	return &Tracker{store: store}
}

func progressKey(siteID string, environment Environment) string {
	return fmt.Sprintf("sites.%s.environments.%s.deploy_step", siteID, environment)
}

// GetProgress returns the recorded progress. A missing record reads as
// StepNotStarted.
func (t *Tracker) GetProgress(siteID string, environment Environment) Progress {
	return Progress{
		SiteID:      siteID,
		Environment: environment,
		CurrentStep: t.store.GetInt(progressKey(siteID, environment), StepNotStarted),
	}
}

// SetProgress records the current step. The write is a read-modify-write of
// the whole settings document; other fields are untouched.
func (t *Tracker) SetProgress(siteID string, environment Environment, step int) error {
	if step < StepComplete {
		return fmt.Errorf("invalid step value %d", step)
	}
	return t.store.SetInt(progressKey(siteID, environment), step)
}

// MarkComplete records the completion sentinel.
func (t *Tracker) MarkComplete(siteID string, environment Environment) error {
	return t.store.SetInt(progressKey(siteID, environment), StepComplete)
}

// IsComplete reports whether the deployment is finished: either the sentinel
// is recorded or the current step has passed the end of the catalog.
func (t *Tracker) IsComplete(siteID string, environment Environment) bool {
	current := t.GetProgress(siteID, environment).CurrentStep
	if current == StepComplete {
		return true
	}
	return current >= TotalSteps(environment)
}

// StatusKind classifies a site's deployment status for display.
type StatusKind int

const (
	StatusNotStarted StatusKind = iota
	StatusStoppedAt
	StatusComplete
	StatusCompleteUntracked
)

// Status is the reconciled deployment status for display.
type Status struct {
	Kind StatusKind

	// Step and Title are set when Kind is StatusStoppedAt.
	Step  int
	Title string
}

// String renders the status for human output.
func (s Status) String() string {
	switch s.Kind {
	case StatusComplete:
		return "Complete"
	case StatusCompleteUntracked:
		return "Complete (untracked)"
	case StatusStoppedAt:
		return fmt.Sprintf("Stopped at step %d (%s)", s.Step, s.Title)
	default:
		return "Not started"
	}
}

// StatusDisplay reconciles tracked progress with observed environment state.
// A site that tracks as not-started but is observed materialized reports
// Complete (untracked) rather than Not started: tracked state is never
// trusted blindly.
func (t *Tracker) StatusDisplay(ctx context.Context, siteID string, environment Environment, checker MaterializedChecker) (Status, error) {
	current := t.GetProgress(siteID, environment).CurrentStep

	if t.IsComplete(siteID, environment) {
		return Status{Kind: StatusComplete}, nil
	}

	if current == StepNotStarted {
		if checker != nil {
			materialized, err := checker.Materialized(ctx, siteID)
			if err != nil {
				return Status{}, fmt.Errorf("failed to inspect environment for %s: %w", siteID, err)
			}
			if materialized {
				return Status{Kind: StatusCompleteUntracked}, nil
			}
		}
		return Status{Kind: StatusNotStarted}, nil
	}

	def, err := ByOrdinal(environment, current)
	if err != nil {
		return Status{}, err
	}
	return Status{Kind: StatusStoppedAt, Step: current, Title: def.Title}, nil
}
