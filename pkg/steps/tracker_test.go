package steps

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stagehand/stagehand/pkg/configstore"
)

func setupTracker(t *testing.T) *Tracker {
	t.Helper()

	store, err := configstore.New(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return NewTracker(store)
}

type fakeChecker struct {
	materialized bool
	err          error
}

func (f *fakeChecker) Materialized(ctx context.Context, siteID string) (bool, error) {
	return f.materialized, f.err
}

func TestGetProgressMissingRecord(t *testing.T) {
	tracker := setupTracker(t)

	progress := tracker.GetProgress("demo", EnvDevelopment)
	if progress.CurrentStep != StepNotStarted {
		t.Errorf("missing record should read as %d, got %d", StepNotStarted, progress.CurrentStep)
	}
}

func TestSetProgressRoundTrip(t *testing.T) {
	tracker := setupTracker(t)

	for _, step := range []int{1, 5, TotalSteps(EnvDevelopment), StepComplete} {
		if err := tracker.SetProgress("demo", EnvDevelopment, step); err != nil {
			t.Fatalf("set %d failed: %v", step, err)
		}
		if got := tracker.GetProgress("demo", EnvDevelopment).CurrentStep; got != step {
			t.Errorf("round-trip of %d gave %d", step, got)
		}
	}
}

func TestSetProgressRejectsInvalid(t *testing.T) {
	tracker := setupTracker(t)

	if err := tracker.SetProgress("demo", EnvDevelopment, -2); err == nil {
		t.Error("expected error for step below sentinel")
	}
}

func TestProgressIsolatedPerEnvironment(t *testing.T) {
	tracker := setupTracker(t)

	if err := tracker.SetProgress("demo", EnvDevelopment, 4); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got := tracker.GetProgress("demo", EnvStaging).CurrentStep; got != StepNotStarted {
		t.Errorf("staging progress should be independent, got %d", got)
	}
}

func TestIsComplete(t *testing.T) {
	tracker := setupTracker(t)
	total := TotalSteps(EnvDevelopment)

	cases := []struct {
		step int
		want bool
	}{
		{StepNotStarted, false},
		{1, false},
		{total - 1, false},
		{total, true},
		{total + 3, true},
		{StepComplete, true},
	}

	for _, tc := range cases {
		if tc.step != StepNotStarted {
			if err := tracker.SetProgress("demo", EnvDevelopment, tc.step); err != nil {
				t.Fatalf("set %d failed: %v", tc.step, err)
			}
		}
		if got := tracker.IsComplete("demo", EnvDevelopment); got != tc.want {
			t.Errorf("IsComplete with step %d = %v, want %v", tc.step, got, tc.want)
		}
	}
}

func TestMarkComplete(t *testing.T) {
	tracker := setupTracker(t)

	if err := tracker.MarkComplete("demo", EnvDevelopment); err != nil {
		t.Fatalf("mark complete failed: %v", err)
	}
	if got := tracker.GetProgress("demo", EnvDevelopment).CurrentStep; got != StepComplete {
		t.Errorf("expected sentinel %d, got %d", StepComplete, got)
	}
}

func TestStatusDisplay(t *testing.T) {
	ctx := context.Background()

	t.Run("not started", func(t *testing.T) {
		tracker := setupTracker(t)
		status, err := tracker.StatusDisplay(ctx, "demo", EnvDevelopment, &fakeChecker{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Kind != StatusNotStarted {
			t.Errorf("kind = %v, want StatusNotStarted", status.Kind)
		}
	})

	t.Run("untracked but materialized", func(t *testing.T) {
		tracker := setupTracker(t)
		status, err := tracker.StatusDisplay(ctx, "demo", EnvDevelopment, &fakeChecker{materialized: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Kind != StatusCompleteUntracked {
			t.Errorf("kind = %v, want StatusCompleteUntracked", status.Kind)
		}
		if status.String() != "Complete (untracked)" {
			t.Errorf("display = %q", status.String())
		}
	})

	t.Run("stopped at step", func(t *testing.T) {
		tracker := setupTracker(t)
		if err := tracker.SetProgress("demo", EnvDevelopment, 5); err != nil {
			t.Fatalf("set failed: %v", err)
		}
		status, err := tracker.StatusDisplay(ctx, "demo", EnvDevelopment, &fakeChecker{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Kind != StatusStoppedAt || status.Step != 5 {
			t.Errorf("status = %+v, want stopped at 5", status)
		}
		def, _ := ByOrdinal(EnvDevelopment, 5)
		if status.Title != def.Title {
			t.Errorf("title = %q, want %q", status.Title, def.Title)
		}
	})

	t.Run("complete", func(t *testing.T) {
		tracker := setupTracker(t)
		if err := tracker.MarkComplete("demo", EnvDevelopment); err != nil {
			t.Fatalf("mark complete failed: %v", err)
		}
		status, err := tracker.StatusDisplay(ctx, "demo", EnvDevelopment, &fakeChecker{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Kind != StatusComplete {
			t.Errorf("kind = %v, want StatusComplete", status.Kind)
		}
	})

	t.Run("checker failure surfaces", func(t *testing.T) {
		tracker := setupTracker(t)
		_, err := tracker.StatusDisplay(ctx, "demo", EnvDevelopment, &fakeChecker{err: errors.New("runtime down")})
		if err == nil {
			t.Error("expected error from checker to propagate")
		}
	})
}
