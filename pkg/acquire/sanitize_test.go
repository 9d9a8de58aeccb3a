package acquire

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
)

// recordingRuntime records every Exec invocation and answers success.
type recordingRuntime struct {
	commands []string
	failOn   string
}

func (r *recordingRuntime) Start(ctx context.Context, siteID string) error   { return nil }
func (r *recordingRuntime) Stop(ctx context.Context, siteID string) error    { return nil }
func (r *recordingRuntime) Restart(ctx context.Context, siteID string) error { return nil }

func (r *recordingRuntime) Describe(ctx context.Context, siteID string) (runtime.Status, error) {
	return runtime.Status{Running: true}, nil
}

func (r *recordingRuntime) Exec(ctx context.Context, siteID string, command ...string) (string, int, error) {
	joined := strings.Join(command, " ")
	r.commands = append(r.commands, joined)
	if r.failOn != "" && strings.Contains(joined, r.failOn) {
		return "", 0, fmt.Errorf("scripted failure for %q", r.failOn)
	}
	return "", 0, nil
}

func setupPipeline(t *testing.T) (*Pipeline, *recordingRuntime) {
	t.Helper()
	rt := &recordingRuntime{}
	cms := runtime.NewCMS(rt, "drush")
	return NewPipeline(cms, "test-password", zerolog.Nop()), rt
}

func TestPipelineOpOrder(t *testing.T) {
	p, _ := setupPipeline(t)
	ops := p.Ops()

	if len(ops) == 0 {
		t.Fatal("pipeline has no ops")
	}
	if got := ops[len(ops)-1].Name; got != "rebuild_derived_caches" {
		t.Fatalf("last op = %s, cache rebuild must run last", got)
	}

	position := make(map[string]int, len(ops))
	for i, op := range ops {
		position[op.Name] = i
	}
	for _, name := range []string{"anonymize_user_contacts", "reset_admin_credential", "strip_sensitive_config"} {
		idx, ok := position[name]
		if !ok {
			t.Fatalf("pipeline is missing op %s", name)
		}
		if idx >= position["rebuild_derived_caches"] {
			t.Errorf("%s must run before the cache rebuild", name)
		}
	}
}

func TestPipelineRunOrdering(t *testing.T) {
	p, rt := setupPipeline(t)

	if err := p.Run(context.Background(), "demo"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	rebuildAt, passwordAt, anonymizeAt := -1, -1, -1
	for i, cmd := range rt.commands {
		switch {
		case strings.Contains(cmd, "cache:rebuild"):
			rebuildAt = i
		case strings.Contains(cmd, "user:password admin test-password"):
			passwordAt = i
		case strings.Contains(cmd, "example.invalid"):
			anonymizeAt = i
		}
	}

	if rebuildAt == -1 || passwordAt == -1 || anonymizeAt == -1 {
		t.Fatalf("missing expected commands in %v", rt.commands)
	}
	if rebuildAt != len(rt.commands)-1 {
		t.Errorf("cache rebuild must be the final command, was index %d of %d", rebuildAt, len(rt.commands))
	}
	if passwordAt > rebuildAt || anonymizeAt > rebuildAt {
		t.Error("credential and PII operations must precede the cache rebuild")
	}
}

func TestPipelineFailsFast(t *testing.T) {
	p, rt := setupPipeline(t)
	rt.failOn = "user:password"

	err := p.Run(context.Background(), "demo")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "reset_admin_credential") {
		t.Errorf("error should name the failed step, got %v", err)
	}

	for _, cmd := range rt.commands {
		if strings.Contains(cmd, "cache:rebuild") {
			t.Error("cache rebuild must not run after an earlier step failed")
		}
	}
}

func TestPipelineMissingCacheTableTolerated(t *testing.T) {
	p, rt := setupPipeline(t)
	rt.failOn = "TRUNCATE TABLE cache_render"

	if err := p.Run(context.Background(), "demo"); err != nil {
		t.Fatalf("missing cache table should not fail the pipeline: %v", err)
	}
}
