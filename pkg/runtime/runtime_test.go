package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// scriptedRunner returns canned results keyed by the joined command line.
type scriptedRunner struct {
	results map[string]scriptedResult
	calls   []string
}

type scriptedResult struct {
	stdout string
	code   int
	err    error
}

func (s *scriptedRunner) Run(ctx context.Context, dir, name string, args ...string) (string, int, error) {
	key := name + " " + strings.Join(args, " ")
	s.calls = append(s.calls, key)
	if res, ok := s.results[key]; ok {
		return res.stdout, res.code, res.err
	}
	return "", 0, nil
}

func newLocal(runner *scriptedRunner) *Local {
	return NewLocal("ddev", runner, func(siteID string) (string, error) {
		return "/tmp/" + siteID, nil
	}, zerolog.Nop())
}

func TestValidateSiteID(t *testing.T) {
	valid := []string{"demo", "my-site", "a1", "site-42"}
	for _, id := range valid {
		if err := ValidateSiteID(id); err != nil {
			t.Errorf("%q should be valid: %v", id, err)
		}
	}

	invalid := []string{"", "UPPER", "site;rm -rf", "../etc", "-leading", "has space"}
	for _, id := range invalid {
		if err := ValidateSiteID(id); err == nil {
			t.Errorf("%q should be rejected", id)
		}
	}
}

func TestLocalRejectsBadSiteBeforeRunning(t *testing.T) {
	runner := &scriptedRunner{}
	local := newLocal(runner)

	if err := local.Start(context.Background(), "bad;site"); err == nil {
		t.Fatal("expected validation error")
	}
	if len(runner.calls) != 0 {
		t.Errorf("no command should run for an invalid site id, got %v", runner.calls)
	}
}

func TestLocalStartFailure(t *testing.T) {
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"ddev start": {stdout: "could not start: port in use", code: 1},
	}}
	local := newLocal(runner)

	err := local.Start(context.Background(), "demo")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "port in use") {
		t.Errorf("error should carry runtime output, got %v", err)
	}
}

func TestLocalDescribe(t *testing.T) {
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"ddev describe": {stdout: "demo: running at https://demo.ddev.site", code: 0},
	}}
	local := newLocal(runner)

	status, err := local.Describe(context.Background(), "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Running {
		t.Error("expected running status")
	}
}

func TestLocalMaterialized(t *testing.T) {
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"ddev describe": {stdout: "no project found", code: 1},
	}}
	local := newLocal(runner)

	materialized, err := local.Materialized(context.Background(), "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if materialized {
		t.Error("site with failing describe should not count as materialized")
	}
}

func TestCMSVerifyExitCodeDecides(t *testing.T) {
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"ddev exec drush cache:rebuild": {stdout: "rebuilt", code: 0},
		"ddev exec drush updatedb -y":   {stdout: "failed: table locked", code: 1},
	}}
	cms := NewCMS(newLocal(runner), "drush")

	if err := cms.CacheRebuild(context.Background(), "demo"); err != nil {
		t.Errorf("cache rebuild should succeed: %v", err)
	}
	if err := cms.ApplyMigrations(context.Background(), "demo"); err == nil {
		t.Error("migrations with non-zero exit should fail")
	}
}

func TestCMSPendingMigrations(t *testing.T) {
	cases := []struct {
		out  string
		want bool
	}{
		{"", false},
		{"No database updates required", false},
		{"system 9301 Update entity schema", true},
	}

	for _, tc := range cases {
		runner := &scriptedRunner{results: map[string]scriptedResult{
			"ddev exec drush updatedb:status": {stdout: tc.out, code: 0},
		}}
		cms := NewCMS(newLocal(runner), "drush")

		pending, err := cms.PendingMigrations(context.Background(), "demo")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pending != tc.want {
			t.Errorf("output %q: pending = %v, want %v", tc.out, pending, tc.want)
		}
	}
}

func TestCMSUserCount(t *testing.T) {
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"ddev exec drush sql:query SELECT COUNT(*) FROM users": {stdout: "COUNT(*)\n42", code: 0},
	}}
	cms := NewCMS(newLocal(runner), "drush")

	count, err := cms.UserCount(context.Background(), "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Errorf("count = %d, want 42", count)
	}
}
