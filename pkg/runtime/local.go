package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args in dir, capturing stdout. A non-zero exit is
// reported through the exit code, not the error.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Keep stderr visible to callers that match on failure text.
			if errText := strings.TrimSpace(stderr.String()); errText != "" {
				if out != "" {
					out += "\n"
				}
				out += errText
			}
			return out, exitErr.ExitCode(), nil
		}
		return "", -1, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return out, 0, nil
}

// Local drives a site runtime through its CLI (for example ddev). Commands
// run in the site's working directory.
type Local struct {
	binary  string
	runner  CommandRunner
	resolve SitePathResolver
	logger  zerolog.Logger
}

// NewLocal creates a runtime adapter for the given binary.
func NewLocal(binary string, runner CommandRunner, resolve SitePathResolver, logger zerolog.Logger) *Local {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Local{
		binary:  binary,
		runner:  runner,
		resolve: resolve,
		logger:  logger.With().Str("component", "runtime").Logger(),
	}
}

// Binary returns the runtime CLI name, used by preflight tool checks.
func (l *Local) Binary() string {
	return l.binary
}

func (l *Local) run(ctx context.Context, siteID string, args ...string) (string, int, error) {
	if err := ValidateSiteID(siteID); err != nil {
		return "", -1, err
	}
	dir, err := l.resolve(siteID)
	if err != nil {
		return "", -1, fmt.Errorf("failed to resolve site path for %s: %w", siteID, err)
	}

	l.logger.Debug().
		Str("site", siteID).
		Strs("args", args).
		Msg("running runtime command")

	return l.runner.Run(ctx, dir, l.binary, args...)
}

func (l *Local) lifecycle(ctx context.Context, siteID, verb string) error {
	out, code, err := l.run(ctx, siteID, verb)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("runtime %s failed for %s (exit %d): %s", verb, siteID, code, firstLine(out))
	}
	return nil
}

// Start brings the site runtime up.
func (l *Local) Start(ctx context.Context, siteID string) error {
	return l.lifecycle(ctx, siteID, "start")
}

// Stop brings the site runtime down.
func (l *Local) Stop(ctx context.Context, siteID string) error {
	return l.lifecycle(ctx, siteID, "stop")
}

// Restart restarts the site runtime.
func (l *Local) Restart(ctx context.Context, siteID string) error {
	return l.lifecycle(ctx, siteID, "restart")
}

// Describe queries the runtime status.
func (l *Local) Describe(ctx context.Context, siteID string) (Status, error) {
	out, code, err := l.run(ctx, siteID, "describe")
	if err != nil {
		return Status{}, err
	}
	if code != 0 {
		return Status{Running: false, Raw: out}, nil
	}
	return Status{
		Running: strings.Contains(strings.ToLower(out), "running") || strings.Contains(strings.ToLower(out), "ok"),
		Raw:     out,
	}, nil
}

// Exec runs a command inside the site runtime.
func (l *Local) Exec(ctx context.Context, siteID string, command ...string) (string, int, error) {
	args := append([]string{"exec"}, command...)
	return l.run(ctx, siteID, args...)
}

// Materialized reports whether the site exists in the environment,
// independent of tracked deployment state. A site whose runtime can be
// described counts as materialized even when stopped.
func (l *Local) Materialized(ctx context.Context, siteID string) (bool, error) {
	_, code, err := l.run(ctx, siteID, "describe")
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return false, err
		}
		// A missing project directory or unconfigured site is an expected
		// pre-creation state, not a failure.
		return false, nil
	}
	return code == 0, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
