// Package runtime defines the contracts to the site runtime and the CMS
// administrator CLI. Both are external collaborators: Stagehand drives them
// through command execution and interprets only success, failure, and
// captured output.
package runtime

import (
	"context"
	"fmt"
	"regexp"
)

// ValidationError reports an unsafe or malformed identifier or path. It is
// always raised before any side effect and is never retried.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

var siteIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// ValidateSiteID rejects site identifiers that are unsafe to interpolate
// into commands or key paths.
func ValidateSiteID(siteID string) error {
	if !siteIDPattern.MatchString(siteID) {
		return &ValidationError{Field: "site id", Value: siteID}
	}
	return nil
}

// Status is the observed state of a site runtime.
type Status struct {
	// Running reports whether the runtime containers are up.
	Running bool

	// Raw is the runtime's own status output, kept for display.
	Raw string
}

// Runtime controls one site's runtime lifecycle and executes commands
// inside it.
type Runtime interface {
	Start(ctx context.Context, siteID string) error
	Stop(ctx context.Context, siteID string) error
	Restart(ctx context.Context, siteID string) error
	Describe(ctx context.Context, siteID string) (Status, error)

	// Exec runs a command inside the site runtime and returns its stdout
	// and exit code. A non-zero exit code is not an error at this layer.
	Exec(ctx context.Context, siteID string, command ...string) (string, int, error)
}

// CommandRunner executes a local process. It exists so tests can substitute
// a scripted fake for os/exec.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout string, exitCode int, err error)
}

// SitePathResolver maps a site id to its working directory on disk.
type SitePathResolver func(siteID string) (string, error)
