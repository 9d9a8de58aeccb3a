// Package preflight validates the environment before a deployment starts.
// Checks are fast and side-effect free; the battery runs every check it can
// so the operator sees the whole picture in one pass, not one failure at a
// time.
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/telemetry"
	"github.com/stagehand/stagehand/pkg/transports/ssh"
)

// Severity grades a check result.
type Severity string

const (
	SeverityPass Severity = "pass"
	SeverityWarn Severity = "warn"
	SeverityFail Severity = "fail"
	SeverityInfo Severity = "info"
)

// Result is one check's outcome.
type Result struct {
	Name     string
	Severity Severity
	Detail   string
}

// Report aggregates a preflight run. The run passes when no check failed;
// warnings and informational results never block a deployment.
type Report struct {
	Results []Result
}

// Add appends a result.
func (r *Report) Add(name string, severity Severity, detail string) {
	r.Results = append(r.Results, Result{Name: name, Severity: severity, Detail: detail})
}

// ErrorCount returns the number of failed checks.
func (r *Report) ErrorCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Severity == SeverityFail {
			n++
		}
	}
	return n
}

// WarnCount returns the number of warnings.
func (r *Report) WarnCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Severity == SeverityWarn {
			n++
		}
	}
	return n
}

// Passed reports whether the deployment may proceed.
func (r *Report) Passed() bool {
	return r.ErrorCount() == 0
}

// Disk thresholds for the workspace filesystem.
const (
	diskPassBytes = 10 << 30
	diskWarnBytes = 5 << 30
)

// MaterializedChecker reports whether a site project exists on this host.
// Satisfied by *runtime.Local.
type MaterializedChecker interface {
	Materialized(ctx context.Context, siteID string) (bool, error)
}

// Request names what a preflight run validates: the source site the data
// comes from and the target site being deployed. TargetID may equal
// SourceID for an in-place refresh.
type Request struct {
	SourceID string
	TargetID string
}

// Checker runs the preflight battery.
type Checker struct {
	rt            runtime.Runtime
	materialized  MaterializedChecker
	runtimeBinary string
	cmsBinary     string
	workspaceDir  string
	prodConfig    *ssh.Config
	resolve       runtime.SitePathResolver
	runner        runtime.CommandRunner
	metrics       *telemetry.Metrics
	logger        zerolog.Logger

	// Injection points for tests.
	lookPath  func(file string) (string, error)
	freeBytes func(path string) (uint64, error)
	reachable func(host string, port int, timeout time.Duration) bool
}

// CheckerOption customizes a Checker.
type CheckerOption func(*Checker)

// WithProductionConfig enables the production reachability probe.
func WithProductionConfig(cfg *ssh.Config) CheckerOption {
	return func(c *Checker) { c.prodConfig = cfg }
}

// WithGitCheck enables the working-tree cleanliness check.
func WithGitCheck(resolve runtime.SitePathResolver, runner runtime.CommandRunner) CheckerOption {
	return func(c *Checker) {
		c.resolve = resolve
		c.runner = runner
	}
}

// NewChecker creates a preflight checker. workspaceDir is the filesystem
// whose free space is measured.
func NewChecker(rt runtime.Runtime, materialized MaterializedChecker, runtimeBinary, cmsBinary, workspaceDir string, metrics *telemetry.Metrics, logger zerolog.Logger, opts ...CheckerOption) *Checker {
	c := &Checker{
		rt:            rt,
		materialized:  materialized,
		runtimeBinary: runtimeBinary,
		cmsBinary:     cmsBinary,
		workspaceDir:  workspaceDir,
		metrics:       metrics,
		logger:        logger.With().Str("component", "preflight").Logger(),
		lookPath:      exec.LookPath,
		freeBytes:     freeBytes,
		reachable:     ssh.Reachable,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the battery and returns the aggregated report.
func (c *Checker) Run(ctx context.Context, req Request) (*Report, error) {
	if err := runtime.ValidateSiteID(req.SourceID); err != nil {
		return nil, err
	}
	if err := runtime.ValidateSiteID(req.TargetID); err != nil {
		return nil, err
	}

	report := &Report{}

	runtimeAvailable := c.checkRuntimeBinary(report)
	c.checkCMSBinary(report)
	c.checkDiskSpace(report)
	c.checkProductionReachability(ctx, report)

	// Source and target checks need a working runtime to observe anything.
	if runtimeAvailable {
		c.checkSourceReadiness(ctx, report, req.SourceID)
		if req.TargetID != req.SourceID {
			c.checkTargetReadiness(ctx, report, req.TargetID)
		}
	} else {
		report.Add("source_readiness", SeverityFail, "skipped: runtime binary unavailable")
	}

	c.checkWorkingTree(ctx, report, req.SourceID)

	c.logger.Info().
		Str("source", req.SourceID).
		Str("target", req.TargetID).
		Int("failures", report.ErrorCount()).
		Int("warnings", report.WarnCount()).
		Msg("preflight finished")
	return report, nil
}

func (c *Checker) checkRuntimeBinary(report *Report) bool {
	path, err := c.lookPath(c.runtimeBinary)
	if err != nil {
		report.Add("runtime_binary", SeverityFail, fmt.Sprintf("%s not found on PATH", c.runtimeBinary))
		return false
	}
	report.Add("runtime_binary", SeverityPass, path)
	return true
}

func (c *Checker) checkCMSBinary(report *Report) {
	// The CMS CLI usually runs inside the runtime; a host copy is only
	// needed for host-side maintenance commands.
	path, err := c.lookPath(c.cmsBinary)
	if err != nil {
		report.Add("cms_binary", SeverityWarn, fmt.Sprintf("%s not found on host PATH", c.cmsBinary))
		return
	}
	report.Add("cms_binary", SeverityPass, path)
}

func (c *Checker) checkDiskSpace(report *Report) {
	free, err := c.freeBytes(c.workspaceDir)
	if err != nil {
		report.Add("disk_space", SeverityWarn, fmt.Sprintf("could not measure free space: %v", err))
		return
	}

	detail := fmt.Sprintf("%.1f GB free", float64(free)/float64(1<<30))
	switch {
	case free >= diskPassBytes:
		report.Add("disk_space", SeverityPass, detail)
	case free >= diskWarnBytes:
		report.Add("disk_space", SeverityWarn, detail)
	default:
		// Low disk warns rather than fails: a small site deploys fine in
		// under 5GB. The counter tracks how often operators run this close
		// to the edge.
		report.Add("disk_space", SeverityWarn, detail+" (critically low)")
		if c.metrics != nil {
			c.metrics.RecordLowDisk()
		}
	}
}

func (c *Checker) checkProductionReachability(ctx context.Context, report *Report) {
	if c.prodConfig == nil {
		report.Add("production_reachability", SeverityInfo, "no production host configured")
		return
	}
	if c.reachable(c.prodConfig.Host, c.prodConfig.Port, 5*time.Second) {
		report.Add("production_reachability", SeverityInfo, fmt.Sprintf("%s answers", c.prodConfig.Address()))
	} else {
		// Informational only: acquisition has offline fallbacks.
		report.Add("production_reachability", SeverityInfo, fmt.Sprintf("%s unreachable; production acquisition will be skipped", c.prodConfig.Address()))
	}
}

func (c *Checker) checkSourceReadiness(ctx context.Context, report *Report, siteID string) {
	exists, err := c.materialized.Materialized(ctx, siteID)
	if err != nil {
		report.Add("source_readiness", SeverityFail, fmt.Sprintf("could not inspect source %s: %v", siteID, err))
		return
	}
	if !exists {
		report.Add("source_readiness", SeverityFail, fmt.Sprintf("source site %s is not materialized", siteID))
		return
	}

	status, err := c.rt.Describe(ctx, siteID)
	if err != nil {
		report.Add("source_readiness", SeverityFail, fmt.Sprintf("source site %s: %v", siteID, err))
		return
	}
	if !status.Running {
		report.Add("source_readiness", SeverityFail, fmt.Sprintf("source site %s is not running", siteID))
		return
	}
	report.Add("source_readiness", SeverityPass, fmt.Sprintf("source site %s is running", siteID))
}

func (c *Checker) checkTargetReadiness(ctx context.Context, report *Report, siteID string) {
	exists, err := c.materialized.Materialized(ctx, siteID)
	if err != nil {
		report.Add("target_readiness", SeverityWarn, fmt.Sprintf("could not inspect target %s: %v", siteID, err))
		return
	}
	if exists {
		// The deployment will reuse and overwrite the existing project.
		report.Add("target_readiness", SeverityWarn, fmt.Sprintf("target site %s already exists", siteID))
		return
	}
	report.Add("target_readiness", SeverityPass, fmt.Sprintf("target site %s is free", siteID))
}

func (c *Checker) checkWorkingTree(ctx context.Context, report *Report, siteID string) {
	if c.resolve == nil || c.runner == nil {
		return
	}
	dir, err := c.resolve(siteID)
	if err != nil {
		report.Add("working_tree", SeverityWarn, fmt.Sprintf("could not resolve site path: %v", err))
		return
	}
	out, code, err := c.runner.Run(ctx, dir, "git", "status", "--porcelain")
	if err != nil || code != 0 {
		report.Add("working_tree", SeverityInfo, "not a git working tree")
		return
	}
	if strings.TrimSpace(out) != "" {
		report.Add("working_tree", SeverityWarn, "uncommitted changes in the source working tree")
		return
	}
	report.Add("working_tree", SeverityPass, "working tree clean")
}

// freeBytes returns the free space available to unprivileged users on the
// filesystem holding path.
func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
