// Package checkpoint captures restorable dataset checkpoints before risky
// deployment steps and drives rollback to the most recent one. Checkpoint
// records live in the local store; the dump artifacts live on disk next to
// the snapshots.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/stores"
)

// ErrNoCheckpoint is returned when a rollback is requested but no active
// checkpoint exists. Rollback fails closed: it never improvises a recovery
// point.
var ErrNoCheckpoint = errors.New("no active checkpoint to roll back to")

// Store is the checkpoint persistence surface. Satisfied by
// *stores.SQLiteStore.
type Store interface {
	InsertCheckpoint(ctx context.Context, cp *stores.Checkpoint) error
	LatestCheckpoint(ctx context.Context, siteID, environment string) (*stores.Checkpoint, error)
	MarkCheckpointRolledBack(ctx context.Context, id string) error
	TrimCheckpoints(ctx context.Context, siteID, environment string, keep int) ([]string, error)
	ListCheckpoints(ctx context.Context, siteID string) ([]*stores.Checkpoint, error)
}

// DataMover dumps and restores site datasets. Satisfied by runtime.CMS.
type DataMover interface {
	DumpDatabase(ctx context.Context, siteID, path string) error
	RestoreDatabase(ctx context.Context, siteID, path string) error
	DBConnected(ctx context.Context, siteID string) bool
}

// HealthReport is the post-rollback health observation. It is reported to
// the operator, never acted on: a rollback that restored its data counts as
// executed even when the site is still unhealthy afterwards.
type HealthReport struct {
	RuntimeRunning    bool
	DatabaseConnected bool
	Notes             []string
}

// Healthy reports whether every probe passed.
func (r HealthReport) Healthy() bool {
	return r.RuntimeRunning && r.DatabaseConnected
}

func (r HealthReport) String() string {
	if r.Healthy() {
		return "healthy"
	}
	var problems []string
	if !r.RuntimeRunning {
		problems = append(problems, "runtime not running")
	}
	if !r.DatabaseConnected {
		problems = append(problems, "database not answering")
	}
	problems = append(problems, r.Notes...)
	return "unhealthy: " + strings.Join(problems, "; ")
}

// Manager records and rolls back checkpoints.
type Manager struct {
	store   Store
	data    DataMover
	rt      runtime.Runtime
	dir     string
	retain  int
	resolve runtime.SitePathResolver
	runner  runtime.CommandRunner
	clock   func() time.Time
	logger  zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRetention sets how many checkpoints survive per (site, environment)
// key. The default of 1 keeps only the most recent.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.retain = n
		}
	}
}

// WithRevisionLookup enables best-effort source revision capture via git in
// the site's working directory.
func WithRevisionLookup(resolve runtime.SitePathResolver, runner runtime.CommandRunner) Option {
	return func(m *Manager) {
		m.resolve = resolve
		m.runner = runner
	}
}

// NewManager creates a checkpoint manager writing artifacts under dir.
func NewManager(store Store, data DataMover, rt runtime.Runtime, dir string, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		data:   data,
		rt:     rt,
		dir:    dir,
		retain: 1,
		clock:  time.Now,
		logger: logger.With().Str("component", "checkpoint").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record captures a checkpoint of the site's current dataset. Older
// checkpoints beyond the retention count are removed, records and artifacts
// both.
func (m *Manager) Record(ctx context.Context, siteID, environment string) (*stores.Checkpoint, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	id := uuid.NewString()
	artifact := filepath.Join(m.dir, fmt.Sprintf("%s-%s-%s.sql.gz", siteID, environment, id[:8]))

	if err := m.data.DumpDatabase(ctx, siteID, artifact); err != nil {
		return nil, fmt.Errorf("checkpoint dump failed: %w", err)
	}
	if _, err := os.Stat(artifact); err != nil {
		return nil, fmt.Errorf("checkpoint artifact missing after dump: %w", err)
	}

	cp := &stores.Checkpoint{
		ID:             id,
		SiteID:         siteID,
		Environment:    environment,
		CreatedAt:      m.clock().UTC(),
		DataPath:       artifact,
		SourceRevision: m.sourceRevision(ctx, siteID),
		Status:         stores.CheckpointStatusActive,
	}
	if err := m.store.InsertCheckpoint(ctx, cp); err != nil {
		_ = os.Remove(artifact)
		return nil, err
	}

	removed, err := m.store.TrimCheckpoints(ctx, siteID, environment, m.retain)
	if err != nil {
		m.logger.Warn().Err(err).Msg("checkpoint trim failed")
	}
	for _, path := range removed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn().Str("artifact", path).Err(err).Msg("failed to remove trimmed artifact")
		}
	}

	m.logger.Info().
		Str("site", siteID).
		Str("environment", environment).
		Str("checkpoint", id).
		Str("revision", cp.SourceRevision).
		Msg("checkpoint recorded")
	return cp, nil
}

// sourceRevision captures the current git revision of the site's working
// directory. Failure means an empty revision, never a failed checkpoint.
func (m *Manager) sourceRevision(ctx context.Context, siteID string) string {
	if m.resolve == nil || m.runner == nil {
		return ""
	}
	dir, err := m.resolve(siteID)
	if err != nil {
		return ""
	}
	out, code, err := m.runner.Run(ctx, dir, "git", "rev-parse", "--short", "HEAD")
	if err != nil || code != 0 {
		return ""
	}
	return strings.TrimSpace(out)
}

// GetLast returns the most recent checkpoint for a (site, environment) key,
// or ErrNoCheckpoint.
func (m *Manager) GetLast(ctx context.Context, siteID, environment string) (*stores.Checkpoint, error) {
	cp, err := m.store.LatestCheckpoint(ctx, siteID, environment)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrNoCheckpoint
	}
	return cp, err
}

// ExecuteRollback restores the most recent active checkpoint and returns it
// together with the post-rollback health report. With no active checkpoint
// or a missing artifact it fails before touching the site.
func (m *Manager) ExecuteRollback(ctx context.Context, siteID, environment string) (*stores.Checkpoint, HealthReport, error) {
	cp, err := m.GetLast(ctx, siteID, environment)
	if err != nil {
		return nil, HealthReport{}, err
	}
	if cp.Status != stores.CheckpointStatusActive {
		return nil, HealthReport{}, fmt.Errorf("%w: latest checkpoint %s was already rolled back", ErrNoCheckpoint, cp.ID)
	}
	if _, err := os.Stat(cp.DataPath); err != nil {
		return nil, HealthReport{}, fmt.Errorf("checkpoint artifact %s unusable: %w", cp.DataPath, err)
	}

	if err := m.data.RestoreDatabase(ctx, siteID, cp.DataPath); err != nil {
		return nil, HealthReport{}, fmt.Errorf("rollback restore failed: %w", err)
	}

	// The data is back; the checkpoint is consumed even if bookkeeping or
	// the health probe complains below.
	if err := m.store.MarkCheckpointRolledBack(ctx, cp.ID); err != nil {
		m.logger.Warn().Str("checkpoint", cp.ID).Err(err).Msg("failed to mark checkpoint rolled back")
	} else {
		cp.Status = stores.CheckpointStatusRolledBack
	}

	health := m.VerifyHealth(ctx, siteID)
	m.logger.Info().
		Str("site", siteID).
		Str("environment", environment).
		Str("checkpoint", cp.ID).
		Str("health", health.String()).
		Msg("rollback executed")
	return cp, health, nil
}

// VerifyHealth probes the site after a rollback.
func (m *Manager) VerifyHealth(ctx context.Context, siteID string) HealthReport {
	report := HealthReport{}

	status, err := m.rt.Describe(ctx, siteID)
	if err != nil {
		report.Notes = append(report.Notes, fmt.Sprintf("runtime status unavailable: %v", err))
	} else {
		report.RuntimeRunning = status.Running
	}

	report.DatabaseConnected = m.data.DBConnected(ctx, siteID)
	return report
}

// List enumerates checkpoints, newest first. An empty siteID lists all
// sites.
func (m *Manager) List(ctx context.Context, siteID string) ([]*stores.Checkpoint, error) {
	return m.store.ListCheckpoints(ctx, siteID)
}
