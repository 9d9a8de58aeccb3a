package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DataStore loads and dumps site datasets. Satisfied by runtime.CMS.
type DataStore interface {
	RestoreDatabase(ctx context.Context, siteID, path string) error
	DumpDatabase(ctx context.Context, siteID, path string) error
}

// Sanitizer runs the destructive sanitization pipeline. Satisfied by
// *Pipeline.
type Sanitizer interface {
	Run(ctx context.Context, siteID string) error
}

// DatasetHandle describes a successfully acquired dataset.
type DatasetHandle struct {
	Strategy   string
	Path       string
	Sanitized  bool
	AcquiredAt time.Time
}

// Attempt records one failed strategy during Auto resolution.
type Attempt struct {
	Strategy string
	Reason   string
}

// AcquisitionError reports that every strategy in the Auto chain failed,
// with the per-strategy reasons in the order they were tried.
type AcquisitionError struct {
	SiteID   string
	Attempts []Attempt
}

func (e *AcquisitionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no acquisition strategy succeeded for site %s:", e.SiteID)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s: %s", a.Strategy, a.Reason)
	}
	return b.String()
}

// Router resolves an acquisition intent to a concrete strategy and executes
// it against the target project.
type Router struct {
	inventory  *Inventory
	store      DataStore
	sanitizer  Sanitizer
	production ProductionSource
	freshness  time.Duration
	httpClient *http.Client
	clock      func() time.Time
	logger     zerolog.Logger
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithFreshness overrides the snapshot freshness window.
func WithFreshness(d time.Duration) RouterOption {
	return func(r *Router) { r.freshness = d }
}

// WithProductionSource attaches a production extraction source. Without one
// the production strategy reports unavailable.
func WithProductionSource(src ProductionSource) RouterOption {
	return func(r *Router) { r.production = src }
}

// WithHTTPClient overrides the download client for the url strategy.
func WithHTTPClient(client *http.Client) RouterOption {
	return func(r *Router) { r.httpClient = client }
}

// NewRouter creates an acquisition router.
func NewRouter(inventory *Inventory, store DataStore, sanitizer Sanitizer, logger zerolog.Logger, opts ...RouterOption) *Router {
	r := &Router{
		inventory:  inventory,
		store:      store,
		sanitizer:  sanitizer,
		freshness:  DefaultFreshness,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		clock:      time.Now,
		logger:     logger.With().Str("component", "acquire-router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire resolves the intent for siteID and loads the resulting dataset
// into the target project. siteID names the logical site whose data is
// wanted; targetID names the local project that receives it. For a fresh
// deployment the two differ; for an in-place refresh they are equal.
func (r *Router) Acquire(ctx context.Context, intent Intent, siteID, targetID string) (*DatasetHandle, error) {
	switch intent.Kind {
	case IntentAuto:
		return r.acquireAuto(ctx, siteID, targetID)
	case IntentProduction:
		return r.fromProduction(ctx, siteID, targetID)
	case IntentDevelopment:
		return r.fromDevelopment(ctx, siteID, targetID)
	case IntentBackup:
		return r.fromBackup(ctx, targetID, intent.Path)
	case IntentURL:
		return r.fromURL(ctx, targetID, intent.Path)
	default:
		return nil, fmt.Errorf("unknown acquisition intent %q", intent.Kind)
	}
}

// acquireAuto walks the strategy chain in priority order and returns the
// first success. Every failed strategy is recorded so the final error names
// what was tried and why it failed.
func (r *Router) acquireAuto(ctx context.Context, siteID, targetID string) (*DatasetHandle, error) {
	var attempts []Attempt
	fail := func(strategy, reason string) {
		attempts = append(attempts, Attempt{Strategy: strategy, Reason: reason})
		r.logger.Debug().Str("site", siteID).Str("strategy", strategy).Str("reason", reason).Msg("acquisition strategy skipped")
	}

	now := r.clock()

	// 1. Fresh sanitized snapshot.
	if snap, ok := r.inventory.Latest(siteID, true); ok && snap.Fresh(now, r.freshness) {
		handle, err := r.restoreSnapshot(ctx, targetID, snap, "snapshot-sanitized")
		if err == nil {
			return handle, nil
		}
		fail("snapshot-sanitized", err.Error())
	} else if ok {
		fail("snapshot-sanitized", fmt.Sprintf("newest snapshot is stale (%s old)", now.Sub(snap.TakenAt).Round(time.Minute)))
	} else {
		fail("snapshot-sanitized", "no sanitized snapshot on disk")
	}

	// 2. Fresh unsanitized snapshot, sanitized in place after restore.
	if snap, ok := r.inventory.Latest(siteID, false); ok && snap.Fresh(now, r.freshness) {
		handle, err := r.restoreAndSanitize(ctx, targetID, snap)
		if err == nil {
			return handle, nil
		}
		fail("snapshot-unsanitized", err.Error())
	} else if ok {
		fail("snapshot-unsanitized", fmt.Sprintf("newest snapshot is stale (%s old)", now.Sub(snap.TakenAt).Round(time.Minute)))
	} else {
		fail("snapshot-unsanitized", "no unsanitized snapshot on disk")
	}

	// 3. Live production extraction.
	if r.production == nil {
		fail("production", "no production source configured")
	} else if !r.production.Reachable(ctx) {
		fail("production", "production host unreachable")
	} else {
		handle, err := r.fromProduction(ctx, siteID, targetID)
		if err == nil {
			return handle, nil
		}
		fail("production", err.Error())
	}

	// 4. Sibling development clone. The clone is intentionally not sanitized:
	// the sibling is already a development dataset.
	if siteID == targetID {
		fail("development", "target is the development source itself")
	} else {
		handle, err := r.fromDevelopment(ctx, siteID, targetID)
		if err == nil {
			return handle, nil
		}
		fail("development", err.Error())
	}

	return nil, &AcquisitionError{SiteID: siteID, Attempts: attempts}
}

func (r *Router) restoreSnapshot(ctx context.Context, targetID string, snap Snapshot, strategy string) (*DatasetHandle, error) {
	if err := r.store.RestoreDatabase(ctx, targetID, snap.Path); err != nil {
		return nil, fmt.Errorf("restore from %s failed: %w", snap.Path, err)
	}
	r.logger.Info().Str("target", targetID).Str("snapshot", snap.Path).Str("strategy", strategy).Msg("dataset restored")
	return &DatasetHandle{
		Strategy:   strategy,
		Path:       snap.Path,
		Sanitized:  snap.Sanitized,
		AcquiredAt: r.clock(),
	}, nil
}

// restoreAndSanitize restores an unsanitized snapshot and sanitizes the
// loaded copy synchronously. On success the artifact is renamed to carry the
// sanitized marker so the next Auto run takes the fast path.
func (r *Router) restoreAndSanitize(ctx context.Context, targetID string, snap Snapshot) (*DatasetHandle, error) {
	handle, err := r.restoreSnapshot(ctx, targetID, snap, "snapshot-unsanitized")
	if err != nil {
		return nil, err
	}
	if err := r.sanitizer.Run(ctx, targetID); err != nil {
		return nil, fmt.Errorf("sanitization after restore failed: %w", err)
	}
	handle.Sanitized = true

	if marked, err := r.inventory.MarkSanitized(snap); err != nil {
		r.logger.Warn().Str("snapshot", snap.Path).Err(err).Msg("failed to mark snapshot sanitized")
	} else {
		handle.Path = marked.Path
	}
	return handle, nil
}

// fromProduction fetches a fresh dump from the production host, restores it
// into the target, and sanitizes the result. The fetched artifact is kept in
// the snapshot inventory for future runs.
func (r *Router) fromProduction(ctx context.Context, siteID, targetID string) (*DatasetHandle, error) {
	if r.production == nil {
		return nil, fmt.Errorf("no production source configured")
	}

	localPath := r.inventory.SnapshotPath(siteID, false, r.clock())
	if err := os.MkdirAll(r.inventory.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	if err := r.production.Fetch(ctx, siteID, localPath); err != nil {
		return nil, err
	}
	if err := r.inventory.Scan(); err != nil {
		r.logger.Warn().Err(err).Msg("rescan after fetch failed")
	}

	snap := Snapshot{Path: localPath, SiteID: siteID, TakenAt: r.clock(), Sanitized: false}
	handle, err := r.restoreAndSanitize(ctx, targetID, snap)
	if err != nil {
		return nil, err
	}
	handle.Strategy = "production"
	return handle, nil
}

// fromDevelopment clones the dataset of an existing development sibling by
// dumping it and restoring the dump into the target. No sanitization runs.
func (r *Router) fromDevelopment(ctx context.Context, siteID, targetID string) (*DatasetHandle, error) {
	tmp, err := os.CreateTemp("", "stagehand-devclone-*.sql.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone staging file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := r.store.DumpDatabase(ctx, siteID, tmpPath); err != nil {
		return nil, fmt.Errorf("dump of development sibling %s failed: %w", siteID, err)
	}
	if err := r.store.RestoreDatabase(ctx, targetID, tmpPath); err != nil {
		return nil, fmt.Errorf("restore of development clone failed: %w", err)
	}

	r.logger.Info().Str("source", siteID).Str("target", targetID).Msg("development dataset cloned")
	return &DatasetHandle{
		Strategy:   "development",
		Path:       "",
		Sanitized:  false,
		AcquiredAt: r.clock(),
	}, nil
}

// fromBackup restores an operator-supplied dump file. The file is used as-is
// and assumed already safe for the target environment.
func (r *Router) fromBackup(ctx context.Context, targetID, path string) (*DatasetHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup file not usable: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("backup path %s is a directory", path)
	}

	if err := r.store.RestoreDatabase(ctx, targetID, path); err != nil {
		return nil, fmt.Errorf("restore from backup %s failed: %w", path, err)
	}

	r.logger.Info().Str("target", targetID).Str("backup", path).Msg("dataset restored from backup")
	return &DatasetHandle{
		Strategy:   "backup",
		Path:       path,
		Sanitized:  false,
		AcquiredAt: r.clock(),
	}, nil
}

// fromURL downloads a dump over HTTP to a temporary file and delegates to
// the backup strategy. The temporary file is removed whether or not the
// restore succeeds.
func (r *Router) fromURL(ctx context.Context, targetID, rawURL string) (*DatasetHandle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid download URL: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp("", "stagehand-download-*.sql.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create download staging file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize download: %w", err)
	}

	handle, err := r.fromBackup(ctx, targetID, tmpPath)
	if err != nil {
		return nil, err
	}
	handle.Strategy = "url"
	handle.Path = rawURL
	return handle, nil
}
