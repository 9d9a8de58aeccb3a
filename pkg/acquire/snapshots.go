package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultFreshness is how old a snapshot may be before Auto ignores it.
const DefaultFreshness = 24 * time.Hour

const (
	snapshotSuffix  = ".sql.gz"
	sanitizedMarker = "-sanitized"
)

// Snapshot is one dump artifact in the snapshots directory.
type Snapshot struct {
	Path      string
	SiteID    string
	TakenAt   time.Time
	Sanitized bool
}

// Fresh reports whether the snapshot is younger than maxAge at now.
func (s Snapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.TakenAt) <= maxAge
}

// Inventory tracks the snapshot artifacts under one directory. A scan walks
// the directory; Watch keeps the cache warm on file changes so repeated
// Auto resolutions avoid rescanning.
type Inventory struct {
	dir    string
	logger zerolog.Logger
	clock  func() time.Time

	mu        sync.RWMutex
	snapshots []Snapshot
	scanned   bool

	watcher *fsnotify.Watcher
}

// NewInventory creates an inventory over dir.
func NewInventory(dir string, logger zerolog.Logger) *Inventory {
	return &Inventory{
		dir:    dir,
		logger: logger.With().Str("component", "snapshot-inventory").Logger(),
		clock:  time.Now,
	}
}

// Dir returns the snapshots directory.
func (inv *Inventory) Dir() string {
	return inv.dir
}

// Scan rebuilds the cache from the directory contents. A missing directory
// is an empty inventory, not an error.
func (inv *Inventory) Scan() error {
	entries, err := os.ReadDir(inv.dir)
	if err != nil {
		if os.IsNotExist(err) {
			inv.mu.Lock()
			inv.snapshots = nil
			inv.scanned = true
			inv.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), snapshotSuffix)
		sanitized := strings.HasSuffix(name, sanitizedMarker)
		name = strings.TrimSuffix(name, sanitizedMarker)

		// Artifacts are named <site>-<timestamp>; anything after the last
		// dash that is not a timestamp still attributes to the site prefix.
		siteID := name
		if i := strings.LastIndex(name, "-"); i > 0 {
			siteID = name[:i]
		}

		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(inv.dir, entry.Name()),
			SiteID:    siteID,
			TakenAt:   info.ModTime(),
			Sanitized: sanitized,
		})
	}

	inv.mu.Lock()
	inv.snapshots = snapshots
	inv.scanned = true
	inv.mu.Unlock()

	inv.logger.Debug().Int("count", len(snapshots)).Msg("snapshot inventory scanned")
	return nil
}

// Latest returns the newest snapshot for a site matching the sanitized flag,
// or false when none exists.
func (inv *Inventory) Latest(siteID string, sanitized bool) (Snapshot, bool) {
	inv.mu.RLock()
	scanned := inv.scanned
	inv.mu.RUnlock()
	if !scanned {
		if err := inv.Scan(); err != nil {
			inv.logger.Warn().Err(err).Msg("snapshot scan failed")
			return Snapshot{}, false
		}
	}

	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var best Snapshot
	found := false
	for _, snap := range inv.snapshots {
		if snap.SiteID != siteID || snap.Sanitized != sanitized {
			continue
		}
		if !found || snap.TakenAt.After(best.TakenAt) {
			best = snap
			found = true
		}
	}
	return best, found
}

// SnapshotPath builds the artifact path for a new snapshot of a site.
func (inv *Inventory) SnapshotPath(siteID string, sanitized bool, at time.Time) string {
	name := fmt.Sprintf("%s-%s", siteID, at.Format("20060102T150405"))
	if sanitized {
		name += sanitizedMarker
	}
	return filepath.Join(inv.dir, name+snapshotSuffix)
}

// MarkSanitized renames an unsanitized artifact to carry the sanitized
// marker and refreshes the cache entry.
func (inv *Inventory) MarkSanitized(snap Snapshot) (Snapshot, error) {
	if snap.Sanitized {
		return snap, nil
	}

	base := strings.TrimSuffix(filepath.Base(snap.Path), snapshotSuffix)
	newPath := filepath.Join(filepath.Dir(snap.Path), base+sanitizedMarker+snapshotSuffix)
	if err := os.Rename(snap.Path, newPath); err != nil {
		return snap, fmt.Errorf("failed to mark snapshot sanitized: %w", err)
	}

	snap.Path = newPath
	snap.Sanitized = true

	if err := inv.Scan(); err != nil {
		inv.logger.Warn().Err(err).Msg("rescan after rename failed")
	}
	return snap, nil
}

// Watch keeps the inventory warm by rescanning on directory changes, with a
// short debounce. It returns after starting the background goroutine and
// stops when the context is cancelled.
func (inv *Inventory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(inv.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", inv.dir, err)
	}
	inv.watcher = watcher

	go inv.processEvents(ctx)

	inv.logger.Debug().Str("dir", inv.dir).Msg("watching snapshots directory")
	return nil
}

func (inv *Inventory) processEvents(ctx context.Context) {
	var rescanTimer *time.Timer
	const rescanDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = inv.watcher.Close()
			return

		case event, ok := <-inv.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, snapshotSuffix) {
				continue
			}
			if rescanTimer != nil {
				rescanTimer.Stop()
			}
			rescanTimer = time.AfterFunc(rescanDelay, func() {
				if err := inv.Scan(); err != nil {
					inv.logger.Error().Err(err).Msg("snapshot rescan failed")
				}
			})

		case err, ok := <-inv.watcher.Errors:
			if !ok {
				return
			}
			inv.logger.Warn().Err(err).Msg("snapshot watcher error")
		}
	}
}
