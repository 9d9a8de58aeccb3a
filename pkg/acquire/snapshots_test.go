package acquire

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeSnapshotFile(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("dump"), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", name, err)
	}
	return path
}

func TestInventoryScan(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeSnapshotFile(t, dir, "demo-20260101T120000.sql.gz", now.Add(-2*time.Hour))
	writeSnapshotFile(t, dir, "demo-20260101T140000-sanitized.sql.gz", now.Add(-time.Hour))
	writeSnapshotFile(t, dir, "my-site-20260101T120000.sql.gz", now)
	writeSnapshotFile(t, dir, "notes.txt", now)

	inv := NewInventory(dir, zerolog.Nop())
	if err := inv.Scan(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	snap, ok := inv.Latest("demo", true)
	if !ok {
		t.Fatal("expected sanitized snapshot for demo")
	}
	if !snap.Sanitized {
		t.Error("snapshot should be marked sanitized")
	}

	snap, ok = inv.Latest("my-site", false)
	if !ok {
		t.Fatal("expected snapshot for dashed site id")
	}
	if snap.SiteID != "my-site" {
		t.Errorf("site id = %q, want my-site", snap.SiteID)
	}

	if _, ok := inv.Latest("notes", false); ok {
		t.Error("non-snapshot file should be ignored")
	}
}

func TestInventoryLatestPicksNewest(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeSnapshotFile(t, dir, "demo-20260101T100000.sql.gz", now.Add(-3*time.Hour))
	newest := writeSnapshotFile(t, dir, "demo-20260101T130000.sql.gz", now.Add(-time.Hour))

	inv := NewInventory(dir, zerolog.Nop())
	snap, ok := inv.Latest("demo", false)
	if !ok {
		t.Fatal("expected snapshot")
	}
	if snap.Path != newest {
		t.Errorf("latest = %s, want %s", snap.Path, newest)
	}
}

func TestInventoryMissingDirectory(t *testing.T) {
	inv := NewInventory(filepath.Join(t.TempDir(), "nope"), zerolog.Nop())
	if err := inv.Scan(); err != nil {
		t.Fatalf("missing directory should scan as empty, got %v", err)
	}
	if _, ok := inv.Latest("demo", false); ok {
		t.Error("empty inventory should have no snapshots")
	}
}

func TestSnapshotFreshness(t *testing.T) {
	now := time.Now()
	snap := Snapshot{TakenAt: now.Add(-time.Hour)}

	if !snap.Fresh(now, DefaultFreshness) {
		t.Error("1h-old snapshot should be fresh within 24h")
	}
	if snap.Fresh(now, 30*time.Minute) {
		t.Error("1h-old snapshot should be stale within 30m")
	}
}

func TestMarkSanitized(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeSnapshotFile(t, dir, "demo-20260101T120000.sql.gz", now)

	inv := NewInventory(dir, zerolog.Nop())
	snap, ok := inv.Latest("demo", false)
	if !ok {
		t.Fatal("expected snapshot")
	}

	marked, err := inv.MarkSanitized(snap)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !marked.Sanitized {
		t.Error("returned snapshot should be sanitized")
	}
	if _, err := os.Stat(marked.Path); err != nil {
		t.Errorf("renamed artifact missing: %v", err)
	}
	if _, err := os.Stat(snap.Path); !os.IsNotExist(err) {
		t.Errorf("original artifact should be gone, got %v", err)
	}

	if _, ok := inv.Latest("demo", false); ok {
		t.Error("unsanitized entry should be gone after rename")
	}
	if _, ok := inv.Latest("demo", true); !ok {
		t.Error("sanitized entry should exist after rename")
	}
}

func TestInventoryWatchRescansOnNewArtifact(t *testing.T) {
	dir := t.TempDir()
	inv := NewInventory(dir, zerolog.Nop())
	if err := inv.Scan(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := inv.Watch(ctx); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	writeSnapshotFile(t, dir, "demo-20260101T120000.sql.gz", time.Now())

	// The rescan is debounced; poll until the cache sees the artifact.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := inv.Latest("demo", false); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("new artifact never appeared in the inventory")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSnapshotPathFormat(t *testing.T) {
	inv := NewInventory("/var/snapshots", zerolog.Nop())
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	got := inv.SnapshotPath("demo", false, at)
	want := "/var/snapshots/demo-20260102T150405.sql.gz"
	if got != want {
		t.Errorf("path = %s, want %s", got, want)
	}

	got = inv.SnapshotPath("demo", true, at)
	want = "/var/snapshots/demo-20260102T150405-sanitized.sql.gz"
	if got != want {
		t.Errorf("sanitized path = %s, want %s", got, want)
	}
}
