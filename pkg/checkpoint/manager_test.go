package checkpoint

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stagehand/stagehand/pkg/runtime"
	"github.com/stagehand/stagehand/pkg/stores"
)

type fakeMover struct {
	restores    []string
	dumpErr     error
	restoreErr  error
	dbConnected bool
}

func (f *fakeMover) DumpDatabase(ctx context.Context, siteID, path string) error {
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return os.WriteFile(path, []byte("dump"), 0o644)
}

func (f *fakeMover) RestoreDatabase(ctx context.Context, siteID, path string) error {
	f.restores = append(f.restores, path)
	return f.restoreErr
}

func (f *fakeMover) DBConnected(ctx context.Context, siteID string) bool {
	return f.dbConnected
}

type fakeRuntime struct {
	running     bool
	describeErr error
}

func (f *fakeRuntime) Start(ctx context.Context, siteID string) error   { return nil }
func (f *fakeRuntime) Stop(ctx context.Context, siteID string) error    { return nil }
func (f *fakeRuntime) Restart(ctx context.Context, siteID string) error { return nil }

func (f *fakeRuntime) Describe(ctx context.Context, siteID string) (runtime.Status, error) {
	return runtime.Status{Running: f.running}, f.describeErr
}

func (f *fakeRuntime) Exec(ctx context.Context, siteID string, command ...string) (string, int, error) {
	return "", 0, nil
}

type fixture struct {
	manager *Manager
	store   *stores.SQLiteStore
	mover   *fakeMover
	rt      *fakeRuntime
	dir     string
}

func setupManager(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fx := &fixture{
		store: store,
		mover: &fakeMover{dbConnected: true},
		rt:    &fakeRuntime{running: true},
		dir:   t.TempDir(),
	}
	fx.manager = NewManager(store, fx.mover, fx.rt, fx.dir, zerolog.Nop(), opts...)

	// Successive records land within the same wallclock second; a strictly
	// increasing clock keeps newest-first ordering deterministic.
	now := time.Now().UTC()
	fx.manager.clock = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return fx
}

func TestRecordRetainsSingleCheckpoint(t *testing.T) {
	fx := setupManager(t)
	ctx := context.Background()

	first, err := fx.manager.Record(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("first record failed: %v", err)
	}
	second, err := fx.manager.Record(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	list, err := fx.manager.List(ctx, "demo")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one surviving checkpoint, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Errorf("survivor = %s, want newest %s", list[0].ID, second.ID)
	}

	if _, err := os.Stat(first.DataPath); !os.IsNotExist(err) {
		t.Errorf("trimmed artifact should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(second.DataPath); err != nil {
		t.Errorf("surviving artifact missing: %v", err)
	}
}

func TestRecordRetentionKnob(t *testing.T) {
	fx := setupManager(t, WithRetention(3))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := fx.manager.Record(ctx, "demo", "development"); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	list, err := fx.manager.List(ctx, "demo")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 surviving checkpoints, got %d", len(list))
	}
}

type scriptedGit struct{ revision string }

func (g scriptedGit) Run(ctx context.Context, dir, name string, args ...string) (string, int, error) {
	return g.revision + "\n", 0, nil
}

func TestRecordCapturesSourceRevision(t *testing.T) {
	resolve := func(siteID string) (string, error) { return "/var/www/" + siteID, nil }
	fx := setupManager(t, WithRevisionLookup(resolve, scriptedGit{revision: "abc1234"}))

	cp, err := fx.manager.Record(context.Background(), "demo", "development")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if cp.SourceRevision != "abc1234" {
		t.Errorf("revision = %q, want abc1234", cp.SourceRevision)
	}
}

func TestRollbackWithoutCheckpointFailsClosed(t *testing.T) {
	fx := setupManager(t)

	_, _, err := fx.manager.ExecuteRollback(context.Background(), "demo", "development")
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	if len(fx.mover.restores) != 0 {
		t.Error("rollback without a checkpoint must not touch the site")
	}
}

func TestRollbackMissingArtifactFailsClosed(t *testing.T) {
	fx := setupManager(t)
	ctx := context.Background()

	cp, err := fx.manager.Record(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := os.Remove(cp.DataPath); err != nil {
		t.Fatalf("failed to remove artifact: %v", err)
	}

	_, _, err = fx.manager.ExecuteRollback(ctx, "demo", "development")
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if len(fx.mover.restores) != 0 {
		t.Error("rollback with missing artifact must not touch the site")
	}

	latest, err := fx.manager.GetLast(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("get last failed: %v", err)
	}
	if latest.Status != stores.CheckpointStatusActive {
		t.Errorf("checkpoint status = %s, want still active", latest.Status)
	}
}

func TestRollbackRestoresAndConsumesCheckpoint(t *testing.T) {
	fx := setupManager(t)
	ctx := context.Background()

	cp, err := fx.manager.Record(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	rolled, health, err := fx.manager.ExecuteRollback(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if rolled.ID != cp.ID {
		t.Errorf("rolled back %s, want %s", rolled.ID, cp.ID)
	}
	if len(fx.mover.restores) != 1 || fx.mover.restores[0] != cp.DataPath {
		t.Errorf("unexpected restores %v", fx.mover.restores)
	}
	if !health.Healthy() {
		t.Errorf("expected healthy report, got %s", health)
	}

	latest, err := fx.manager.GetLast(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("get last failed: %v", err)
	}
	if latest.Status != stores.CheckpointStatusRolledBack {
		t.Errorf("status = %s, want rolled_back", latest.Status)
	}

	// A consumed checkpoint cannot be rolled back again.
	if _, _, err := fx.manager.ExecuteRollback(ctx, "demo", "development"); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("second rollback should fail closed, got %v", err)
	}
}

func TestRollbackReportsUnhealthySite(t *testing.T) {
	fx := setupManager(t)
	ctx := context.Background()

	if _, err := fx.manager.Record(ctx, "demo", "development"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	fx.rt.running = false
	fx.mover.dbConnected = false

	// An unhealthy site after a successful restore is reported, not treated
	// as a failed rollback.
	_, health, err := fx.manager.ExecuteRollback(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if health.Healthy() {
		t.Error("expected unhealthy report")
	}
	if !strings.Contains(health.String(), "runtime not running") {
		t.Errorf("report should name the failed probe, got %s", health)
	}
}
