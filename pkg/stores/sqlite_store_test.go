package stores

import (
	"context"
	"errors"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testCheckpoint(id, site, env string, createdAt time.Time) *Checkpoint {
	return &Checkpoint{
		ID:          id,
		SiteID:      site,
		Environment: env,
		CreatedAt:   createdAt,
		DataPath:    "/tmp/checkpoints/" + id + ".sql.gz",
		Status:      CheckpointStatusActive,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"checkpoints", "remediation_attempts", "deploy_events"}
	for _, table := range tables {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestCheckpointInsertAndLatest(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestCheckpoint(ctx, "demo", "development"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing checkpoint, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.InsertCheckpoint(ctx, testCheckpoint("cp-1", "demo", "development", now)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.InsertCheckpoint(ctx, testCheckpoint("cp-2", "demo", "development", now.Add(time.Minute))); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	latest, err := store.LatestCheckpoint(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ID != "cp-2" {
		t.Errorf("latest = %s, want cp-2", latest.ID)
	}
	if latest.Status != CheckpointStatusActive {
		t.Errorf("status = %s, want active", latest.Status)
	}
}

func TestCheckpointKeyIsolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertCheckpoint(ctx, testCheckpoint("cp-dev", "demo", "development", now)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := store.LatestCheckpoint(ctx, "demo", "staging"); !errors.Is(err, ErrNotFound) {
		t.Errorf("staging should have no checkpoint, got %v", err)
	}
}

func TestTrimCheckpoints(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		cp := testCheckpoint(
			[]string{"cp-a", "cp-b", "cp-c", "cp-d"}[i],
			"demo", "development",
			now.Add(time.Duration(i)*time.Minute),
		)
		if err := store.InsertCheckpoint(ctx, cp); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	removed, err := store.TrimCheckpoints(ctx, "demo", "development", 1)
	if err != nil {
		t.Fatalf("trim failed: %v", err)
	}
	if len(removed) != 3 {
		t.Fatalf("expected 3 removed paths, got %d", len(removed))
	}

	remaining, err := store.ListCheckpoints(ctx, "demo")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "cp-d" {
		t.Errorf("expected only newest checkpoint to survive, got %+v", remaining)
	}
}

func TestMarkCheckpointRolledBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.InsertCheckpoint(ctx, testCheckpoint("cp-1", "demo", "development", time.Now().UTC())); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := store.MarkCheckpointRolledBack(ctx, "cp-1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	cp, err := store.LatestCheckpoint(ctx, "demo", "development")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if cp.Status != CheckpointStatusRolledBack {
		t.Errorf("status = %s, want rolled_back", cp.Status)
	}

	if err := store.MarkCheckpointRolledBack(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestRemediationAttemptLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	attempt := &RemediationAttempt{
		PatternID:   "permission_denied",
		SiteID:      "demo",
		Command:     "chmod -R u+w /var/www/demo",
		StateBefore: `{"runtime_running":true}`,
		StateAfter:  `{"runtime_running":true}`,
		Result:      RemediationResultSuccess,
		Duration:    1500 * time.Millisecond,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.InsertRemediationAttempt(ctx, attempt); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if attempt.ID == 0 {
		t.Error("expected assigned id")
	}

	attempts, err := store.ListRemediationAttempts(ctx, "demo", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration round-trip = %v", attempts[0].Duration)
	}
	if attempts[0].Result != RemediationResultSuccess {
		t.Errorf("result = %s", attempts[0].Result)
	}
}

func TestDeployEventLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, msg := range []string{"step 1 started", "step 1 completed"} {
		event := &DeployEvent{
			SiteID:      "demo",
			Environment: "development",
			StepKey:     "validate_settings",
			Type:        "step.completed",
			Level:       "info",
			Message:     msg,
			CreatedAt:   time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertDeployEvent(ctx, event); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	events, err := store.ListDeployEvents(ctx, "demo", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "step 1 completed" {
		t.Errorf("expected newest first, got %q", events[0].Message)
	}
}
