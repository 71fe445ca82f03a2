package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/patchwell/courier/internal/config"
	"github.com/patchwell/courier/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Open(&cfg)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestRunStore_CreateAndGet(t *testing.T) {
	db := testDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run := &CampaignRun{
		CampaignID:  "camp-1",
		TenantID:    "tenant-a",
		TemplateRef: "welcome-v2",
	}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if run.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}
	if run.Status != RunStatusRunning {
		t.Errorf("Status = %s, want default running", run.Status)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CampaignID != "camp-1" || got.TenantID != "tenant-a" || got.TemplateRef != "welcome-v2" {
		t.Errorf("Get() = %+v", got)
	}
	if got.LastSentIndex != 0 || got.TotalSent != 0 || got.TotalFailed != 0 {
		t.Errorf("fresh run has progress: %+v", got)
	}
}

func TestRunStore_GetNotFound(t *testing.T) {
	db := testDB(t)
	store := NewRunStore(db)

	_, err := store.Get(context.Background(), "no-such-run")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Get() error = %v, want ErrRunNotFound", err)
	}
}

func TestRunStore_GetByCampaign_ReturnsLatest(t *testing.T) {
	db := testDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	older := &CampaignRun{
		CampaignID: "camp-1", TenantID: "tenant-a",
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	newer := &CampaignRun{
		CampaignID: "camp-1", TenantID: "tenant-a",
		CreatedAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	}
	if err := store.Create(ctx, older); err != nil {
		t.Fatalf("Create(older) error = %v", err)
	}
	if err := store.Create(ctx, newer); err != nil {
		t.Fatalf("Create(newer) error = %v", err)
	}

	got, err := store.GetByCampaign(ctx, "camp-1")
	if err != nil {
		t.Fatalf("GetByCampaign() error = %v", err)
	}
	if got.ID != newer.ID {
		t.Errorf("GetByCampaign() = %s, want latest run %s", got.ID, newer.ID)
	}
}

func TestRunStore_Checkpoint(t *testing.T) {
	db := testDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run := &CampaignRun{CampaignID: "camp-1", TenantID: "tenant-a"}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Checkpoint(ctx, run.ID, 10, 9, 1); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastSentIndex != 10 || got.TotalSent != 9 || got.TotalFailed != 1 {
		t.Errorf("after checkpoint: %+v, want index 10, sent 9, failed 1", got)
	}

	// A stale write (lower index) must not roll progress back.
	if err := store.Checkpoint(ctx, run.ID, 5, 4, 1); err != nil {
		t.Fatalf("stale Checkpoint() error = %v", err)
	}
	got, _ = store.Get(ctx, run.ID)
	if got.LastSentIndex != 10 {
		t.Errorf("LastSentIndex = %d after stale write, want 10", got.LastSentIndex)
	}
}

func TestRunStore_SetStatus(t *testing.T) {
	db := testDB(t)
	store := NewRunStore(db)
	ctx := context.Background()

	run := &CampaignRun{CampaignID: "camp-1", TenantID: "tenant-a"}
	if err := store.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, status := range []RunStatus{RunStatusCancelled, RunStatusRunning, RunStatusCompleted} {
		if err := store.SetStatus(ctx, run.ID, status); err != nil {
			t.Fatalf("SetStatus(%s) error = %v", status, err)
		}
		got, err := store.Get(ctx, run.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != status {
			t.Errorf("Status = %s, want %s", got.Status, status)
		}
	}
}
