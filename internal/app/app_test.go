// Integration tests for offline functionality: every food and weight
// operation must work without network connectivity.
package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/h2non/gock"

	"github.com/kimhsiao/fitsync/backend/internal/config"
	"github.com/kimhsiao/fitsync/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/export"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
	"github.com/kimhsiao/fitsync/backend/internal/sync/retry"
)

// setupApp creates an app on a fresh SQLite database in dataDir.
func setupApp(t *testing.T, dataDir string, rs *remote.MemoryStore) *App {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Timezone = "UTC"

	fast := retry.Policy{Attempts: 2, Base: time.Millisecond}
	a, err := New(context.Background(), cfg, Options{Remote: rs, Write: fast, Fetch: fast})
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	return a
}

type eventLog struct {
	mu     sync.Mutex
	events []syncpkg.Event
}

func (l *eventLog) handle(ev syncpkg.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) has(t syncpkg.EventType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// TestOfflineAddAndReconnect tests the offline add, reconnect, drain and
// resync path end to end.
func TestOfflineAddAndReconnect(t *testing.T) {
	rs := remote.NewMemoryStore()
	a := setupApp(t, t.TempDir(), rs)
	defer a.Close()
	ctx := context.Background()

	events := &eventLog{}
	a.Sync.SetEventHandler(events.handle)

	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	a.SetOnline(ctx, false)

	rec, err := a.Food.Add(ctx, "u1", &models.MealPayload{Name: "Oatmeal", Calories: models.Float(350), MealType: "breakfast"}, 0)
	if err != nil {
		t.Fatalf("Offline add failed: %v", err)
	}
	if rec.SyncStatus != models.SyncStatusPending || len(rec.PendingOperations) != 1 {
		t.Errorf("Expected one pending create, got %+v", rec.PendingOperations)
	}
	ops, _ := a.Queue.List(ctx)
	if len(ops) != 1 || ops[0].Priority != models.PriorityHigh || ops[0].RecordID != rec.ID {
		t.Fatalf("Expected one high-priority queued create, got %+v", ops)
	}
	if rs.Calls(remote.OpPut) != 0 {
		t.Error("Expected no remote write while offline")
	}

	a.SetOnline(ctx, true)
	a.Monitor.Wait()

	if rs.Calls(remote.OpPut) != 1 {
		t.Errorf("Expected exactly one remote put, got %d", rs.Calls(remote.OpPut))
	}
	if a.Queue.Size(ctx) != 0 {
		t.Errorf("Expected an empty queue, got %d", a.Queue.Size(ctx))
	}
	stored, err := a.Sync.Get(ctx, "u1", models.KindMeal, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !stored.IsSynced() {
		t.Errorf("Expected the reconnect resync to settle the record, got %s", stored.SyncStatus)
	}
	if !events.has(syncpkg.EventQueueDrained) || !events.has(syncpkg.EventSyncCompleted) {
		t.Error("Expected queue.drained and sync.completed events")
	}
}

// TestOfflinePersistence tests that records and queued operations survive a
// restart.
func TestOfflinePersistence(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	a := setupApp(t, dataDir, remote.NewMemoryStore())
	a.SetOnline(ctx, false)
	if _, err := a.Weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(72.5)}, 0); err != nil {
		t.Fatalf("Offline add failed: %v", err)
	}
	if err := a.Food.SetUndoConfig(ctx, models.UndoConfig{TimeoutMs: 5000, MaxHistory: 5}); err != nil {
		t.Fatalf("SetUndoConfig failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b := setupApp(t, dataDir, remote.NewMemoryStore())
	defer b.Close()

	if got := b.Weight.List(ctx, "u1", 0); len(got) != 1 || models.Value(got[0].Weight.Weight) != 72.5 {
		t.Errorf("Expected the weight entry after restart, got %d entries", len(got))
	}
	if b.Queue.Size(ctx) != 1 {
		t.Errorf("Expected the queued create after restart, got %d", b.Queue.Size(ctx))
	}
	if cfg := b.Food.UndoConfig(); cfg.TimeoutMs != 5000 {
		t.Errorf("Expected the persisted undo config, got %+v", cfg)
	}
}

// TestSignIn tests input validation and the deferred first load.
func TestSignIn(t *testing.T) {
	rs := remote.NewMemoryStore()
	a := setupApp(t, t.TempDir(), rs)
	defer a.Close()
	ctx := context.Background()

	if err := a.SignIn(ctx, " "); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT for a blank user, got %v", err)
	}
	if _, err := a.SyncNow(ctx); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT without a user, got %v", err)
	}

	rs.SetOffline(true)
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("Offline sign-in should succeed, got %v", err)
	}
	if a.Store.HasLoaded(ctx, "u1") {
		t.Error("First load must not be marked while unreachable")
	}

	rs.SetOffline(false)
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !a.Store.HasLoaded(ctx, "u1") {
		t.Error("Expected the first load to be marked")
	}
	if results, err := a.SyncNow(ctx); err != nil || len(results) != 2 {
		t.Errorf("Expected 2 sync results, got %d, %v", len(results), err)
	}

	a.SignOut()
	if a.UserID() != "" || a.Status(ctx).UserID != "" {
		t.Error("Expected no user after sign-out")
	}
}

// TestStatus tests the snapshot.
func TestStatus(t *testing.T) {
	a := setupApp(t, t.TempDir(), remote.NewMemoryStore())
	defer a.Close()
	ctx := context.Background()

	a.SignIn(ctx, "u1")
	a.SetOnline(ctx, false)
	a.Food.Add(ctx, "u1", &models.MealPayload{Name: "Toast", Calories: models.Float(150)}, 0)

	st := a.Status(ctx)
	if st.UserID != "u1" || st.Connectivity != connectivity.StateOffline {
		t.Errorf("Unexpected status: %+v", st)
	}
	if st.Queue.Total != 1 || st.Queue.High != 1 {
		t.Errorf("Expected one queued create, got %+v", st.Queue)
	}
	if st.Scheduler.IsOnline {
		t.Error("Expected the scheduler to follow the monitor offline")
	}

	// an explicit drain does not consult the monitor
	res := a.Drain(ctx)
	if res.Applied != 1 || a.Queue.Size(ctx) != 0 {
		t.Errorf("Expected the drain to push the queued create, got %+v", res)
	}
}

// TestStartClose tests the background prober lifecycle.
func TestStartClose(t *testing.T) {
	defer gock.Off()
	gock.New("http://probe.fitsync.test").Head("/").Persist().Reply(503)

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Prober.URL = "http://probe.fitsync.test/"
	cfg.Prober.Interval = 10 * time.Millisecond

	a, err := New(context.Background(), cfg, Options{Remote: remote.NewMemoryStore()})
	if err != nil {
		t.Fatalf("Failed to create app: %v", err)
	}
	if a.Prober == nil {
		t.Fatal("Expected a prober for a configured URL")
	}

	a.Start(context.Background())
	a.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for a.Monitor.State() != connectivity.StateOffline && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if a.Monitor.State() != connectivity.StateOffline {
		t.Errorf("Expected the prober to report offline, got %s", a.Monitor.State())
	}
	if !a.Scheduler.IsRunning() {
		t.Error("Expected the scheduler to run")
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if a.Scheduler.IsRunning() {
		t.Error("Expected the scheduler to stop")
	}
}

// TestExportImport tests a backup moving a user's logs to a fresh install.
func TestExportImport(t *testing.T) {
	ctx := context.Background()
	a := setupApp(t, t.TempDir(), remote.NewMemoryStore())
	defer a.Close()

	if _, err := a.ExportData(ctx, export.ExportConfig{}); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT without a user, got %v", err)
	}

	a.SignIn(ctx, "u1")
	if _, err := a.Food.Add(ctx, "u1", &models.MealPayload{Name: "Rice", Calories: models.Float(200)}, 0); err != nil {
		t.Fatalf("Add meal failed: %v", err)
	}
	if _, err := a.Weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(70)}, 0); err != nil {
		t.Fatalf("Add weight failed: %v", err)
	}

	result, err := a.ExportData(ctx, export.ExportConfig{Password: "pw"})
	if err != nil {
		t.Fatalf("ExportData failed: %v", err)
	}
	if filepath.Dir(result.FilePath) != filepath.Join(a.Config.DataDir, "backups") {
		t.Errorf("Expected the default backup dir, got %s", result.FilePath)
	}

	b := setupApp(t, t.TempDir(), remote.NewMemoryStore())
	defer b.Close()
	b.SignIn(ctx, "u1")
	imp, err := b.ImportData(ctx, export.ImportConfig{ArchivePath: result.FilePath, Password: "pw"})
	if err != nil {
		t.Fatalf("ImportData failed: %v", err)
	}
	if imp.Imported != 2 {
		t.Errorf("Expected 2 imported, got %+v", imp)
	}
	if page := b.Food.List(ctx, "u1", 1, 10); page.Total != 1 {
		t.Errorf("Expected 1 meal after import, got %d", page.Total)
	}
}
