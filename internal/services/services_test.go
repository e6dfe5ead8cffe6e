// Package services tests for the food-log and weight-log services.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/aggregate"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fitsync/backend/internal/sync/retry"
)

// =====================================================
// Test Helpers
// =====================================================

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

type env struct {
	clock  atomic.Int64
	online atomic.Bool
	local  *localstore.Store
	remote *remote.MemoryStore
	queue  *queue.SyncQueue
	cache  *aggregate.Cache
	engine *syncpkg.Synchronizer
	food   *FoodLogService
	weight *WeightLogService
}

func (e *env) now() time.Time {
	return time.UnixMilli(e.clock.Load())
}

func (e *env) advance(d time.Duration) {
	e.clock.Add(d.Milliseconds())
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		local:  localstore.New(localstore.NewMemoryKV()),
		remote: remote.NewMemoryStore(),
	}
	e.clock.Store(day.Add(20 * time.Hour).UnixMilli())
	e.online.Store(true)

	var n atomic.Int64
	e.queue = queue.NewSyncQueue(e.local, queue.RemoteApplier{Store: e.remote}, queue.Options{Now: e.now})
	e.cache = aggregate.New(e.local, aggregate.Options{Location: time.UTC})
	fast := retry.Policy{Attempts: 3, Base: time.Millisecond}
	e.engine = syncpkg.NewSynchronizer(e.local, e.remote, e.queue, e.cache, syncpkg.Options{
		Online: e.online.Load,
		Write:  fast,
		Fetch:  fast,
		Now:    e.now,
		NewID:  func() string { return fmt.Sprintf("item-%d", n.Add(1)) },
	})
	e.food = NewFoodLogService(context.Background(), e.engine, e.cache, e.local, models.DefaultUndoConfig(), e.now)
	e.weight = NewWeightLogService(e.engine, e.local, e.now)
	return e
}

func meal(name string, calories float64) *models.MealPayload {
	return &models.MealPayload{Name: name, Calories: models.Float(calories), MealType: "lunch"}
}

func at(hour int) int64 {
	return day.Add(time.Duration(hour) * time.Hour).UnixMilli()
}

// =====================================================
// FoodLogService Tests
// =====================================================

// TestFoodLogService_AddAndList verifies paging newest first.
func TestFoodLogService_AddAndList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i, name := range []string{"Oatmeal", "Salad", "Pasta"} {
		if _, err := e.food.Add(ctx, "u1", meal(name, 300), at(8+4*i)); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}

	page := e.food.List(ctx, "u1", 1, 2)
	if page.Total != 3 || len(page.Items) != 2 || !page.HasMore {
		t.Fatalf("Unexpected first page: total=%d items=%d hasMore=%v", page.Total, len(page.Items), page.HasMore)
	}
	if page.Items[0].Meal.Name != "Pasta" || page.Items[1].Meal.Name != "Salad" {
		t.Errorf("Expected newest first, got %s, %s", page.Items[0].Meal.Name, page.Items[1].Meal.Name)
	}

	page = e.food.List(ctx, "u1", 2, 2)
	if len(page.Items) != 1 || page.HasMore || page.Items[0].Meal.Name != "Oatmeal" {
		t.Errorf("Unexpected second page: %+v", page)
	}

	page = e.food.List(ctx, "u1", 9, 0)
	if len(page.Items) != 0 || page.PageSize != DefaultPageSize {
		t.Errorf("Expected an empty page with the default size, got %+v", page)
	}

	if e.remote.Len("u1", models.KindMeal) != 3 {
		t.Errorf("Expected 3 remote documents, got %d", e.remote.Len("u1", models.KindMeal))
	}
}

// TestFoodLogService_AddOffline verifies optimistic local durability.
func TestFoodLogService_AddOffline(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.online.Store(false)

	rec, err := e.food.Add(ctx, "u1", meal("Oatmeal", 350), 0)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if rec.SyncStatus != models.SyncStatusPending || rec.Timestamp != e.now().UnixMilli() {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if got := e.food.List(ctx, "u1", 1, 10); got.Total != 1 {
		t.Errorf("Expected the offline add to be listed, got %d", got.Total)
	}
	if !e.queue.Has(ctx, "u1", models.KindMeal, rec.ID) {
		t.Error("Expected the create to be queued")
	}
}

// TestFoodLogService_AddInvalid verifies validation errors pass through.
func TestFoodLogService_AddInvalid(t *testing.T) {
	e := newEnv(t)

	_, err := e.food.Add(context.Background(), "u1", &models.MealPayload{Name: "No calories"}, 0)
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := e.food.Add(context.Background(), "u1", nil, 0); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

// TestFoodLogService_Update verifies the meal data is replaced.
func TestFoodLogService_Update(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, _ := e.food.Add(ctx, "u1", meal("Oatmeal", 350), at(8))
	updated, err := e.food.Update(ctx, "u1", rec.ID, meal("Oatmeal with honey", 420), 0)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 || updated.Timestamp != rec.Timestamp || models.Value(updated.Meal.Calories) != 420 {
		t.Errorf("Unexpected update: %+v", updated)
	}

	_, err = e.food.Update(ctx, "u1", "missing", meal("x", 1), 0)
	if !apperrors.IsNotFound(err) || !strings.Contains(err.Error(), "could not update food item") {
		t.Errorf("Expected a generic NOT_FOUND error, got %v", err)
	}
}

// TestFoodLogService_RemoveAndUndo verifies the undo round trip.
func TestFoodLogService_RemoveAndUndo(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, _ := e.food.Add(ctx, "u1", meal("Oatmeal", 350), at(8))
	removed, err := e.food.Remove(ctx, "u1", rec.ID)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed.ExpiresAt != removed.RemovedAt+models.DefaultUndoTimeoutMs {
		t.Errorf("ExpiresAt = %d, want removedAt + %d", removed.ExpiresAt, models.DefaultUndoTimeoutMs)
	}
	if e.food.List(ctx, "u1", 1, 10).Total != 0 || e.remote.Len("u1", models.KindMeal) != 0 {
		t.Error("Expected the meal to be gone locally and remotely")
	}
	if len(e.food.History("u1")) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(e.food.History("u1")))
	}

	restored, err := e.food.UndoRemove(ctx, removed)
	if err != nil {
		t.Fatalf("UndoRemove failed: %v", err)
	}
	if restored.ID != rec.ID || restored.Version != rec.Version+1 {
		t.Errorf("Expected %s at version %d, got %s at %d", rec.ID, rec.Version+1, restored.ID, restored.Version)
	}
	if e.remote.Doc("u1", models.KindMeal, rec.ID) == nil {
		t.Error("Expected the restored meal to be written remotely")
	}
	if len(e.food.History("u1")) != 0 {
		t.Error("Expected the history entry to be consumed")
	}
}

// TestFoodLogService_UndoAfterExpiry verifies expiry is left to the caller.
func TestFoodLogService_UndoAfterExpiry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, _ := e.food.Add(ctx, "u1", meal("Oatmeal", 350), at(8))
	removed, _ := e.food.Remove(ctx, "u1", rec.ID)

	e.advance(time.Minute)
	if !removed.Expired(e.now().UnixMilli()) {
		t.Fatal("Expected the removal to be expired")
	}
	if len(e.food.History("u1")) != 0 {
		t.Error("Expected expired entries to be pruned from history")
	}
	if _, err := e.food.UndoRemove(ctx, removed); err != nil {
		t.Errorf("Expected a held RemovedItem to restore after expiry, got %v", err)
	}
}

// TestFoodLogService_RemoveErrors verifies the generic messages.
func TestFoodLogService_RemoveErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.food.Remove(ctx, "u1", "missing")
	var appErr *apperrors.AppError
	if !apperrors.IsNotFound(err) {
		t.Fatalf("Expected NOT_FOUND, got %v", err)
	}
	if appErr, _ = err.(*apperrors.AppError); appErr.Message != "could not remove food item" || appErr.Err != nil {
		t.Errorf("Expected a generic error without cause, got %+v", appErr)
	}

	if _, err := e.food.UndoRemove(ctx, nil); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT, got %v", err)
	}
}

// TestFoodLogService_RemoveOfflineOnlineFailure verifies delete propagation.
func TestFoodLogService_RemoveOfflineOnlineFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, _ := e.food.Add(ctx, "u1", meal("A", 100), at(8))
	b, _ := e.food.Add(ctx, "u1", meal("B", 100), at(9))

	e.online.Store(false)
	if _, err := e.food.Remove(ctx, "u1", a.ID); err != nil {
		t.Errorf("Offline remove should succeed, got %v", err)
	}

	e.online.Store(true)
	e.remote.FailNext(remote.OpDelete, apperrors.New(apperrors.ErrInternal, "permission denied"))
	removed, err := e.food.Remove(ctx, "u1", b.ID)
	if !apperrors.Is(err, apperrors.ErrSyncFailed) {
		t.Errorf("Expected SYNC_FAILED for a rejected online delete, got %v", err)
	}
	if e.queue.Size(ctx) != 2 {
		t.Errorf("Expected 2 queued deletes, got %d", e.queue.Size(ctx))
	}

	// the meal is gone locally, so the removal stays undoable
	if removed == nil || removed.Record.ID != b.ID {
		t.Fatalf("Expected a removed item with the error, got %+v", removed)
	}
	if len(e.food.History("u1")) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(e.food.History("u1")))
	}
	if _, err := e.food.UndoRemove(ctx, removed); err != nil {
		t.Fatalf("UndoRemove failed: %v", err)
	}
	e.queue.Drain(ctx)
	if e.remote.Doc("u1", models.KindMeal, b.ID) == nil {
		t.Error("Expected the undone meal to survive the drain remotely")
	}
}

// TestFoodLogService_BatchRejectedDelete verifies that a locally removed
// meal joins the batch even when its remote delete was rejected.
func TestFoodLogService_BatchRejectedDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, _ := e.food.Add(ctx, "u1", meal("A", 100), at(8))
	b, _ := e.food.Add(ctx, "u1", meal("B", 200), at(9))

	e.remote.FailNext(remote.OpDelete, apperrors.New(apperrors.ErrInternal, "permission denied"))
	batch, err := e.food.RemoveBatch(ctx, "u1", []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("RemoveBatch failed: %v", err)
	}
	if len(batch.Items) != 2 || e.food.List(ctx, "u1", 1, 10).Total != 0 {
		t.Fatalf("Expected both meals removed and undoable, got %d items", len(batch.Items))
	}
	if !e.queue.Has(ctx, "u1", models.KindMeal, a.ID) {
		t.Error("Expected the rejected delete to be queued")
	}

	if _, err := e.food.UndoBatchRemove(ctx, batch); err != nil {
		t.Fatalf("UndoBatchRemove failed: %v", err)
	}
	if e.queue.Size(ctx) != 0 || e.food.List(ctx, "u1", 1, 10).Total != 2 {
		t.Errorf("Expected both meals back with nothing queued, queue size %d", e.queue.Size(ctx))
	}
}

// TestFoodLogService_Batch verifies batch removal and undo.
func TestFoodLogService_Batch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, _ := e.food.Add(ctx, "u1", meal("A", 100), at(8))
	b, _ := e.food.Add(ctx, "u1", meal("B", 200), at(9))

	batch, err := e.food.RemoveBatch(ctx, "u1", []string{a.ID, "missing", b.ID})
	if err != nil {
		t.Fatalf("RemoveBatch failed: %v", err)
	}
	if len(batch.Items) != 2 || batch.ExpiresAt != batch.RemovedAt+models.DefaultUndoTimeoutMs {
		t.Errorf("Unexpected batch: %+v", batch)
	}
	if e.food.List(ctx, "u1", 1, 10).Total != 0 {
		t.Error("Expected both meals removed")
	}

	restored, err := e.food.UndoBatchRemove(ctx, batch)
	if err != nil {
		t.Fatalf("UndoBatchRemove failed: %v", err)
	}
	if len(restored) != 2 || e.food.List(ctx, "u1", 1, 10).Total != 2 {
		t.Errorf("Expected 2 restored meals, got %d", len(restored))
	}

	if _, err := e.food.RemoveBatch(ctx, "u1", []string{"x", "y"}); !apperrors.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND when nothing was removed, got %v", err)
	}
	if _, err := e.food.RemoveBatch(ctx, "u1", nil); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("Expected INVALID_INPUT for an empty batch, got %v", err)
	}
}

// TestFoodLogService_UndoConfig verifies persistence and the history bound.
func TestFoodLogService_UndoConfig(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.food.SetUndoConfig(ctx, models.UndoConfig{TimeoutMs: 0, MaxHistory: 1}); err == nil {
		t.Error("Expected a zero timeout to be rejected")
	}
	if err := e.food.SetUndoConfig(ctx, models.UndoConfig{TimeoutMs: 10000, MaxHistory: 2}); err != nil {
		t.Fatalf("SetUndoConfig failed: %v", err)
	}

	reloaded := NewFoodLogService(ctx, e.engine, e.cache, e.local, models.DefaultUndoConfig(), e.now)
	if cfg := reloaded.UndoConfig(); cfg.TimeoutMs != 10000 || cfg.MaxHistory != 2 {
		t.Errorf("Expected the persisted config, got %+v", cfg)
	}

	for i := 0; i < 3; i++ {
		rec, _ := e.food.Add(ctx, "u1", meal(fmt.Sprintf("M%d", i), 100), at(8+i))
		removed, err := e.food.Remove(ctx, "u1", rec.ID)
		if err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if removed.ExpiresAt-removed.RemovedAt != 10000 {
			t.Errorf("Expected a 10s undo window, got %d", removed.ExpiresAt-removed.RemovedAt)
		}
	}
	history := e.food.History("u1")
	if len(history) != 2 || history[0].Record.Meal.Name != "M2" {
		t.Errorf("Expected the 2 newest removals, got %d", len(history))
	}
}

// TestFoodLogService_Summaries verifies summaries follow adds.
func TestFoodLogService_Summaries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.food.Add(ctx, "u1", meal("Oatmeal", 350), at(8))
	s, err := e.food.DailySummary(ctx, "u1", day)
	if err != nil {
		t.Fatalf("DailySummary failed: %v", err)
	}
	if s.Calories != 350 {
		t.Errorf("Expected 350 calories, got %v", s.Calories)
	}

	e.food.Add(ctx, "u1", meal("Pasta", 650), at(19))
	if s, _ := e.food.DailySummary(ctx, "u1", day); s.Calories != 1000 {
		t.Errorf("Expected the add to invalidate the summary, got %v", s.Calories)
	}

	w, err := e.food.WeeklySummary(ctx, "u1", day)
	if err != nil {
		t.Fatalf("WeeklySummary failed: %v", err)
	}
	if w.Totals.Calories != 1000 || w.WeekStart != "2024-03-04" {
		t.Errorf("Unexpected weekly summary: %+v", w)
	}
}

// TestFoodLogService_Refresh verifies a manual full sync adopts remote meals.
func TestFoodLogService_Refresh(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	now := e.now().UnixMilli()
	remoteMeal := &models.Record{
		ID: "from-phone", UserID: "u1", Kind: models.KindMeal,
		Timestamp: at(12), CreatedAt: now, UpdatedAt: now, Version: 1,
		History: []models.Revision{{Version: 1, UpdatedAt: now, Op: models.OpCreate}},
		Meal:    meal("Ramen", 800),
	}
	fields, err := remoteMeal.ToFields()
	if err != nil {
		t.Fatalf("ToFields failed: %v", err)
	}
	e.remote.Seed("u1", models.KindMeal, remoteMeal.ID, fields)

	result, err := e.food.Refresh(ctx, "u1")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Adopted != 1 {
		t.Errorf("Expected 1 adopted meal, got %d", result.Adopted)
	}
	if page := e.food.List(ctx, "u1", 1, 10); page.Total != 1 || !page.Items[0].IsSynced() {
		t.Errorf("Expected the synced remote meal, got %+v", page.Items)
	}

	e.remote.SetOffline(true)
	if _, err := e.food.Refresh(ctx, "u1"); !apperrors.IsConnectivity(err) || !strings.Contains(err.Error(), "could not refresh") {
		t.Errorf("Expected a generic connectivity error, got %v", err)
	}
}

// =====================================================
// WeightLogService Tests
// =====================================================

// TestWeightLogService_AddList verifies defaults and the limit.
func TestWeightLogService_AddList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i, w := range []float64{72, 71.5, 71} {
		if _, err := e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(w)}, at(i*24-72)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	list := e.weight.List(ctx, "u1", 2)
	if len(list) != 2 || models.Value(list[0].Weight.Weight) != 71 {
		t.Fatalf("Expected the 2 newest entries, got %d", len(list))
	}
	if list[0].Weight.Unit != UnitKg {
		t.Errorf("Expected the default unit kg, got %q", list[0].Weight.Unit)
	}
	if len(e.weight.List(ctx, "u1", 0)) != 3 {
		t.Error("Expected limit 0 to return everything")
	}

	if _, err := e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(-1)}, 0); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}

// TestWeightLogService_Stats verifies statistics, unit conversion and goal
// distance.
func TestWeightLogService_Stats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stats, err := e.weight.GetStats(ctx, "u1")
	if err != nil || stats.Count != 0 {
		t.Fatalf("Expected empty stats, got %+v, %v", stats, err)
	}

	// 80 kg two weeks ago, 176 lb (79.8 kg) a week ago, 79 kg today
	e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(80), Unit: UnitKg}, at(-14*24))
	e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(176), Unit: UnitLb}, at(-7*24))
	e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(79), Unit: UnitKg}, at(0))

	if goal, err := e.weight.GetGoal(ctx, "u1"); err != nil || goal != nil {
		t.Errorf("Expected no goal, got %+v, %v", goal, err)
	}
	if _, err := e.weight.SetGoal(ctx, "u1", models.WeightGoal{TargetWeight: 75}); err != nil {
		t.Fatalf("SetGoal failed: %v", err)
	}

	stats, err = e.weight.GetStats(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Count != 3 || stats.Unit != UnitKg {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Current != 79 || stats.Starting != 80 || stats.Change != -1 {
		t.Errorf("Unexpected current/starting/change: %+v", stats)
	}
	if stats.Min != 79 || stats.Max != 80 || stats.Average != 79.6 {
		t.Errorf("Unexpected min/max/average: %+v", stats)
	}
	if stats.WeeklyRate != -0.5 || stats.ToGoal != 4 {
		t.Errorf("Unexpected rate/goal: %+v", stats)
	}
}

// TestWeightLogService_Goal verifies goal validation and persistence.
func TestWeightLogService_Goal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.weight.SetGoal(ctx, "u1", models.WeightGoal{TargetWeight: 0}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR for a zero target, got %v", err)
	}
	if _, err := e.weight.SetGoal(ctx, "u1", models.WeightGoal{TargetWeight: 70, Unit: "stone"}); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected VALIDATION_ERROR for an unknown unit, got %v", err)
	}

	set, err := e.weight.SetGoal(ctx, "u1", models.WeightGoal{TargetWeight: 150, Unit: UnitLb})
	if err != nil {
		t.Fatalf("SetGoal failed: %v", err)
	}
	if set.SetAt != e.now().UnixMilli() {
		t.Errorf("SetAt = %d, want %d", set.SetAt, e.now().UnixMilli())
	}

	got, err := e.weight.GetGoal(ctx, "u1")
	if err != nil || got == nil || got.TargetWeight != 150 || got.Unit != UnitLb {
		t.Errorf("Expected the stored goal, got %+v, %v", got, err)
	}
	if other, _ := e.weight.GetGoal(ctx, "u2"); other != nil {
		t.Error("Goals must be per user")
	}
}

// TestWeightLogService_RangeAndRemove verifies remote range reads.
func TestWeightLogService_RangeAndRemove(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	old, _ := e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(81)}, at(-30*24))
	e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(80)}, at(-2*24))
	e.weight.Add(ctx, "u1", &models.WeightPayload{Weight: models.Float(79)}, at(0))

	recs, err := e.weight.Range(ctx, "u1", day.AddDate(0, 0, -7), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(recs) != 2 || models.Value(recs[0].Weight.Weight) != 80 {
		t.Errorf("Expected the 2 entries of the last week, oldest first, got %d", len(recs))
	}

	if err := e.weight.Remove(ctx, "u1", old.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(e.weight.List(ctx, "u1", 0)) != 2 {
		t.Error("Expected 2 entries after removal")
	}
	if err := e.weight.Remove(ctx, "u1", old.ID); !apperrors.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND for a second removal, got %v", err)
	}
}
