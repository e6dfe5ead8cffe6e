package remote

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

func mealFields(id string, ts int64, calories float64) models.Fields {
	return models.Fields{
		"id":        id,
		"userId":    "u1",
		"kind":      "meal",
		"timestamp": float64(ts),
		"version":   float64(1),
		"meal":      map[string]interface{}{"name": "meal " + id, "calories": calories},
	}
}

// TestMemoryStore_PutGet verifies upsert and NOT_FOUND.
func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1", models.KindMeal, "m1"); !apperrors.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want NOT_FOUND", err)
	}

	f := mealFields("m1", 100, 350)
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", f, false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	// idempotent
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", f, false); err != nil {
		t.Fatalf("second Put() failed: %v", err)
	}

	got, err := s.Get(ctx, "u1", models.KindMeal, "m1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got["id"] != "m1" || s.Len("u1", models.KindMeal) != 1 {
		t.Errorf("Get() = %v", got)
	}

	// stored copy is independent of the caller's map
	f["id"] = "mutated"
	if got, _ := s.Get(ctx, "u1", models.KindMeal, "m1"); got["id"] != "m1" {
		t.Error("store aliased caller's map")
	}

	// users and kinds are partitioned
	if _, err := s.Get(ctx, "u2", models.KindMeal, "m1"); !apperrors.IsNotFound(err) {
		t.Error("other user should not see the document")
	}
	if _, err := s.Get(ctx, "u1", models.KindWeight, "m1"); !apperrors.IsNotFound(err) {
		t.Error("weights collection should not see the meal")
	}
}

// TestMemoryStore_merge verifies nested merge semantics.
func TestMemoryStore_merge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", mealFields("m1", 100, 350), false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	patch := models.Fields{"version": float64(2), "meal": map[string]interface{}{"calories": float64(400)}}
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", patch, true); err != nil {
		t.Fatalf("merge Put() failed: %v", err)
	}

	got := s.Doc("u1", models.KindMeal, "m1")
	meal := got["meal"].(map[string]interface{})
	if meal["calories"] != float64(400) || meal["name"] != "meal m1" || got["version"] != float64(2) {
		t.Errorf("merged doc = %v", got)
	}

	// without merge the document is replaced
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", patch, false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if _, ok := s.Doc("u1", models.KindMeal, "m1")["id"]; ok {
		t.Error("non-merge put should replace the document")
	}
}

// TestMemoryStore_Delete verifies idempotent deletes.
func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed("u1", models.KindMeal, "m1", mealFields("m1", 100, 350))

	if err := s.Delete(ctx, "u1", models.KindMeal, "m1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "u1", models.KindMeal, "m1"); err != nil {
		t.Errorf("Delete(missing) failed: %v", err)
	}
	if s.Doc("u1", models.KindMeal, "m1") != nil {
		t.Error("document should be gone")
	}
}

// TestMemoryStore_faults verifies offline and scripted failures.
func TestMemoryStore_faults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SetOffline(true)
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", mealFields("m1", 1, 1), false); !apperrors.IsConnectivity(err) {
		t.Errorf("offline Put() error = %v, want connectivity", err)
	}
	s.SetOffline(false)

	rejected := apperrors.New(apperrors.ErrSyncFailed, "permission denied")
	s.FailNext(OpPut, rejected)
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", mealFields("m1", 1, 1), false); !errors.Is(err, rejected) {
		t.Errorf("scripted Put() error = %v", err)
	}
	if err := s.Put(ctx, "u1", models.KindMeal, "m1", mealFields("m1", 1, 1), false); err != nil {
		t.Errorf("Put() after script drained = %v", err)
	}
	if s.Calls(OpPut) != 3 {
		t.Errorf("Calls(put) = %d, want 3", s.Calls(OpPut))
	}

	s.SetLoseWrites(true)
	if err := s.Put(ctx, "u1", models.KindMeal, "m2", mealFields("m2", 1, 1), false); err != nil {
		t.Fatalf("lost Put() should still acknowledge: %v", err)
	}
	if _, err := s.Get(ctx, "u1", models.KindMeal, "m2"); !apperrors.IsNotFound(err) {
		t.Error("lost write should not be readable")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.List(canceled, "u1", models.KindMeal); !apperrors.IsConnectivity(err) {
		t.Errorf("canceled List() error = %v", err)
	}
}

// TestQueryRangeWithFallback verifies range queries and the scan fallback.
func TestQueryRangeWithFallback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Seed("u1", models.KindMeal, "a", mealFields("a", 300, 1))
	s.Seed("u1", models.KindMeal, "b", mealFields("b", 100, 1))
	s.Seed("u1", models.KindMeal, "c", mealFields("c", 200, 1))
	s.Seed("u1", models.KindMeal, "d", mealFields("d", 400, 1))

	docs, err := QueryRangeWithFallback(ctx, s, "u1", models.KindMeal, 100, 300)
	if err != nil {
		t.Fatalf("QueryRangeWithFallback() failed: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "b" || docs[1].ID != "c" || docs[2].ID != "a" {
		t.Errorf("indexed docs = %v", ids(docs))
	}

	s.SetIndexNotReady(true)
	if _, err := s.QueryRange(ctx, "u1", models.KindMeal, 100, 300); !apperrors.Is(err, apperrors.ErrIndexNotReady) {
		t.Errorf("QueryRange() error = %v, want INDEX_NOT_READY", err)
	}
	docs, err = QueryRangeWithFallback(ctx, s, "u1", models.KindMeal, 100, 300)
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "b" || docs[2].ID != "a" {
		t.Errorf("fallback docs = %v", ids(docs))
	}
	if s.Calls(OpList) != 1 {
		t.Errorf("Calls(list) = %d, want 1", s.Calls(OpList))
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// TestMemoryStore_Subscribe verifies immediate and change deliveries.
func TestMemoryStore_Subscribe(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var got []models.Fields
	unsubscribe, err := s.Subscribe(ctx, "u1", models.KindMeal, "m1", func(f models.Fields) {
		got = append(got, f)
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	if err := s.Put(ctx, "u1", models.KindMeal, "m1", mealFields("m1", 1, 10), false); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := s.Delete(ctx, "u1", models.KindMeal, "m1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	unsubscribe()
	unsubscribe()
	s.Seed("u1", models.KindMeal, "m1", mealFields("m1", 1, 20))

	if len(got) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(got))
	}
	if got[0] != nil || got[1] == nil || got[2] != nil {
		t.Errorf("deliveries = %v, want nil, doc, nil", got)
	}
	if s.Subscribers("u1", models.KindMeal, "m1") != 0 {
		t.Error("unsubscribe should remove the subscriber")
	}
}

// TestFilterRange_missingTimestamp verifies documents without a timestamp are skipped.
func TestFilterRange_missingTimestamp(t *testing.T) {
	docs := []Document{{ID: "x", Fields: models.Fields{"id": "x"}}, {ID: "y", Fields: models.Fields{"timestamp": int64(5)}}}
	if out := FilterRange(docs, 0, 10); len(out) != 1 || out[0].ID != "y" {
		t.Errorf("FilterRange() = %v", ids(out))
	}
}
