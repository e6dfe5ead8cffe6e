package remote

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// TestSubscriptions_replace verifies one live subscription per document.
func TestSubscriptions_replace(t *testing.T) {
	s := NewMemoryStore()
	subs := NewSubscriptions(s)
	ctx := context.Background()

	var first, second int
	if err := subs.Subscribe(ctx, "u1", models.KindMeal, "m1", func(models.Fields) { first++ }); err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if err := subs.Subscribe(ctx, "u1", models.KindMeal, "m1", func(models.Fields) { second++ }); err != nil {
		t.Fatalf("second Subscribe() failed: %v", err)
	}
	if s.Subscribers("u1", models.KindMeal, "m1") != 1 || subs.Len() != 1 {
		t.Fatalf("subscribers = %d, want 1", s.Subscribers("u1", models.KindMeal, "m1"))
	}

	s.Seed("u1", models.KindMeal, "m1", mealFields("m1", 1, 1))
	if first != 1 || second != 2 {
		t.Errorf("first = %d, second = %d, want 1 and 2", first, second)
	}

	if err := subs.Subscribe(ctx, "u1", models.KindMeal, "m2", func(models.Fields) {}); err != nil {
		t.Fatalf("Subscribe(m2) failed: %v", err)
	}
	subs.CancelAll()
	if subs.Len() != 0 || s.Subscribers("u1", models.KindMeal, "m1") != 0 {
		t.Error("CancelAll should end every subscription")
	}
}

// TestSubscriptions_offline verifies subscribe errors surface.
func TestSubscriptions_offline(t *testing.T) {
	s := NewMemoryStore()
	s.SetOffline(true)
	subs := NewSubscriptions(s)

	err := subs.Subscribe(context.Background(), "u1", models.KindMeal, "m1", func(models.Fields) {})
	if !apperrors.IsConnectivity(err) {
		t.Errorf("Subscribe() error = %v, want connectivity", err)
	}
	if subs.Len() != 0 {
		t.Error("failed subscription should not be registered")
	}
}

// TestPollingWatcher verifies deterministic change delivery.
func TestPollingWatcher(t *testing.T) {
	s := NewMemoryStore()
	w := NewPollingWatcher(s)
	ctx := context.Background()

	var got []models.Fields
	unwatch := w.Watch("u1", models.KindMeal, "m1", func(f models.Fields) { got = append(got, f) })

	if err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("first poll = %v, want one nil delivery", got)
	}

	// unchanged state is not redelivered
	if err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("deliveries = %d after unchanged poll", len(got))
	}

	s.Seed("u1", models.KindMeal, "m1", mealFields("m1", 1, 100))
	if err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if len(got) != 2 || got[1]["id"] != "m1" {
		t.Errorf("deliveries = %v", got)
	}

	unwatch()
	s.Remove("u1", models.KindMeal, "m1")
	if err := w.Poll(ctx); err != nil {
		t.Fatalf("Poll() failed: %v", err)
	}
	if len(got) != 2 || w.Len() != 0 {
		t.Error("unwatched document should not be delivered")
	}
}

// TestPollingWatcher_error verifies transport errors stop the poll.
func TestPollingWatcher_error(t *testing.T) {
	s := NewMemoryStore()
	w := NewPollingWatcher(s)
	w.Watch("u1", models.KindMeal, "m1", func(models.Fields) {})

	s.SetOffline(true)
	if err := w.Poll(context.Background()); !apperrors.IsConnectivity(err) {
		t.Errorf("Poll() error = %v, want connectivity", err)
	}
}

// TestClassify verifies gRPC status mapping.
func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want apperrors.ErrorCode
	}{
		{status.Error(codes.NotFound, "missing"), apperrors.ErrNotFound},
		{status.Error(codes.FailedPrecondition, "index"), apperrors.ErrIndexNotReady},
		{status.Error(codes.Unavailable, "down"), apperrors.ErrConnectivity},
		{status.Error(codes.DeadlineExceeded, "slow"), apperrors.ErrConnectivity},
		{status.Error(codes.InvalidArgument, "bad"), apperrors.ErrValidation},
		{status.Error(codes.PermissionDenied, "rules"), apperrors.ErrSyncFailed},
		{context.DeadlineExceeded, apperrors.ErrConnectivity},
		{errors.New("other"), apperrors.ErrSyncFailed},
	}
	for _, tt := range tests {
		if got := apperrors.CodeOf(classify("op", tt.err)); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if classify("op", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
