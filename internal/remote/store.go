// Package remote adapts record operations to a per-user cloud document
// collection. Documents live at users/{userId}/{meals|weights}/{id}.
package remote

import (
	"context"
	"sort"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Document is one remote document.
type Document struct {
	ID     string
	Fields models.Fields
}

// SnapshotFunc receives the current document body, or nil once the document
// does not exist.
type SnapshotFunc func(fields models.Fields)

// Store is the remote document store.
type Store interface {
	// Put upserts one document. With merge, fields are merged into the
	// existing document instead of replacing it.
	Put(ctx context.Context, userID string, kind models.RecordKind, id string, fields models.Fields, merge bool) error

	// Get returns a NOT_FOUND error when the document is absent.
	Get(ctx context.Context, userID string, kind models.RecordKind, id string) (models.Fields, error)

	// Delete is idempotent.
	Delete(ctx context.Context, userID string, kind models.RecordKind, id string) error

	// QueryRange returns documents whose timestamp lies in [start, end],
	// ordered by timestamp. It may fail with INDEX_NOT_READY.
	QueryRange(ctx context.Context, userID string, kind models.RecordKind, start, end int64) ([]Document, error)

	// List returns the whole collection.
	List(ctx context.Context, userID string, kind models.RecordKind) ([]Document, error)

	// Subscribe calls fn once with the current state and again on every
	// change until the returned function is called.
	Subscribe(ctx context.Context, userID string, kind models.RecordKind, id string, fn SnapshotFunc) (unsubscribe func(), err error)
}

// QueryRangeWithFallback runs QueryRange and, when the index is not ready,
// scans the collection and filters client-side.
func QueryRangeWithFallback(ctx context.Context, s Store, userID string, kind models.RecordKind, start, end int64) ([]Document, error) {
	docs, err := s.QueryRange(ctx, userID, kind, start, end)
	if err == nil || !apperrors.Is(err, apperrors.ErrIndexNotReady) {
		return docs, err
	}

	logging.Warn("Range index not ready, falling back to collection scan",
		map[string]interface{}{"user_id": userID, "collection": kind.Collection()})

	all, err := s.List(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	return FilterRange(all, start, end), nil
}

// FilterRange keeps documents whose timestamp lies in [start, end], sorted by
// timestamp.
func FilterRange(docs []Document, start, end int64) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		ts, ok := Timestamp(d.Fields)
		if ok && ts >= start && ts <= end {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := Timestamp(out[i].Fields)
		tj, _ := Timestamp(out[j].Fields)
		return ti < tj
	})
	return out
}

// Timestamp reads the numeric timestamp field of a document.
func Timestamp(fields models.Fields) (int64, bool) {
	switch v := fields["timestamp"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func notFound(kind models.RecordKind, id string) error {
	return apperrors.Newf(apperrors.ErrNotFound, "%s/%s not found", kind.Collection(), id)
}
