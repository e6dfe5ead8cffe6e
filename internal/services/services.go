// Package services provides the food-log and weight-log services consumed by
// the desktop API, the mobile bindings and the CLI.
package services

import (
	"context"
	"sort"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// ValueStore persists small JSON settings. *localstore.Store satisfies it.
type ValueStore interface {
	LoadValue(ctx context.Context, key string, v interface{}) (bool, error)
	SaveValue(ctx context.Context, key string, v interface{}) error
}

// Summaries computes nutrition summaries. *aggregate.Cache satisfies it.
type Summaries interface {
	Daily(ctx context.Context, userID string, day time.Time) (*models.DailySummary, error)
	Weekly(ctx context.Context, userID string, day time.Time) (*models.WeeklySummary, error)
}

// userError hides the cause of a failure behind a generic message. The code
// is kept so transports can pick a status.
func userError(message string, err error, context map[string]interface{}) error {
	code := apperrors.CodeOf(err)
	if code == apperrors.ErrValidation || code == apperrors.ErrInvalid {
		return err
	}
	logging.ErrorWithCode(message, string(code), err, context)
	return &apperrors.AppError{Code: code, Message: message}
}

// newestFirst returns recs ordered by timestamp, newest first.
func newestFirst(recs localstore.Records) []*models.Record {
	out := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}
