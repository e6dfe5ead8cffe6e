package queue

import (
	"context"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
)

// RemoteApplier replays queued operations against a remote store.
type RemoteApplier struct {
	Store remote.Store
}

// Apply maps create to a full put, update to a merge put and delete to an
// idempotent delete.
func (a RemoteApplier) Apply(ctx context.Context, op *models.QueuedOperation) error {
	switch op.Kind {
	case models.OpCreate, models.OpUpdate:
		if op.Payload == nil {
			return apperrors.Newf(apperrors.ErrValidation, "queued %s of %s has no payload", op.Kind, op.RecordID)
		}
		return a.Store.Put(ctx, op.UserID, op.Collection, op.RecordID, op.Payload, op.Kind == models.OpUpdate)
	case models.OpDelete:
		return a.Store.Delete(ctx, op.UserID, op.Collection, op.RecordID)
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown queued operation kind %q", op.Kind)
	}
}
