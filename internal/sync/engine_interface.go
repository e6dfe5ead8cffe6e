// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// SynchronizerInterface defines the interface for record synchronization.
// This interface allows for mocking in tests and alternative implementations.
type SynchronizerInterface interface {
	// Create stores a new record locally and pushes it remotely.
	Create(ctx context.Context, userID string, kind models.RecordKind, rec *models.Record) (*models.Record, error)

	// Update applies mutate to a stored record.
	Update(ctx context.Context, userID string, kind models.RecordKind, id string, mutate func(*models.Record) error) (*models.Record, error)

	// Delete removes a record locally and remotely.
	Delete(ctx context.Context, userID string, kind models.RecordKind, id string) error

	// Restore re-creates a removed record under its original id.
	Restore(ctx context.Context, rec *models.Record) (*models.Record, error)

	// Get returns one local record.
	Get(ctx context.Context, userID string, kind models.RecordKind, id string) (*models.Record, error)

	// List returns the local collection.
	List(ctx context.Context, userID string, kind models.RecordKind) localstore.Records

	// FullSync reconciles one collection with the remote store.
	FullSync(ctx context.Context, userID string, kind models.RecordKind) (*SyncResult, error)

	// FetchRange reads records in a time range straight from the remote store.
	FetchRange(ctx context.Context, userID string, kind models.RecordKind, start, end time.Time) ([]*models.Record, error)

	// SyncAll runs FullSync for every record kind.
	SyncAll(ctx context.Context, userID string) ([]*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last successful sync.
	LastSync() *time.Time

	// LastError returns the last error that occurred during sync.
	LastError() error
}
