// Package sync reconciles the local record store with the remote document
// store. Mutations are applied locally first and pushed remotely when the
// device is online; anything that cannot reach the remote store goes
// through the offline queue.
package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	"github.com/kimhsiao/fitsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fitsync/backend/internal/sync/retry"
	"github.com/kimhsiao/fitsync/backend/internal/telemetry"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
	"github.com/kimhsiao/fitsync/backend/internal/validate"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// Queue is the part of the offline queue the synchronizer needs.
// *queue.SyncQueue satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, op *models.QueuedOperation) error
	QueuedRecords(ctx context.Context, userID string, kind models.RecordKind) map[string]bool
	QueuedDeletes(ctx context.Context, userID string, kind models.RecordKind) map[string]bool
	DropDeletes(ctx context.Context, userID string, kind models.RecordKind, recordID string) (int, error)
}

// Cache is the aggregation cache invalidated after every mutation.
type Cache interface {
	InvalidateUser(userID string)
}

// Options configures a Synchronizer.
type Options struct {
	// Online reports connectivity. Nil means always online.
	Online func() bool
	// Write bounds create and update writes.
	Write retry.Policy
	// Fetch bounds full-sync collection fetches.
	Fetch retry.Policy
	Now   func() time.Time
	NewID uuid.Generator
}

// Synchronizer provides local-first record synchronization.
type Synchronizer struct {
	local     *localstore.Store
	remote    remote.Store
	queue     Queue
	cache     Cache
	validator *validate.Validator
	resolver  *conflict.Resolver
	subs      *remote.Subscriptions
	opts      Options

	syncing atomic.Bool

	mu       stdsync.RWMutex
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
	handler  EventHandler
}

// NewSynchronizer creates a new Synchronizer. cache may be nil.
func NewSynchronizer(local *localstore.Store, rs remote.Store, q Queue, cache Cache, opts Options) *Synchronizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Write.Attempts == 0 {
		opts.Write = retry.RemoteWrite()
	}
	if opts.Fetch.Attempts == 0 {
		opts.Fetch = retry.FullSyncFetch()
	}
	v := validate.New(opts.Now)
	return &Synchronizer{
		local:     local,
		remote:    rs,
		queue:     q,
		cache:     cache,
		validator: v,
		resolver:  conflict.NewResolver(v, opts.Now),
		subs:      remote.NewSubscriptions(rs),
		opts:      opts,
		status:    SyncStatusIdle,
	}
}

// Status returns the current sync status.
func (s *Synchronizer) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastSync returns the time of the last successful full sync.
func (s *Synchronizer) LastSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// LastError returns the last full-sync error.
func (s *Synchronizer) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// IsSyncing reports whether a full sync is running.
func (s *Synchronizer) IsSyncing() bool {
	return s.syncing.Load()
}

// Validator returns the validator shared by local and remote paths.
func (s *Synchronizer) Validator() *validate.Validator {
	return s.validator
}

func (s *Synchronizer) now() int64 {
	return s.opts.Now().UnixMilli()
}

func (s *Synchronizer) invalidate(userID string) {
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}
}

func (s *Synchronizer) enqueue(ctx context.Context, rec *models.Record, kind models.OperationType, priority models.Priority, payload models.Fields) {
	op := &models.QueuedOperation{
		UserID:     rec.UserID,
		Collection: rec.Kind,
		RecordID:   rec.ID,
		Kind:       kind,
		Payload:    payload,
		Priority:   priority,
	}
	if err := s.queue.Enqueue(context.WithoutCancel(ctx), op); err != nil {
		logging.Error("Failed to queue operation", err, map[string]interface{}{
			"record_id": rec.ID,
			"kind":      string(kind),
		})
	}
}

// putRemote writes fields and, for full writes, reads the document back.
func (s *Synchronizer) putRemote(ctx context.Context, name string, rec *models.Record, fields models.Fields, merge bool) error {
	return s.opts.Write.Do(ctx, name, func(ctx context.Context) error {
		err := s.remote.Put(ctx, rec.UserID, rec.Kind, rec.ID, fields, merge)
		if err == nil && !merge {
			_, err = s.remote.Get(ctx, rec.UserID, rec.Kind, rec.ID)
			if apperrors.IsNotFound(err) {
				err = apperrors.Newf(apperrors.ErrSyncFailed, "readback of %s found no document", rec.ID)
			}
		}
		if apperrors.Is(err, apperrors.ErrValidation) {
			return retry.Permanent(err)
		}
		return err
	})
}

// Create stores a new record locally and pushes it to the remote store.
// The returned record keeps its pending create until a full sync confirms it.
func (s *Synchronizer) Create(ctx context.Context, userID string, kind models.RecordKind, rec *models.Record) (*models.Record, error) {
	if rec == nil || !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, "a meal or weight record is required")
	}
	now := s.now()

	created := rec.Clone()
	created.ID = s.opts.NewID()
	created.UserID = userID
	created.Kind = kind
	if created.Timestamp == 0 {
		created.Timestamp = now
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Version = 1
	created.History = []models.Revision{{Version: 1, UpdatedAt: now, Op: models.OpCreate}}
	created.Conflicts = nil
	created.PendingOperations = nil
	created.AddPending(models.OpCreate, now)

	if err := s.validator.Check(created); err != nil {
		return nil, err
	}
	return s.store(ctx, created, "create", telemetry.KindCreateFailed)
}

// Restore re-creates a removed record under its original id. A delete of
// it still waiting in the queue is cancelled first.
func (s *Synchronizer) Restore(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if rec == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "nothing to restore")
	}
	now := s.now()

	restored := rec.Clone()
	restored.Touch(now, models.OpCreate)
	restored.PendingOperations = nil
	restored.AddPending(models.OpCreate, now)

	if err := s.validator.Check(restored); err != nil {
		return nil, err
	}
	if _, err := s.queue.DropDeletes(ctx, restored.UserID, restored.Kind, restored.ID); err != nil {
		return nil, err
	}
	return s.store(ctx, restored, "restore", telemetry.KindCreateFailed)
}

// store writes rec locally then remotely, queuing it on remote failure.
func (s *Synchronizer) store(ctx context.Context, rec *models.Record, name, failureKind string) (*models.Record, error) {
	if err := s.local.Put(ctx, rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to save record locally", err)
	}
	s.invalidate(rec.UserID)
	defer s.emit(Event{Type: EventRecordChanged, UserID: rec.UserID, Kind: rec.Kind, RecordID: rec.ID, Record: rec})

	fields, err := rec.ToFields()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode record", err)
	}

	if !s.opts.Online() {
		logging.Info("Offline, record queued", map[string]interface{}{"record_id": rec.ID, "operation": name})
		s.enqueue(ctx, rec, models.OpCreate, models.PriorityHigh, fields)
		return rec, nil
	}

	if err := s.putRemote(ctx, name, rec, fields, false); err != nil {
		telemetry.TrackError(failureKind, err, map[string]interface{}{
			"record_id": rec.ID,
			"kind":      string(rec.Kind),
		})
		s.enqueue(ctx, rec, models.OpCreate, models.PriorityHigh, fields)
		return rec, nil
	}

	logging.Debug("Record written remotely", map[string]interface{}{"record_id": rec.ID, "operation": name})
	return rec, nil
}

// Update applies mutate to a stored record. The local write always happens;
// a failed remote write is queued.
func (s *Synchronizer) Update(ctx context.Context, userID string, kind models.RecordKind, id string, mutate func(*models.Record) error) (*models.Record, error) {
	var updated *models.Record
	err := s.local.Modify(ctx, userID, kind, func(recs localstore.Records) error {
		current, ok := recs[id]
		if !ok {
			return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
		}
		next := current.Clone()
		if mutate != nil {
			if err := mutate(next); err != nil {
				return err
			}
		}
		// identity and bookkeeping are not caller-editable
		next.ID, next.UserID, next.Kind = current.ID, current.UserID, current.Kind
		next.CreatedAt, next.Version, next.History = current.CreatedAt, current.Version, current.History
		next.PendingOperations, next.Conflicts = current.PendingOperations, current.Conflicts

		now := s.now()
		next.Touch(now, models.OpUpdate)
		next.AddPending(models.OpUpdate, now)
		if err := s.validator.Check(next); err != nil {
			return err
		}
		recs[id] = next
		updated = next
		return nil
	})
	if err != nil {
		// updated is only set once the mutation succeeded, so this was the save
		if updated != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to update record", err)
		}
		return nil, err
	}
	s.invalidate(userID)
	defer s.emit(Event{Type: EventRecordChanged, UserID: userID, Kind: kind, RecordID: id, Record: updated})

	fields, err := updated.ToFields()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode record", err)
	}

	if !s.opts.Online() {
		s.enqueue(ctx, updated, models.OpUpdate, models.PriorityNormal, fields)
		return updated, nil
	}
	if err := s.putRemote(ctx, "update", updated, fields, true); err != nil {
		telemetry.TrackError(telemetry.KindUpdateFailed, err, map[string]interface{}{
			"record_id": id,
			"kind":      string(kind),
		})
		s.enqueue(ctx, updated, models.OpUpdate, models.PriorityNormal, fields)
	}
	return updated, nil
}

// Delete removes a record. Online, the remote document is deleted first;
// when that fails or the device is offline the local copy is still removed
// and a delete is queued. A SYNC_FAILED error is returned only when online
// and the remote store rejected the delete.
func (s *Synchronizer) Delete(ctx context.Context, userID string, kind models.RecordKind, id string) error {
	rec, ok := s.local.Get(ctx, userID, kind, id)
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	s.subs.Cancel(userID, kind, id)

	var remoteErr error
	if s.opts.Online() {
		remoteErr = s.remote.Delete(ctx, userID, kind, id)
	} else {
		remoteErr = apperrors.New(apperrors.ErrConnectivity, "offline")
	}

	if _, err := s.local.Delete(ctx, userID, kind, id); err != nil {
		logging.Error("Failed to remove record locally", err, map[string]interface{}{"record_id": id})
	}
	s.invalidate(userID)
	defer s.emit(Event{Type: EventRecordChanged, UserID: userID, Kind: kind, RecordID: id})

	if remoteErr == nil {
		return nil
	}

	s.enqueue(ctx, rec, models.OpDelete, models.PriorityHigh, nil)
	if apperrors.IsConnectivity(remoteErr) {
		return nil
	}
	telemetry.TrackError(telemetry.KindDeleteFailed, remoteErr, map[string]interface{}{
		"record_id": id,
		"kind":      string(kind),
	})
	return apperrors.Wrap(apperrors.ErrSyncFailed, "remote delete failed", remoteErr)
}

// Get returns one local record.
func (s *Synchronizer) Get(ctx context.Context, userID string, kind models.RecordKind, id string) (*models.Record, error) {
	rec, ok := s.local.Get(ctx, userID, kind, id)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "record %s not found", id)
	}
	return rec, nil
}

// List returns the local collection.
func (s *Synchronizer) List(ctx context.Context, userID string, kind models.RecordKind) localstore.Records {
	return s.local.GetAll(ctx, userID, kind)
}

// LoadUser runs the first full sync for a user once. It reports whether a
// sync ran.
func (s *Synchronizer) LoadUser(ctx context.Context, userID string) (bool, error) {
	if s.local.HasLoaded(ctx, userID) {
		return false, nil
	}
	if _, err := s.SyncAll(ctx, userID); err != nil {
		return true, err
	}
	if err := s.local.MarkLoaded(ctx, userID); err != nil {
		return true, apperrors.Wrap(apperrors.ErrDatabase, "failed to save first-load flag", err)
	}
	logging.Info("First load completed", map[string]interface{}{"user_id": userID})
	return true, nil
}

// SyncAll runs a full sync of every record kind for the user.
func (s *Synchronizer) SyncAll(ctx context.Context, userID string) ([]*SyncResult, error) {
	var results []*SyncResult
	for _, kind := range []models.RecordKind{models.KindMeal, models.KindWeight} {
		result, err := s.FullSync(ctx, userID, kind)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Close ends every live subscription.
func (s *Synchronizer) Close() {
	s.subs.CancelAll()
}

var _ SynchronizerInterface = (*Synchronizer)(nil)
