package sync

import (
	"context"
	"errors"
	"sort"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/remote"
	"github.com/kimhsiao/fitsync/backend/internal/telemetry"
)

// SyncResult represents the result of a full sync.
type SyncResult struct {
	UserID    string            `json:"userId"`
	Kind      models.RecordKind `json:"kind"`
	StartTime time.Time         `json:"startTime"`
	EndTime   time.Time         `json:"endTime"`
	Duration  time.Duration     `json:"duration"`
	Skipped   bool              `json:"skipped,omitempty"`

	Fetched          int `json:"fetched"`
	Merged           int `json:"merged"`
	Adopted          int `json:"adopted"`
	ValidationErrors int `json:"validationErrors"`
	IntegrityErrors  int `json:"integrityErrors"`
	Duplicates       int `json:"duplicates"`
	Repaired         int `json:"repaired"`
	Removed          int `json:"removed"`
	Settled          int `json:"settled"`
	Pruned           int `json:"pruned"`

	Error string `json:"error,omitempty"`
}

// stamp identifies the state of a local record when a sync pass read it.
type stamp struct {
	version   int
	updatedAt int64
	pending   int
}

func stampOf(rec *models.Record) stamp {
	return stamp{version: rec.Version, updatedAt: rec.UpdatedAt, pending: len(rec.PendingOperations)}
}

// FullSync reconciles the user's local collection of kind with the remote
// store. Only one full sync runs at a time; a concurrent call returns a
// skipped result.
func (s *Synchronizer) FullSync(ctx context.Context, userID string, kind models.RecordKind) (*SyncResult, error) {
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown record kind %q", kind)
	}
	if !s.syncing.CompareAndSwap(false, true) {
		metrics.ObserveSync(kind.Collection(), metrics.SyncSkipped, 0)
		logging.Debug("Full sync already in progress, skipping",
			map[string]interface{}{"user_id": userID, "kind": string(kind)})
		return &SyncResult{UserID: userID, Kind: kind, Skipped: true}, nil
	}
	defer s.syncing.Store(false)

	s.mu.Lock()
	s.status = SyncStatusSyncing
	s.mu.Unlock()

	started := time.Now()
	result := &SyncResult{UserID: userID, Kind: kind, StartTime: s.opts.Now()}
	s.emit(Event{Type: EventSyncStarted, UserID: userID, Kind: kind})

	err := s.fullSync(ctx, result)
	result.EndTime = s.opts.Now()
	result.Duration = time.Since(started)

	if err != nil {
		result.Error = err.Error()
		s.mu.Lock()
		s.status = SyncStatusFailed
		s.lastErr = err
		s.mu.Unlock()

		metrics.ObserveSync(kind.Collection(), metrics.SyncFailed, result.Duration)
		telemetry.TrackError(telemetry.KindSyncFailed, err, map[string]interface{}{
			"user_id": userID,
			"kind":    string(kind),
		})
		s.emit(Event{Type: EventSyncFailed, UserID: userID, Kind: kind, Result: result, Error: err.Error()})
		return result, err
	}

	s.mu.Lock()
	s.status = SyncStatusIdle
	s.lastErr = nil
	end := result.EndTime
	s.lastSync = &end
	s.mu.Unlock()

	metrics.ObserveSync(kind.Collection(), metrics.SyncSucceeded, result.Duration)
	logging.Info("Full sync completed", map[string]interface{}{
		"user_id":           userID,
		"kind":              string(kind),
		"fetched":           result.Fetched,
		"merged":            result.Merged,
		"adopted":           result.Adopted,
		"validation_errors": result.ValidationErrors,
		"integrity_errors":  result.IntegrityErrors,
		"duplicates":        result.Duplicates,
		"repaired":          result.Repaired,
		"removed":           result.Removed,
		"settled":           result.Settled,
		"pruned":            result.Pruned,
		"duration_ms":       result.Duration.Milliseconds(),
	})
	s.emit(Event{Type: EventSyncCompleted, UserID: userID, Kind: kind, Result: result})
	return result, nil
}

func (s *Synchronizer) fullSync(ctx context.Context, result *SyncResult) error {
	userID, kind := result.UserID, result.Kind

	working := s.local.GetAll(ctx, userID, kind)
	base := make(map[string]stamp, len(working))
	for id, rec := range working {
		base[id] = stampOf(rec)
	}

	s.repair(ctx, working, result)

	var docs []remote.Document
	err := s.opts.Fetch.Do(ctx, "full_sync_fetch", func(ctx context.Context) error {
		d, err := s.remote.List(ctx, userID, kind)
		if err != nil {
			return err
		}
		docs = d
		return nil
	})
	if err != nil {
		// repairs are local decisions and are kept even when the fetch fails
		if result.Repaired+result.Removed > 0 {
			if cerr := s.commit(ctx, userID, kind, base, working); cerr != nil {
				logging.Error("Failed to save repaired records", cerr)
			}
			s.invalidate(userID)
		}
		return err
	}
	result.Fetched = len(docs)

	// a queued delete is terminal; the remote copy is about to go
	tombstones := s.queue.QueuedDeletes(ctx, userID, kind)
	seen, confirmed := s.merge(docs, working, tombstones, result)

	queued := s.queue.QueuedRecords(ctx, userID, kind)
	for id, version := range confirmed {
		rec := working[id]
		if rec.Version == version && !queued[id] && !rec.IsSynced() {
			rec = rec.Clone()
			rec.MarkSynced()
			working[id] = rec
			result.Settled++
		}
	}
	for id, rec := range working {
		if seen[id] || queued[id] || !rec.IsSynced() {
			continue
		}
		// confirmed earlier, gone remotely and nothing local is owed
		delete(working, id)
		result.Pruned++
	}

	if err := s.commit(ctx, userID, kind, base, working); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save merged records", err)
	}
	s.invalidate(userID)
	return nil
}

// repair re-fetches every local record that fails validation. A valid remote
// copy replaces it; otherwise it is deleted. Records are kept as they are
// when the remote store cannot be reached.
func (s *Synchronizer) repair(ctx context.Context, working localstore.Records, result *SyncResult) {
	ids := make([]string, 0, len(working))
	for id := range working {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := working[id]
		checkErr := s.validator.Check(rec)
		if checkErr == nil {
			continue
		}
		metrics.RecordValidationError(result.Kind.Collection(), "local")

		fields, err := s.remote.Get(ctx, result.UserID, result.Kind, id)
		if err != nil && !apperrors.IsNotFound(err) {
			logging.Warn("Invalid local record kept, remote copy unavailable", map[string]interface{}{
				"record_id": id,
				"error":     err.Error(),
			})
			continue
		}

		if err == nil {
			fixed, derr := s.validator.Decode(id, fields)
			if derr == nil {
				fixed.MarkSynced()
				working[id] = fixed
				result.Repaired++
				logging.Info("Invalid local record repaired from remote", map[string]interface{}{
					"record_id": id,
					"problem":   checkErr.Error(),
				})
				continue
			}
		}

		delete(working, id)
		result.Removed++
		logging.Warn("Invalid local record removed", map[string]interface{}{
			"record_id": id,
			"problem":   checkErr.Error(),
		})
	}
}

// merge folds remote documents into working, skipping ids in tombstones. It
// returns the ids present remotely and the remote version of every document
// that merged cleanly.
func (s *Synchronizer) merge(docs []remote.Document, working localstore.Records, tombstones map[string]bool, result *SyncResult) (map[string]bool, map[string]int) {
	collection := result.Kind.Collection()
	seen := make(map[string]bool, len(docs))
	confirmed := make(map[string]int, len(docs))

	for _, doc := range docs {
		if tombstones[doc.ID] {
			logging.Debug("Remote document has a queued delete, skipped", map[string]interface{}{"record_id": doc.ID})
			continue
		}
		if seen[doc.ID] {
			result.Duplicates++
			logging.Warn("Duplicate document in one sync pass skipped", map[string]interface{}{
				"record_id": doc.ID,
				"kind":      string(result.Kind),
			})
			continue
		}
		seen[doc.ID] = true

		rec, err := s.validator.Decode(doc.ID, doc.Fields)
		if err == nil && (rec.UserID != result.UserID || rec.Kind != result.Kind) {
			err = apperrors.Newf(apperrors.ErrValidation, "document %s belongs to %s/%s", doc.ID, rec.UserID, rec.Kind)
		}
		if err != nil {
			result.ValidationErrors++
			metrics.RecordValidationError(collection, "remote")
			logging.Warn("Invalid remote document skipped", map[string]interface{}{
				"record_id": doc.ID,
				"error":     err.Error(),
			})
			continue
		}

		res, err := s.resolver.Resolve(working[doc.ID], rec)
		if err != nil {
			logging.Warn("Conflict resolution failed", map[string]interface{}{"record_id": doc.ID, "error": err.Error()})
			continue
		}
		metrics.RecordMerge(collection, string(res.Outcome))

		if res.Err != nil {
			result.IntegrityErrors++
			metrics.RecordIntegrityError(collection)
			telemetry.TrackError(telemetry.KindIntegrity, res.Err, map[string]interface{}{
				"record_id":      doc.ID,
				"local_version":  res.ConflictLog.LocalVersion,
				"remote_version": res.ConflictLog.RemoteVersion,
			})
			continue
		}

		working[doc.ID] = res.Record
		confirmed[doc.ID] = rec.Version
		result.Merged++
		if res.Adopted() {
			result.Adopted++
		}
	}
	return seen, confirmed
}

// commit writes working back, leaving alone every record that changed
// locally since the pass read it.
func (s *Synchronizer) commit(ctx context.Context, userID string, kind models.RecordKind, base map[string]stamp, working localstore.Records) error {
	return s.local.Modify(ctx, userID, kind, func(current localstore.Records) error {
		ids := make(map[string]bool, len(base)+len(working))
		for id := range base {
			ids[id] = true
		}
		for id := range working {
			ids[id] = true
		}

		for id := range ids {
			cur, inCurrent := current[id]
			was, inBase := base[id]
			if inBase != inCurrent || (inBase && stampOf(cur) != was) {
				logging.Debug("Record changed during sync, keeping local write", map[string]interface{}{"record_id": id})
				continue
			}
			if rec, ok := working[id]; ok {
				current[id] = rec
			} else {
				delete(current, id)
			}
		}
		return nil
	})
}

// errNoChange aborts a Modify without writing.
var errNoChange = errors.New("no change")

// Watch subscribes to one remote document. Each snapshot is merged into the
// local store through conflict resolution and the resulting record, or nil
// once the record is gone, is passed to fn.
func (s *Synchronizer) Watch(ctx context.Context, userID string, kind models.RecordKind, id string, fn func(*models.Record)) error {
	return s.subs.Subscribe(ctx, userID, kind, id, func(fields models.Fields) {
		rec := s.applySnapshot(context.WithoutCancel(ctx), userID, kind, id, fields)
		if fn != nil {
			fn(rec)
		}
	})
}

// Unwatch ends the subscription to a document.
func (s *Synchronizer) Unwatch(userID string, kind models.RecordKind, id string) {
	s.subs.Cancel(userID, kind, id)
}

func (s *Synchronizer) applySnapshot(ctx context.Context, userID string, kind models.RecordKind, id string, fields models.Fields) *models.Record {
	if s.queue.QueuedDeletes(ctx, userID, kind)[id] {
		return nil
	}
	queued := s.queue.QueuedRecords(ctx, userID, kind)[id]

	var out *models.Record
	err := s.local.Modify(ctx, userID, kind, func(recs localstore.Records) error {
		local := recs[id]
		out = local

		if fields == nil {
			if local != nil && local.IsSynced() && !queued {
				delete(recs, id)
				out = nil
				return nil
			}
			return errNoChange
		}

		remoteRec, err := s.validator.Decode(id, fields)
		if err != nil {
			metrics.RecordValidationError(kind.Collection(), "snapshot")
			logging.Warn("Invalid snapshot ignored", map[string]interface{}{"record_id": id, "error": err.Error()})
			return errNoChange
		}
		res, err := s.resolver.Resolve(local, remoteRec)
		if err != nil {
			return errNoChange
		}
		metrics.RecordMerge(kind.Collection(), string(res.Outcome))
		if res.Err != nil {
			metrics.RecordIntegrityError(kind.Collection())
			return errNoChange
		}

		merged := res.Record
		if merged.Version == remoteRec.Version && !queued && !merged.IsSynced() {
			merged = merged.Clone()
			merged.MarkSynced()
		}
		if merged == local {
			return errNoChange
		}
		recs[id] = merged
		out = merged
		return nil
	})

	switch {
	case errors.Is(err, errNoChange):
	case err != nil:
		logging.Error("Failed to apply snapshot", err, map[string]interface{}{"record_id": id})
	default:
		s.invalidate(userID)
		s.emit(Event{Type: EventRecordChanged, UserID: userID, Kind: kind, RecordID: id, Record: out})
	}
	return out
}

// FetchRange reads remote records of kind with timestamps in [start, end].
// Documents that fail validation are skipped.
func (s *Synchronizer) FetchRange(ctx context.Context, userID string, kind models.RecordKind, start, end time.Time) ([]*models.Record, error) {
	var docs []remote.Document
	err := s.opts.Fetch.Do(ctx, "range_fetch", func(ctx context.Context) error {
		d, err := remote.QueryRangeWithFallback(ctx, s.remote, userID, kind, start.UnixMilli(), end.UnixMilli())
		if err != nil {
			return err
		}
		docs = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := s.validator.Decode(doc.ID, doc.Fields)
		if err != nil {
			metrics.RecordValidationError(kind.Collection(), "remote")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
