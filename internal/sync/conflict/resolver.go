// Package conflict merges a local record with the remote copy of the same id.
// Version is the only conflict signal; updatedAt breaks ties.
package conflict

import (
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// MaxConflictLogs bounds the audit trail kept on a record.
const MaxConflictLogs = 20

// Checker validates a merged record.
type Checker interface {
	Check(rec *models.Record) error
}

// Resolver handles conflict resolution during synchronization.
type Resolver struct {
	checker Checker
	now     func() time.Time
}

// NewResolver creates a new Resolver. now defaults to time.Now.
func NewResolver(checker Checker, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{checker: checker, now: now}
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	// Record is the copy that should be stored locally.
	Record  *models.Record
	Outcome models.Resolution
	// ConflictLog is set whenever the copies diverged.
	ConflictLog *models.ConflictLog
	// Err holds the integrity error of a rejected merge.
	Err error
}

// Adopted reports whether the remote copy became canonical.
func (r *ResolveResult) Adopted() bool {
	return r.Outcome == models.ResolutionAdopted || r.Outcome == models.ResolutionRemoteWins
}

// Resolve merges remote into local. local may be nil.
func (r *Resolver) Resolve(local, remote *models.Record) (*ResolveResult, error) {
	if remote == nil {
		return nil, ErrInvalidConflict
	}
	if local == nil {
		adopted := remote.Clone()
		adopted.Conflicts = nil
		adopted.MarkSynced()
		return &ResolveResult{Record: adopted, Outcome: models.ResolutionAdopted}, nil
	}
	if local.ID != remote.ID {
		return nil, ErrItemIDMismatch
	}

	switch {
	case remote.Version > local.Version:
		return r.adoptRemote(local, remote), nil
	case remote.Version == local.Version && remote.UpdatedAt > local.UpdatedAt:
		return r.adoptRemote(local, remote), nil
	case remote.Version == local.Version:
		return &ResolveResult{Record: local, Outcome: models.ResolutionKeptLocal}, nil
	default:
		// local carries unflushed edits; the queue still owes the remote a write
		log := r.conflictLog(local, remote, models.ResolutionLocalWins)
		logging.Debug("Local copy is ahead of remote", map[string]interface{}{
			"record_id":      local.ID,
			"local_version":  local.Version,
			"remote_version": remote.Version,
		})
		return &ResolveResult{Record: local, Outcome: models.ResolutionLocalWins, ConflictLog: log}, nil
	}
}

// adoptRemote takes the remote copy, carries over local pending operations
// and the audit trail, and re-validates the result.
func (r *Resolver) adoptRemote(local, remote *models.Record) *ResolveResult {
	log := r.conflictLog(local, remote, models.ResolutionRemoteWins)

	merged := remote.Clone()
	merged.PendingOperations = append([]models.PendingOperation(nil), local.PendingOperations...)
	if len(merged.PendingOperations) > 0 {
		merged.SyncStatus = models.SyncStatusPending
	} else {
		merged.SyncStatus = models.SyncStatusSynced
	}
	merged.Conflicts = appendLog(local.Conflicts, *log)

	if r.checker != nil {
		if err := r.checker.Check(merged); err != nil {
			rejected := r.conflictLog(local, remote, models.ResolutionIntegrityRejected)
			logging.Warn("Merge rejected, keeping local copy", map[string]interface{}{
				"record_id":      local.ID,
				"local_version":  local.Version,
				"remote_version": remote.Version,
				"error":          err.Error(),
			})
			return &ResolveResult{
				Record:      local,
				Outcome:     models.ResolutionIntegrityRejected,
				ConflictLog: rejected,
				Err:         apperrors.Wrap(apperrors.ErrIntegrity, "merged record failed validation", err),
			}
		}
	}

	logging.Info("Conflict resolved, remote copy adopted", map[string]interface{}{
		"record_id":         local.ID,
		"local_version":     local.Version,
		"remote_version":    remote.Version,
		"local_updated_at":  local.UpdatedAt,
		"remote_updated_at": remote.UpdatedAt,
		"pending":           len(merged.PendingOperations),
	})
	return &ResolveResult{Record: merged, Outcome: models.ResolutionRemoteWins, ConflictLog: log}
}

func (r *Resolver) conflictLog(local, remote *models.Record, res models.Resolution) *models.ConflictLog {
	return &models.ConflictLog{
		LocalVersion:    local.Version,
		RemoteVersion:   remote.Version,
		LocalUpdatedAt:  local.UpdatedAt,
		RemoteUpdatedAt: remote.UpdatedAt,
		Resolution:      res,
		ResolvedAt:      r.now().UnixMilli(),
	}
}

func appendLog(logs []models.ConflictLog, log models.ConflictLog) []models.ConflictLog {
	out := append(append([]models.ConflictLog(nil), logs...), log)
	if len(out) > MaxConflictLogs {
		out = out[len(out)-MaxConflictLogs:]
	}
	return out
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: remote record must be non-nil"}
	ErrItemIDMismatch  = &ConflictError{Message: "item ID mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
