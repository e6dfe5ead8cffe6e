// Package queue buffers mutations that could not reach the remote store and
// flushes them when connectivity returns.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/telemetry"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
)

// StorageKey is the local key holding the persisted queue.
const StorageKey = "offline_queue"

// MaxRetries is how many non-connectivity failures an operation survives.
const MaxRetries = 3

// Persister stores the queue. *localstore.Store satisfies it.
type Persister interface {
	LoadValue(ctx context.Context, key string, v interface{}) (bool, error)
	SaveValue(ctx context.Context, key string, v interface{}) error
}

// Applier applies one operation to the remote store.
type Applier interface {
	Apply(ctx context.Context, op *models.QueuedOperation) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, op *models.QueuedOperation) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, op *models.QueuedOperation) error {
	return f(ctx, op)
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Skipped   bool `json:"skipped"`
	Aborted   bool `json:"aborted"`
	Applied   int  `json:"applied"`
	Retried   int  `json:"retried"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
}

// Stats describes the queue contents.
type Stats struct {
	Total    int   `json:"total"`
	High     int   `json:"high"`
	Normal   int   `json:"normal"`
	Low      int   `json:"low"`
	Retrying int   `json:"retrying"`
	Oldest   int64 `json:"oldest,omitempty"`
}

// Options configures a SyncQueue.
type Options struct {
	// MaxSize caps the queue; zero means unbounded.
	MaxSize int
	// Online reports connectivity; Enqueue drains immediately when it is true.
	Online func() bool
	// OnDrained is called after every drain pass that was not skipped.
	OnDrained func(DrainResult)
	Now       func() time.Time
	NewID     uuid.Generator
}

// SyncQueue is the offline operation queue.
type SyncQueue struct {
	store   Persister
	applier Applier
	opts    Options

	// mu serializes every load-modify-save of the persisted list.
	mu       sync.Mutex
	draining atomic.Bool
	wg       sync.WaitGroup
}

// NewSyncQueue creates a new SyncQueue.
func NewSyncQueue(store Persister, applier Applier, opts Options) *SyncQueue {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.Online == nil {
		opts.Online = func() bool { return false }
	}
	return &SyncQueue{store: store, applier: applier, opts: opts}
}

// load reads the persisted list. An undecodable list is treated as empty
// and overwritten by the next save.
func (q *SyncQueue) load(ctx context.Context) ([]*models.QueuedOperation, error) {
	var ops []*models.QueuedOperation
	if _, err := q.store.LoadValue(ctx, StorageKey, &ops); err != nil {
		if errors.Is(err, localstore.ErrCorrupt) {
			logging.Warn("Offline queue unreadable, starting empty", map[string]interface{}{
				"key":   StorageKey,
				"error": err.Error(),
			})
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load offline queue", err)
	}
	return ops, nil
}

func sameRecord(a, b *models.QueuedOperation) bool {
	return a.RecordID == b.RecordID && a.UserID == b.UserID && a.Collection == b.Collection
}

func (q *SyncQueue) save(ctx context.Context, ops []*models.QueuedOperation) error {
	if ops == nil {
		ops = []*models.QueuedOperation{}
	}
	if err := q.store.SaveValue(ctx, StorageKey, ops); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save offline queue", err)
	}
	metrics.SetQueueDepth(len(ops))
	return nil
}

// Enqueue appends op and, when online, starts a background drain.
// A delete supersedes queued creates and updates of the same record; a
// create supersedes a queued delete of it.
func (q *SyncQueue) Enqueue(ctx context.Context, op *models.QueuedOperation) error {
	if op.ID == "" {
		op.ID = q.opts.NewID()
	}
	if op.Timestamp == 0 {
		op.Timestamp = q.opts.Now().UnixMilli()
	}

	q.mu.Lock()
	ops, err := q.load(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	if op.Kind == models.OpDelete || op.Kind == models.OpCreate {
		kept := ops[:0]
		for _, existing := range ops {
			if sameRecord(existing, op) && (op.Kind == models.OpDelete || existing.Kind == models.OpDelete) {
				logging.Debug("Queued operation superseded",
					map[string]interface{}{"operation_id": existing.ID, "record_id": op.RecordID, "by": string(op.Kind)})
				continue
			}
			kept = append(kept, existing)
		}
		ops = kept
	}

	if q.opts.MaxSize > 0 && len(ops) >= q.opts.MaxSize {
		q.mu.Unlock()
		return apperrors.Newf(apperrors.ErrInternal, "offline queue is full (max size: %d)", q.opts.MaxSize)
	}

	ops = append(ops, op)
	err = q.save(ctx, ops)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	logging.Info("Operation queued", map[string]interface{}{
		"operation_id": op.ID,
		"kind":         string(op.Kind),
		"record_id":    op.RecordID,
		"priority":     op.Priority.String(),
	})

	if q.opts.Online() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.Drain(context.Background())
		}()
	}
	return nil
}

// sortOps orders by priority, then timestamp, keeping insertion order for ties.
func sortOps(ops []*models.QueuedOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority < ops[j].Priority
		}
		return ops[i].Timestamp < ops[j].Timestamp
	})
}

// Drain applies queued operations in order. Only one pass runs at a time;
// a concurrent call returns a skipped result.
func (q *SyncQueue) Drain(ctx context.Context) DrainResult {
	if !q.draining.CompareAndSwap(false, true) {
		logging.Debug("Queue drain already in progress, skipping")
		return DrainResult{Skipped: true}
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	ops, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		logging.Error("Queue drain could not load the queue", err)
		return DrainResult{Aborted: true}
	}
	if len(ops) == 0 {
		return DrainResult{}
	}
	sortOps(ops)

	var result DrainResult
	removed := make(map[string]bool)
	updated := make(map[string]*models.QueuedOperation)

	for _, op := range ops {
		if ctx.Err() != nil {
			result.Aborted = true
			break
		}

		err := q.applier.Apply(ctx, op)
		if err == nil {
			removed[op.ID] = true
			result.Applied++
			continue
		}

		if apperrors.IsConnectivity(err) {
			logging.Info("Queue drain aborted, backend unreachable",
				map[string]interface{}{"operation_id": op.ID, "error": err.Error()})
			result.Aborted = true
			break
		}

		op.RetryCount++
		op.LastError = err.Error()
		if op.RetryCount > MaxRetries {
			removed[op.ID] = true
			result.Dropped++
			ctx := map[string]interface{}{
				"operation_id": op.ID,
				"kind":         string(op.Kind),
				"record_id":    op.RecordID,
				"collection":   string(op.Collection),
				"retry_count":  op.RetryCount,
			}
			logging.ErrorWithCode("Queued operation failed permanently", string(apperrors.ErrQueueTerminal), err, ctx)
			telemetry.TrackError(telemetry.KindQueueTerminal, err, ctx)
			continue
		}

		updated[op.ID] = op
		result.Retried++
		logging.Warn("Queued operation failed, will retry", map[string]interface{}{
			"operation_id": op.ID,
			"retry":        fmt.Sprintf("%d/%d", op.RetryCount, MaxRetries),
			"error":        err.Error(),
		})
	}

	// Reload so operations enqueued during the pass are kept.
	q.mu.Lock()
	current, err := q.load(context.WithoutCancel(ctx))
	if err == nil {
		next := make([]*models.QueuedOperation, 0, len(current))
		for _, op := range current {
			if removed[op.ID] {
				continue
			}
			if u, ok := updated[op.ID]; ok {
				op.RetryCount = u.RetryCount
				op.LastError = u.LastError
			}
			next = append(next, op)
		}
		err = q.save(context.WithoutCancel(ctx), next)
		result.Remaining = len(next)
	}
	q.mu.Unlock()
	if err != nil {
		logging.Error("Queue drain could not persist the queue", err)
	}

	metrics.AddQueueOutcome(metrics.QueueApplied, result.Applied)
	metrics.AddQueueOutcome(metrics.QueueRetried, result.Retried)
	metrics.AddQueueOutcome(metrics.QueueDropped, result.Dropped)
	if result.Aborted {
		metrics.AddQueueOutcome(metrics.QueueAborted, 1)
	}

	logging.Info("Queue drain completed", map[string]interface{}{
		"applied":   result.Applied,
		"retried":   result.Retried,
		"dropped":   result.Dropped,
		"remaining": result.Remaining,
		"aborted":   result.Aborted,
	})

	if q.opts.OnDrained != nil {
		q.opts.OnDrained(result)
	}
	return result
}

// IsDraining reports whether a drain pass is running.
func (q *SyncQueue) IsDraining() bool {
	return q.draining.Load()
}

// Wait blocks until background drains started by Enqueue finish.
func (q *SyncQueue) Wait() {
	q.wg.Wait()
}

// List returns the queued operations in drain order.
func (q *SyncQueue) List(ctx context.Context) ([]*models.QueuedOperation, error) {
	q.mu.Lock()
	ops, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sortOps(ops)
	return ops, nil
}

// Size returns the number of queued operations.
func (q *SyncQueue) Size(ctx context.Context) int {
	ops, err := q.List(ctx)
	if err != nil {
		return 0
	}
	return len(ops)
}

// Has reports whether any operation for the record is queued.
func (q *SyncQueue) Has(ctx context.Context, userID string, kind models.RecordKind, recordID string) bool {
	ops, err := q.List(ctx)
	if err != nil {
		return false
	}
	for _, op := range ops {
		if op.RecordID == recordID && op.UserID == userID && op.Collection == kind {
			return true
		}
	}
	return false
}

// QueuedRecords returns the ids of records with queued operations for a
// user's collection.
func (q *SyncQueue) QueuedRecords(ctx context.Context, userID string, kind models.RecordKind) map[string]bool {
	ops, err := q.List(ctx)
	out := make(map[string]bool)
	if err != nil {
		return out
	}
	for _, op := range ops {
		if op.UserID == userID && op.Collection == kind {
			out[op.RecordID] = true
		}
	}
	return out
}

// QueuedDeletes returns the ids of records with a queued delete for a
// user's collection.
func (q *SyncQueue) QueuedDeletes(ctx context.Context, userID string, kind models.RecordKind) map[string]bool {
	ops, err := q.List(ctx)
	out := make(map[string]bool)
	if err != nil {
		return out
	}
	for _, op := range ops {
		if op.UserID == userID && op.Collection == kind && op.Kind == models.OpDelete {
			out[op.RecordID] = true
		}
	}
	return out
}

// DropDeletes removes queued deletes of one record and returns how many
// were removed.
func (q *SyncQueue) DropDeletes(ctx context.Context, userID string, kind models.RecordKind, recordID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	kept := ops[:0]
	for _, op := range ops {
		if op.Kind == models.OpDelete && op.RecordID == recordID && op.UserID == userID && op.Collection == kind {
			continue
		}
		kept = append(kept, op)
	}
	dropped := len(ops) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	if err := q.save(ctx, kept); err != nil {
		return 0, err
	}
	logging.Debug("Queued delete dropped", map[string]interface{}{"record_id": recordID, "count": dropped})
	return dropped, nil
}

// Stats returns queue statistics.
func (q *SyncQueue) Stats(ctx context.Context) Stats {
	ops, err := q.List(ctx)
	var s Stats
	if err != nil {
		return s
	}
	for _, op := range ops {
		s.Total++
		switch op.Priority {
		case models.PriorityHigh:
			s.High++
		case models.PriorityNormal:
			s.Normal++
		default:
			s.Low++
		}
		if op.RetryCount > 0 {
			s.Retrying++
		}
		if s.Oldest == 0 || op.Timestamp < s.Oldest {
			s.Oldest = op.Timestamp
		}
	}
	return s
}

// Clear removes all operations.
func (q *SyncQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.save(ctx, nil); err != nil {
		return err
	}
	logging.Info("Offline queue cleared")
	return nil
}
