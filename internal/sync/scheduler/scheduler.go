// Package scheduler runs opportunistic background sync: a periodic full
// resync of the signed-in user and a periodic queue drain, both only while
// online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
)

// Syncer runs a full resync of every collection of a user.
type Syncer interface {
	SyncAll(ctx context.Context, userID string) ([]*syncpkg.SyncResult, error)
}

// Drainer is the offline queue as seen by the scheduler.
type Drainer interface {
	Drain(ctx context.Context) queue.DrainResult
	Size(ctx context.Context) int
	Stats(ctx context.Context) queue.Stats
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine          Syncer
	queue           Drainer
	syncInterval    time.Duration
	queueInterval   time.Duration
	syncTimeout     time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.RWMutex
	isRunning       bool
	isOnline        bool
	userID          string
	lastSyncTime    time.Time
	lastErr         error
	syncInProgress  bool
	queueInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval  time.Duration `yaml:"sync_interval"`  // full resync while online (default: 15 minutes)
	QueueInterval time.Duration `yaml:"queue_interval"` // queue drain while online (default: 1 minute)
	SyncTimeout   time.Duration `yaml:"sync_timeout"`   // bound on one resync (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
		SyncTimeout:   5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. Zero durations in config take their
// defaults.
func NewScheduler(engine Syncer, q Drainer, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		engine:        engine,
		queue:         q,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		syncTimeout:   config.SyncTimeout,
		stopCh:        make(chan struct{}),
		isOnline:      true, // unknown connectivity counts as online
	}
	if s.syncInterval <= 0 {
		s.syncInterval = defaults.SyncInterval
	}
	if s.queueInterval <= 0 {
		s.queueInterval = defaults.QueueInterval
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = defaults.SyncTimeout
	}
	return s
}

// Start starts the background loops. Calling Start on a running scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.queueProcessorLoop(ctx)

	logging.Info("Background sync scheduler started",
		map[string]interface{}{
			"sync_interval":  s.syncInterval.String(),
			"queue_interval": s.queueInterval.String(),
		})
}

// Stop stops the loops and waits for in-flight work started by them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status. Offline, both loops idle.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// SetUser sets the signed-in user that periodic syncs run for. An empty id
// disables periodic sync.
func (s *Scheduler) SetUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if !s.beginSync() {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.endSync()
				s.runSync(ctx, "periodic")
			}()
		}
	}
}

func (s *Scheduler) queueProcessorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.processQueue(ctx)
		}
	}
}

// beginSync marks a sync as running. It returns false if one already is.
func (s *Scheduler) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) endSync() {
	s.mu.Lock()
	s.syncInProgress = false
	s.mu.Unlock()
}

// runSync resyncs the signed-in user. The caller holds the sync slot.
func (s *Scheduler) runSync(ctx context.Context, trigger string) ([]*syncpkg.SyncResult, error) {
	s.mu.RLock()
	userID := s.userID
	s.mu.RUnlock()

	if userID == "" {
		logging.Debug("Skipping sync - no signed-in user", map[string]interface{}{"trigger": trigger})
		return nil, nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	results, err := s.engine.SyncAll(syncCtx, userID)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.lastSyncTime = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		code := errors.ErrSyncFailed
		if syncCtx.Err() == context.DeadlineExceeded {
			code = errors.ErrSyncTimeout
		}
		logging.ErrorWithCode("Scheduled sync failed", string(code), err,
			map[string]interface{}{"trigger": trigger, "user_id": userID})
		return results, err
	}

	merged, fetched := 0, 0
	for _, r := range results {
		merged += r.Merged
		fetched += r.Fetched
	}
	logging.Info("Scheduled sync completed",
		map[string]interface{}{
			"trigger": trigger,
			"user_id": userID,
			"fetched": fetched,
			"merged":  merged,
		})
	return results, nil
}

// processQueue drains the offline queue unless a drain started here is
// still running.
func (s *Scheduler) processQueue(ctx context.Context) {
	if s.queue.Size(ctx) == 0 {
		return
	}

	s.mu.Lock()
	if s.queueInProgress {
		s.mu.Unlock()
		return
	}
	s.queueInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.queueInProgress = false
		s.mu.Unlock()
	}()

	res := s.queue.Drain(ctx)
	if res.Skipped {
		return
	}
	logging.Info("Queue processing completed",
		map[string]interface{}{
			"applied":   res.Applied,
			"retried":   res.Retried,
			"dropped":   res.Dropped,
			"remaining": res.Remaining,
			"aborted":   res.Aborted,
		})
}

// TriggerSync starts an immediate resync in the background.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.beginSync() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.endSync()
		s.runSync(ctx, "manual")
	}()
	return true
}

// SyncNow resyncs the signed-in user and waits for completion. It fails with
// SYNC_IN_PROGRESS if a resync is already running.
func (s *Scheduler) SyncNow(ctx context.Context) ([]*syncpkg.SyncResult, error) {
	if !s.beginSync() {
		return nil, errors.New(errors.ErrSyncBusy, "a sync is already running")
	}
	defer s.endSync()
	return s.runSync(ctx, "manual")
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning       bool        `json:"isRunning"`
	IsOnline        bool        `json:"isOnline"`
	UserID          string      `json:"userId,omitempty"`
	LastSyncTime    *time.Time  `json:"lastSyncTime,omitempty"`
	LastError       string      `json:"lastError,omitempty"`
	SyncInProgress  bool        `json:"syncInProgress"`
	QueueInProgress bool        `json:"queueInProgress"`
	PendingItems    int         `json:"pendingItems"`
	QueueStats      queue.Stats `json:"queueStats"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        s.isOnline,
		UserID:          s.userID,
		SyncInProgress:  s.syncInProgress,
		QueueInProgress: s.queueInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	status.QueueStats = s.queue.Stats(ctx)
	status.PendingItems = status.QueueStats.Total
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
