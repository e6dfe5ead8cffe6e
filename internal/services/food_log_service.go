package services

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

// UndoConfigKey is the local key of the persisted undo configuration.
const UndoConfigKey = "undo_config"

// Listing defaults.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FoodLogService manages a user's meal log with undoable removals.
type FoodLogService struct {
	engine    syncpkg.SynchronizerInterface
	summaries Summaries
	settings  ValueStore
	now       func() time.Time

	mu      sync.Mutex
	undo    models.UndoConfig
	history map[string][]*models.RemovedItem // per user, oldest first
}

// NewFoodLogService creates a FoodLogService. A persisted undo configuration
// takes precedence over defaults.
func NewFoodLogService(ctx context.Context, engine syncpkg.SynchronizerInterface, summaries Summaries, settings ValueStore, defaults models.UndoConfig, now func() time.Time) *FoodLogService {
	if now == nil {
		now = time.Now
	}
	if defaults.TimeoutMs <= 0 || defaults.MaxHistory <= 0 {
		defaults = models.DefaultUndoConfig()
	}

	s := &FoodLogService{
		engine:    engine,
		summaries: summaries,
		settings:  settings,
		now:       now,
		undo:      defaults,
		history:   make(map[string][]*models.RemovedItem),
	}

	var stored models.UndoConfig
	found, err := settings.LoadValue(ctx, UndoConfigKey, &stored)
	if err != nil {
		logging.Warn("Failed to load undo config, using defaults", map[string]interface{}{"error": err.Error()})
	} else if found && stored.TimeoutMs > 0 && stored.MaxHistory > 0 {
		s.undo = stored
	}
	return s
}

// List returns one page of the meal log, newest first. Pages start at 1.
func (s *FoodLogService) List(ctx context.Context, userID string, page, pageSize int) *models.Page {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	all := newestFirst(s.engine.List(ctx, userID, models.KindMeal))
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return &models.Page{
		Items:    all[start:end],
		Page:     page,
		PageSize: pageSize,
		Total:    len(all),
		HasMore:  end < len(all),
	}
}

// Get returns one meal.
func (s *FoodLogService) Get(ctx context.Context, userID, id string) (*models.Record, error) {
	rec, err := s.engine.Get(ctx, userID, models.KindMeal, id)
	if err != nil {
		return nil, userError("could not read food item", err, map[string]interface{}{"item_id": id})
	}
	return rec, nil
}

// Add logs a meal. A zero timestamp means now.
func (s *FoodLogService) Add(ctx context.Context, userID string, item *models.MealPayload, timestamp int64) (*models.Record, error) {
	if item == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "a food item is required")
	}
	meal := *item
	rec, err := s.engine.Create(ctx, userID, models.KindMeal, &models.Record{Timestamp: timestamp, Meal: &meal})
	if err != nil {
		return nil, userError("could not add food item", err, map[string]interface{}{"user_id": userID})
	}
	return rec, nil
}

// Update replaces the meal data of an entry. A zero timestamp keeps the
// current one.
func (s *FoodLogService) Update(ctx context.Context, userID, id string, item *models.MealPayload, timestamp int64) (*models.Record, error) {
	if item == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "a food item is required")
	}
	rec, err := s.engine.Update(ctx, userID, models.KindMeal, id, func(rec *models.Record) error {
		meal := *item
		rec.Meal = &meal
		if timestamp != 0 {
			rec.Timestamp = timestamp
		}
		return nil
	})
	if err != nil {
		return nil, userError("could not update food item", err, map[string]interface{}{"item_id": id})
	}
	return rec, nil
}

// Remove deletes a meal and returns what is needed to undo it. When the
// remote store rejects the delete the meal is still gone locally, so the
// item is returned and kept in the history alongside the error.
func (s *FoodLogService) Remove(ctx context.Context, userID, id string) (*models.RemovedItem, error) {
	item, err := s.remove(ctx, userID, id)
	if item != nil {
		s.remember(userID, item)
	}
	if err != nil {
		return item, userError("could not remove food item", err, map[string]interface{}{"item_id": id})
	}
	return item, nil
}

// remove returns a non-nil item whenever the local copy was removed.
func (s *FoodLogService) remove(ctx context.Context, userID, id string) (*models.RemovedItem, error) {
	rec, err := s.engine.Get(ctx, userID, models.KindMeal, id)
	if err != nil {
		return nil, err
	}
	deleteErr := s.engine.Delete(ctx, userID, models.KindMeal, id)
	if deleteErr != nil && !apperrors.Is(deleteErr, apperrors.ErrSyncFailed) {
		return nil, deleteErr
	}

	removedAt := s.now().UnixMilli()
	return &models.RemovedItem{
		Record:    rec,
		RemovedAt: removedAt,
		ExpiresAt: removedAt + s.UndoConfig().TimeoutMs,
	}, deleteErr
}

// UndoRemove restores a removed meal under its original id. Expiry is the
// caller's concern: any RemovedItem the caller still holds can be restored.
func (s *FoodLogService) UndoRemove(ctx context.Context, item *models.RemovedItem) (*models.Record, error) {
	if item == nil || item.Record == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "nothing to undo")
	}
	rec, err := s.engine.Restore(ctx, item.Record)
	if err != nil {
		return nil, userError("could not undo removal", err, map[string]interface{}{"item_id": item.Record.ID})
	}
	s.forget(item.Record.UserID, item.Record.ID)
	return rec, nil
}

// RemoveBatch removes several meals. Ids that cannot be removed are skipped;
// it fails only when nothing was removed.
func (s *FoodLogService) RemoveBatch(ctx context.Context, userID string, ids []string) (*models.BatchRemoval, error) {
	if len(ids) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "no items to remove")
	}

	removedAt := s.now().UnixMilli()
	batch := &models.BatchRemoval{
		RemovedAt: removedAt,
		ExpiresAt: removedAt + s.UndoConfig().TimeoutMs,
	}
	var lastErr error
	for _, id := range ids {
		item, err := s.remove(ctx, userID, id)
		if item == nil {
			logging.Warn("Batch removal skipped an item",
				map[string]interface{}{"item_id": id, "error": err.Error()})
			lastErr = err
			continue
		}
		if err != nil {
			logging.Warn("Batch removal left a remote delete queued",
				map[string]interface{}{"item_id": id, "error": err.Error()})
		}
		item.RemovedAt, item.ExpiresAt = batch.RemovedAt, batch.ExpiresAt
		batch.Items = append(batch.Items, item)
		s.remember(userID, item)
	}

	if len(batch.Items) == 0 {
		return nil, userError("could not remove food items", lastErr, map[string]interface{}{"count": len(ids)})
	}
	return batch, nil
}

// UndoBatchRemove restores every item of a batch. Items that fail are
// reported after the rest are restored.
func (s *FoodLogService) UndoBatchRemove(ctx context.Context, batch *models.BatchRemoval) ([]*models.Record, error) {
	if batch == nil || len(batch.Items) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalid, "nothing to undo")
	}

	restored := make([]*models.Record, 0, len(batch.Items))
	var firstErr error
	for _, item := range batch.Items {
		rec, err := s.UndoRemove(ctx, item)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		restored = append(restored, rec)
	}
	return restored, firstErr
}

// History returns the user's removals whose undo window is still open,
// newest first.
func (s *FoodLogService) History(userID string) []*models.RemovedItem {
	now := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(userID, now)

	items := s.history[userID]
	out := make([]*models.RemovedItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	return out
}

func (s *FoodLogService) remember(userID string, item *models.RemovedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[userID] = append(s.history[userID], item)
	s.prune(userID, item.RemovedAt)
}

func (s *FoodLogService) forget(userID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.history[userID]
	for i, item := range items {
		if item.Record.ID == id {
			s.history[userID] = append(items[:i:i], items[i+1:]...)
			return
		}
	}
}

// prune drops expired entries and caps the history. Caller holds mu.
func (s *FoodLogService) prune(userID string, now int64) {
	items := s.history[userID]
	kept := items[:0]
	for _, item := range items {
		if !item.Expired(now) {
			kept = append(kept, item)
		}
	}
	if over := len(kept) - s.undo.MaxHistory; over > 0 {
		kept = kept[over:]
	}
	if len(kept) == 0 {
		delete(s.history, userID)
		return
	}
	s.history[userID] = kept
}

// UndoConfig returns the current undo configuration.
func (s *FoodLogService) UndoConfig() models.UndoConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo
}

// SetUndoConfig changes and persists the undo configuration.
func (s *FoodLogService) SetUndoConfig(ctx context.Context, cfg models.UndoConfig) error {
	if cfg.TimeoutMs <= 0 || cfg.MaxHistory <= 0 {
		return apperrors.New(apperrors.ErrInvalid, "undo timeout and history size must be positive")
	}
	if err := s.settings.SaveValue(ctx, UndoConfigKey, cfg); err != nil {
		return userError("could not save undo settings", apperrors.Wrap(apperrors.ErrDatabase, "save undo config", err), nil)
	}

	s.mu.Lock()
	s.undo = cfg
	for userID := range s.history {
		if over := len(s.history[userID]) - cfg.MaxHistory; over > 0 {
			s.history[userID] = s.history[userID][over:]
		}
	}
	s.mu.Unlock()

	logging.Info("Undo config updated", map[string]interface{}{"timeout_ms": cfg.TimeoutMs, "max_history": cfg.MaxHistory})
	return nil
}

// DailySummary returns the nutrition totals of day.
func (s *FoodLogService) DailySummary(ctx context.Context, userID string, day time.Time) (*models.DailySummary, error) {
	summary, err := s.summaries.Daily(ctx, userID, day)
	if err != nil {
		return nil, userError("could not read daily summary", err, map[string]interface{}{"user_id": userID})
	}
	return summary, nil
}

// WeeklySummary returns the nutrition totals of the week containing day.
func (s *FoodLogService) WeeklySummary(ctx context.Context, userID string, day time.Time) (*models.WeeklySummary, error) {
	summary, err := s.summaries.Weekly(ctx, userID, day)
	if err != nil {
		return nil, userError("could not read weekly summary", err, map[string]interface{}{"user_id": userID})
	}
	return summary, nil
}

// Refresh runs a full sync of the meal log.
func (s *FoodLogService) Refresh(ctx context.Context, userID string) (*syncpkg.SyncResult, error) {
	result, err := s.engine.FullSync(ctx, userID, models.KindMeal)
	if err != nil {
		return result, userError("could not refresh food log", err, map[string]interface{}{"user_id": userID})
	}
	return result, nil
}
