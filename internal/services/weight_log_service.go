package services

import (
	"context"
	"math"
	"sort"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

const (
	UnitKg = "kg"
	UnitLb = "lb"

	kgPerLb = 0.45359237
)

// goalKey is the local key of a user's weight goal.
func goalKey(userID string) string {
	return "weight_goal:" + userID
}

// WeightLogService manages a user's weight log and goal.
type WeightLogService struct {
	engine   syncpkg.SynchronizerInterface
	settings ValueStore
	now      func() time.Time
}

// NewWeightLogService creates a WeightLogService.
func NewWeightLogService(engine syncpkg.SynchronizerInterface, settings ValueStore, now func() time.Time) *WeightLogService {
	if now == nil {
		now = time.Now
	}
	return &WeightLogService{engine: engine, settings: settings, now: now}
}

// Add logs a weight entry. A zero timestamp means now; an empty unit is kg.
func (s *WeightLogService) Add(ctx context.Context, userID string, entry *models.WeightPayload, timestamp int64) (*models.Record, error) {
	if entry == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "a weight entry is required")
	}
	w := *entry
	if w.Unit == "" {
		w.Unit = UnitKg
	}
	rec, err := s.engine.Create(ctx, userID, models.KindWeight, &models.Record{Timestamp: timestamp, Weight: &w})
	if err != nil {
		return nil, userError("could not add weight entry", err, map[string]interface{}{"user_id": userID})
	}
	return rec, nil
}

// Remove deletes a weight entry.
func (s *WeightLogService) Remove(ctx context.Context, userID, id string) error {
	if err := s.engine.Delete(ctx, userID, models.KindWeight, id); err != nil {
		return userError("could not remove weight entry", err, map[string]interface{}{"item_id": id})
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *WeightLogService) List(ctx context.Context, userID string, limit int) []*models.Record {
	all := newestFirst(s.engine.List(ctx, userID, models.KindWeight))
	valid := all[:0]
	for _, rec := range all {
		if rec.Weight != nil && rec.Weight.Weight != nil {
			valid = append(valid, rec)
		}
	}
	all = valid
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Range reads entries in [start, end] from the remote store, oldest first.
// Used for history views older than the local log.
func (s *WeightLogService) Range(ctx context.Context, userID string, start, end time.Time) ([]*models.Record, error) {
	recs, err := s.engine.FetchRange(ctx, userID, models.KindWeight, start, end)
	if err != nil {
		return nil, userError("could not read weight history", err, map[string]interface{}{"user_id": userID})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	return recs, nil
}

// convert returns w in unit.
func convert(w float64, from, to string) float64 {
	switch {
	case from == to:
		return w
	case from == UnitLb && to != UnitLb:
		return w * kgPerLb
	case from != UnitLb && to == UnitLb:
		return w / kgPerLb
	}
	return w
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GetStats summarizes the weight log in the unit of the latest entry.
func (s *WeightLogService) GetStats(ctx context.Context, userID string) (*models.WeightStats, error) {
	entries := s.List(ctx, userID, 0)
	stats := &models.WeightStats{Unit: UnitKg}
	if len(entries) == 0 {
		return stats, nil
	}

	latest := entries[0]
	if latest.Weight.Unit != "" {
		stats.Unit = latest.Weight.Unit
	}

	var sum float64
	stats.Min = math.Inf(1)
	stats.Max = math.Inf(-1)
	for _, rec := range entries {
		w := convert(models.Value(rec.Weight.Weight), rec.Weight.Unit, stats.Unit)
		sum += w
		stats.Min = math.Min(stats.Min, w)
		stats.Max = math.Max(stats.Max, w)
	}
	first := entries[len(entries)-1]

	stats.Count = len(entries)
	stats.Current = round1(convert(models.Value(latest.Weight.Weight), latest.Weight.Unit, stats.Unit))
	stats.Starting = round1(convert(models.Value(first.Weight.Weight), first.Weight.Unit, stats.Unit))
	stats.Min = round1(stats.Min)
	stats.Max = round1(stats.Max)
	stats.Average = round1(sum / float64(len(entries)))
	stats.Change = round1(stats.Current - stats.Starting)

	if days := latest.Time().Sub(first.Time()).Hours() / 24; days >= 1 {
		stats.WeeklyRate = round1(stats.Change / days * 7)
	}

	goal, err := s.GetGoal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if goal != nil {
		stats.ToGoal = round1(stats.Current - convert(goal.TargetWeight, goal.Unit, stats.Unit))
	}
	return stats, nil
}

// GetGoal returns the user's goal, or nil if none is set.
func (s *WeightLogService) GetGoal(ctx context.Context, userID string) (*models.WeightGoal, error) {
	var goal models.WeightGoal
	found, err := s.settings.LoadValue(ctx, goalKey(userID), &goal)
	if err != nil {
		return nil, userError("could not read weight goal", apperrors.Wrap(apperrors.ErrDatabase, "load goal", err), map[string]interface{}{"user_id": userID})
	}
	if !found {
		return nil, nil
	}
	return &goal, nil
}

// SetGoal stores the user's goal.
func (s *WeightLogService) SetGoal(ctx context.Context, userID string, goal models.WeightGoal) (*models.WeightGoal, error) {
	if goal.TargetWeight <= 0 || goal.TargetWeight > 700 {
		return nil, apperrors.New(apperrors.ErrValidation, "target weight must be between 0 and 700")
	}
	if goal.Unit == "" {
		goal.Unit = UnitKg
	}
	if goal.Unit != UnitKg && goal.Unit != UnitLb {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unsupported unit %q", goal.Unit)
	}
	goal.SetAt = s.now().UnixMilli()

	if err := s.settings.SaveValue(ctx, goalKey(userID), goal); err != nil {
		return nil, userError("could not save weight goal", apperrors.Wrap(apperrors.ErrDatabase, "save goal", err), map[string]interface{}{"user_id": userID})
	}
	return &goal, nil
}
