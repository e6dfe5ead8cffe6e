// Package aggregate caches daily and weekly nutrition summaries derived from
// the local meal collection.
package aggregate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kimhsiao/fitsync/backend/internal/localstore"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

const (
	DailyTTL  = 24 * time.Hour
	WeeklyTTL = 7 * 24 * time.Hour

	kindDaily  = "daily"
	kindWeekly = "weekly"

	dateLayout = "2006-01-02"
)

// MealSource provides the records summaries are computed from.
// *localstore.Store satisfies it.
type MealSource interface {
	GetAll(ctx context.Context, userID string, kind models.RecordKind) localstore.Records
}

// Options configures a Cache.
type Options struct {
	DailyTTL  time.Duration
	WeeklyTTL time.Duration
	// Location buckets meal timestamps into calendar days. Defaults to UTC.
	Location *time.Location
}

// Cache holds computed summaries with a per-entry TTL.
type Cache struct {
	items  *cache.Cache
	source MealSource
	opts   Options

	hits   atomic.Int64
	misses atomic.Int64

	// gens counts invalidations per user; a summary computed under an older
	// generation is not stored.
	mu   sync.Mutex
	gens map[string]uint64
}

// Stats reports lookup counts.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// New creates a Cache over source.
func New(source MealSource, opts Options) *Cache {
	if opts.DailyTTL <= 0 {
		opts.DailyTTL = DailyTTL
	}
	if opts.WeeklyTTL <= 0 {
		opts.WeeklyTTL = WeeklyTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Cache{
		items:  cache.New(opts.DailyTTL, time.Hour),
		source: source,
		opts:   opts,
		gens:   make(map[string]uint64),
	}
}

func (c *Cache) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID]
}

// putIfCurrent runs put unless the user was invalidated since gen.
func (c *Cache) putIfCurrent(userID string, gen uint64, put func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		logging.Debug("Summary computed before an invalidation, not cached", map[string]interface{}{"user_id": userID})
		return
	}
	put()
}

// Location returns the zone days are bucketed in.
func (c *Cache) Location() *time.Location {
	return c.opts.Location
}

func entryKey(kind, userID, date string) string {
	return kind + ":" + userID + ":" + date
}

// get returns a live entry. An expired entry is deleted and reported as a miss.
func (c *Cache) get(kind, userID, date string) (interface{}, bool) {
	key := entryKey(kind, userID, date)
	v, found := c.items.Get(key)
	if !found {
		c.items.Delete(key)
		c.misses.Add(1)
		metrics.RecordCacheLookup(kind, false)
		return nil, false
	}
	c.hits.Add(1)
	metrics.RecordCacheLookup(kind, true)
	return v, true
}

// GetDaily returns the cached summary for a YYYY-MM-DD date.
func (c *Cache) GetDaily(userID, date string) (*models.DailySummary, bool) {
	v, ok := c.get(kindDaily, userID, date)
	if !ok {
		return nil, false
	}
	s := v.(models.DailySummary)
	return &s, true
}

// PutDaily stores s, replacing any entry for the same day.
func (c *Cache) PutDaily(s models.DailySummary) {
	c.items.Set(entryKey(kindDaily, s.UserID, s.Date), s, c.opts.DailyTTL)
}

// GetWeekly returns the cached summary of the week starting on weekStart.
func (c *Cache) GetWeekly(userID, weekStart string) (*models.WeeklySummary, bool) {
	v, ok := c.get(kindWeekly, userID, weekStart)
	if !ok {
		return nil, false
	}
	s := v.(models.WeeklySummary)
	return &s, true
}

// PutWeekly stores s, replacing any entry for the same week.
func (c *Cache) PutWeekly(s models.WeeklySummary) {
	c.items.Set(entryKey(kindWeekly, s.UserID, s.WeekStart), s, c.opts.WeeklyTTL)
}

// InvalidateUser drops every entry of the user.
func (c *Cache) InvalidateUser(userID string) {
	c.mu.Lock()
	c.gens[userID]++
	c.mu.Unlock()

	daily := entryKey(kindDaily, userID, "")
	weekly := entryKey(kindWeekly, userID, "")
	n := 0
	for key := range c.items.Items() {
		if strings.HasPrefix(key, daily) || strings.HasPrefix(key, weekly) {
			c.items.Delete(key)
			n++
		}
	}
	if n > 0 {
		logging.Debug("Summary cache invalidated", map[string]interface{}{"user_id": userID, "entries": n})
	}
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.items.Flush()
}

// Stats returns lookup counts and the number of stored entries.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.items.ItemCount()}
}

// Daily returns the summary of the day containing day, computing it on a miss.
func (c *Cache) Daily(ctx context.Context, userID string, day time.Time) (*models.DailySummary, error) {
	date := day.In(c.opts.Location).Format(dateLayout)
	if s, ok := c.GetDaily(userID, date); ok {
		return s, nil
	}
	gen := c.generation(userID)
	s := ComputeDaily(userID, date, c.meals(ctx, userID), c.opts.Location)
	c.putIfCurrent(userID, gen, func() { c.PutDaily(s) })
	return &s, nil
}

// Weekly returns the summary of the Monday-based week containing day,
// computing it on a miss.
func (c *Cache) Weekly(ctx context.Context, userID string, day time.Time) (*models.WeeklySummary, error) {
	start := WeekStart(day, c.opts.Location)
	key := start.Format(dateLayout)
	if s, ok := c.GetWeekly(userID, key); ok {
		return s, nil
	}
	gen := c.generation(userID)
	s := ComputeWeekly(userID, start, c.meals(ctx, userID), c.opts.Location)
	c.putIfCurrent(userID, gen, func() { c.PutWeekly(s) })
	return &s, nil
}

func (c *Cache) meals(ctx context.Context, userID string) []*models.Record {
	recs := c.source.GetAll(ctx, userID, models.KindMeal)
	out := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	return out
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}
