package aggregate

import (
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// WeekStart returns midnight of the Monday on or before day, in loc.
func WeekStart(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	offset := (int(midnight.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, -offset)
}

// ComputeDaily sums the meals of date (YYYY-MM-DD in loc).
func ComputeDaily(userID, date string, recs []*models.Record, loc *time.Location) models.DailySummary {
	s := models.DailySummary{UserID: userID, Date: date}
	for _, rec := range recs {
		if rec == nil || rec.Kind != models.KindMeal || rec.Meal == nil {
			continue
		}
		if rec.Time().In(loc).Format(dateLayout) == date {
			s.Add(rec.Meal)
		}
	}
	return s
}

// ComputeWeekly sums the meals of the seven days starting at weekStart.
func ComputeWeekly(userID string, weekStart time.Time, recs []*models.Record, loc *time.Location) models.WeeklySummary {
	start := WeekStart(weekStart, loc)
	w := models.WeeklySummary{UserID: userID, WeekStart: start.Format(dateLayout)}

	index := make(map[string]int, 7)
	for i := 0; i < 7; i++ {
		date := start.AddDate(0, 0, i).Format(dateLayout)
		w.Days[i] = models.DailySummary{UserID: userID, Date: date}
		index[date] = i
	}
	w.Totals = models.DailySummary{UserID: userID, Date: w.WeekStart}

	for _, rec := range recs {
		if rec == nil || rec.Kind != models.KindMeal || rec.Meal == nil {
			continue
		}
		i, ok := index[rec.Time().In(loc).Format(dateLayout)]
		if !ok {
			continue
		}
		w.Days[i].Add(rec.Meal)
		w.Totals.Add(rec.Meal)
	}

	w.Entries = w.Totals.Entries
	w.DailyAverageCalories = w.Totals.Calories / 7
	return w
}
