// Package models provides data model definitions for the fitsync core.
package models

// DailySummary aggregates the meals logged on one calendar day.
type DailySummary struct {
	UserID   string  `json:"userId"`
	Date     string  `json:"date"` // YYYY-MM-DD in the configured zone
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber"`
	Entries  int     `json:"entries"`
}

// Add folds one meal into the summary.
func (s *DailySummary) Add(m *MealPayload) {
	if m == nil {
		return
	}
	s.Calories += Value(m.Calories)
	s.Protein += Value(m.Protein)
	s.Carbs += Value(m.Carbs)
	s.Fat += Value(m.Fat)
	s.Fiber += Value(m.Fiber)
	s.Entries++
}

// WeeklySummary aggregates seven consecutive days starting on a Monday.
type WeeklySummary struct {
	UserID               string          `json:"userId"`
	WeekStart            string          `json:"weekStart"`
	Days                 [7]DailySummary `json:"days"`
	Totals               DailySummary    `json:"totals"`
	DailyAverageCalories float64         `json:"dailyAverageCalories"`
	Entries              int             `json:"entries"`
}
