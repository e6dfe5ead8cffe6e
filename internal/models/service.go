// Package models provides data model definitions for the fitsync core.
package models

import "time"

// Undo defaults.
const (
	DefaultUndoTimeoutMs  = 30000
	DefaultUndoMaxHistory = 50
)

// UndoConfig controls how long removals can be undone and how many are kept.
type UndoConfig struct {
	TimeoutMs  int64 `json:"timeout" yaml:"timeout_ms"`
	MaxHistory int   `json:"maxHistory" yaml:"max_history"`
}

// DefaultUndoConfig returns the default undo configuration.
func DefaultUndoConfig() UndoConfig {
	return UndoConfig{
		TimeoutMs:  DefaultUndoTimeoutMs,
		MaxHistory: DefaultUndoMaxHistory,
	}
}

// Timeout returns the undo window as a duration.
func (c UndoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RemovedItem is what the caller needs to undo a removal.
type RemovedItem struct {
	Record    *Record `json:"record"`
	RemovedAt int64   `json:"removedAt"`
	ExpiresAt int64   `json:"expiresAt"`
}

// Expired reports whether the undo window has passed at now.
func (r *RemovedItem) Expired(now int64) bool {
	return now > r.ExpiresAt
}

// BatchRemoval groups removals made by one RemoveBatch call.
type BatchRemoval struct {
	Items     []*RemovedItem `json:"items"`
	RemovedAt int64          `json:"removedAt"`
	ExpiresAt int64          `json:"expiresAt"`
}

// Page is one page of a listing.
type Page struct {
	Items    []*Record `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// WeightGoal is the user's target weight.
type WeightGoal struct {
	TargetWeight float64 `json:"targetWeight"`
	Unit         string  `json:"unit"`
	TargetDate   int64   `json:"targetDate,omitempty"`
	SetAt        int64   `json:"setAt"`
}

// WeightStats summarizes a user's weight log.
type WeightStats struct {
	Count      int     `json:"count"`
	Current    float64 `json:"current"`
	Starting   float64 `json:"starting"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Average    float64 `json:"average"`
	Change     float64 `json:"change"`
	WeeklyRate float64 `json:"weeklyRate"` // change per 7 days between first and last entry
	Unit       string  `json:"unit"`
	ToGoal     float64 `json:"toGoal,omitempty"`
}
