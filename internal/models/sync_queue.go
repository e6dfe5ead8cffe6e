// Package models provides data model definitions for the fitsync core.
package models

// Priority orders queued operations; lower values drain first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// QueuedOperation is a mutation waiting for a connectivity window.
type QueuedOperation struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	Collection RecordKind    `json:"collection"`
	RecordID   string        `json:"recordId"`
	Kind       OperationType `json:"kind"`
	Payload    Fields        `json:"payload,omitempty"`
	Priority   Priority      `json:"priority"`
	Timestamp  int64         `json:"timestamp"`
	RetryCount int           `json:"retryCount"`
	LastError  string        `json:"lastError,omitempty"`
}
