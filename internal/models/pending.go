// Package models provides data model definitions for the fitsync core.
package models

import "time"

// PendingOperation is a local mutation not yet confirmed by the remote store.
type PendingOperation struct {
	Type      OperationType `json:"type"`
	Timestamp int64         `json:"timestamp"`
}

// Time returns the Timestamp as time.Time.
func (p PendingOperation) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}
