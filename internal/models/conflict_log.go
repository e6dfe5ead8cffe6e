// Package models provides data model definitions for the fitsync core.
package models

import "time"

// Resolution names the outcome of merging a local and a remote copy.
type Resolution string

const (
	ResolutionAdopted           Resolution = "adopted"
	ResolutionRemoteWins        Resolution = "remote_wins"
	ResolutionLocalWins         Resolution = "local_wins"
	ResolutionKeptLocal         Resolution = "kept_local"
	ResolutionIntegrityRejected Resolution = "integrity_rejected"
)

// ConflictLog records a resolved divergence between local and remote copies.
type ConflictLog struct {
	LocalVersion    int        `json:"localVersion"`
	RemoteVersion   int        `json:"remoteVersion"`
	LocalUpdatedAt  int64      `json:"localUpdatedAt"`
	RemoteUpdatedAt int64      `json:"remoteUpdatedAt"`
	Resolution      Resolution `json:"resolution"`
	ResolvedAt      int64      `json:"resolvedAt"`
}

// ResolvedAtTime returns the ResolvedAt as time.Time.
func (c *ConflictLog) ResolvedAtTime() time.Time {
	return time.UnixMilli(c.ResolvedAt)
}
