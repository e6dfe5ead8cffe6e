// Package models provides data model definitions for the fitsync core.
package models

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
)

// RecordKind selects which per-user collection a record lives in.
type RecordKind string

const (
	KindMeal   RecordKind = "meal"
	KindWeight RecordKind = "weight"
)

// Collection returns the remote collection name for the kind.
func (k RecordKind) Collection() string {
	switch k {
	case KindMeal:
		return "meals"
	case KindWeight:
		return "weights"
	default:
		return string(k) + "s"
	}
}

// Valid reports whether k is a known kind.
func (k RecordKind) Valid() bool {
	return k == KindMeal || k == KindWeight
}

// SyncStatus tells whether the local copy has unconfirmed mutations.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// OperationType is the kind of a pending or queued mutation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// MealPayload is the domain data of a meal log entry. Numeric fields are
// pointers so a missing field can be told apart from zero.
type MealPayload struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Calories    *float64 `json:"calories" validate:"required,gte=0,lte=10000"`
	Protein     *float64 `json:"protein,omitempty" validate:"omitempty,gte=0,lte=1000"`
	Carbs       *float64 `json:"carbs,omitempty" validate:"omitempty,gte=0,lte=1000"`
	Fat         *float64 `json:"fat,omitempty" validate:"omitempty,gte=0,lte=1000"`
	Fiber       *float64 `json:"fiber,omitempty" validate:"omitempty,gte=0,lte=500"`
	MealType    string   `json:"mealType,omitempty" validate:"omitempty,oneof=breakfast lunch dinner snack"`
	ServingSize string   `json:"servingSize,omitempty" validate:"max=100"`
}

// WeightPayload is the domain data of a weight log entry.
type WeightPayload struct {
	Weight *float64 `json:"weight" validate:"required,gt=0,lte=700"`
	Unit   string   `json:"unit,omitempty" validate:"omitempty,oneof=kg lb"`
	Notes  string   `json:"notes,omitempty" validate:"max=500"`
}

// Record is one meal-log or weight-log entry.
type Record struct {
	ID        string     `json:"id" validate:"required"`
	UserID    string     `json:"userId" validate:"required"`
	Kind      RecordKind `json:"kind" validate:"required,oneof=meal weight"`
	Timestamp int64      `json:"timestamp" validate:"gt=0"`
	CreatedAt int64      `json:"createdAt" validate:"gte=0"`
	UpdatedAt int64      `json:"updatedAt" validate:"gte=0"`
	Version   int        `json:"version" validate:"gte=1"`

	// Local bookkeeping, never written to the remote store.
	SyncStatus        SyncStatus         `json:"syncStatus,omitempty"`
	PendingOperations []PendingOperation `json:"pendingOperations,omitempty"`
	Conflicts         []ConflictLog      `json:"conflicts,omitempty"`

	History []Revision `json:"history,omitempty"`

	Meal   *MealPayload   `json:"meal,omitempty"`
	Weight *WeightPayload `json:"weight,omitempty"`
}

// Revision is one entry of a record's version trail.
type Revision struct {
	Version   int           `json:"version"`
	UpdatedAt int64         `json:"updatedAt"`
	Op        OperationType `json:"op"`
}

// Fields is a remote document body.
type Fields map[string]interface{}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Value dereferences p, returning 0 for nil.
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// NowMillis returns the current time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Time returns the logical event time.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Key identifies the record across users and kinds.
func (r *Record) Key() string {
	return fmt.Sprintf("%s/%s/%s", r.UserID, r.Kind, r.ID)
}

// Touch bumps the version for a mutation made at now.
func (r *Record) Touch(now int64, op OperationType) {
	r.Version++
	r.UpdatedAt = now
	r.History = append(r.History, Revision{Version: r.Version, UpdatedAt: now, Op: op})
}

// AddPending records a mutation that has not been confirmed remotely.
func (r *Record) AddPending(op OperationType, now int64) {
	r.PendingOperations = append(r.PendingOperations, PendingOperation{Type: op, Timestamp: now})
	r.SyncStatus = SyncStatusPending
}

// MarkSynced clears pending operations.
func (r *Record) MarkSynced() {
	r.PendingOperations = nil
	r.SyncStatus = SyncStatusSynced
}

// IsSynced reports whether the record has no unconfirmed mutations.
func (r *Record) IsSynced() bool {
	return len(r.PendingOperations) == 0 && r.SyncStatus != SyncStatusPending
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	var out Record
	if err := deepcopy.Copy(&out, *r); err != nil {
		// deepcopy only fails on unsupported types; Record has none.
		panic(fmt.Sprintf("clone record %s: %v", r.ID, err))
	}
	return &out
}

// ToFields converts the record to a remote document body. Local bookkeeping
// fields are stripped.
func (r *Record) ToFields() (Fields, error) {
	remote := r.Clone()
	remote.SyncStatus = ""
	remote.PendingOperations = nil
	remote.Conflicts = nil

	data, err := json.Marshal(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
	}
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to convert record %s: %w", r.ID, err)
	}
	return fields, nil
}

// RecordFromFields decodes a remote document body. A field holding the wrong
// type (calories: "abc") is an error; a missing field decodes to its zero
// value or nil pointer and is left for validation.
func RecordFromFields(id string, fields Fields) (*Record, error) {
	if fields == nil {
		return nil, fmt.Errorf("document %s has no fields", id)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}
