// Package localstore keeps each user's record collections on the device.
// A collection is read and written as one serialized value per user and
// record kind; there is no field indexing, callers filter in memory.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// KV is the key-value backend. internal/db.KVRepository and MemoryKV both
// satisfy it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ErrCorrupt is wrapped by LoadValue when a stored value cannot be decoded.
var ErrCorrupt = errors.New("corrupt stored value")

// Records maps record id to record.
type Records map[string]*models.Record

// Store reads and writes whole per-user collections.
type Store struct {
	kv KV

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// New creates a Store over kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// RecordsKey is the storage key of one user's collection of a kind.
func RecordsKey(kind models.RecordKind, userID string) string {
	return fmt.Sprintf("records:%s:%s", kind, userID)
}

func loadedKey(userID string) string {
	return "first_load:" + userID
}

// GetAll returns the collection. It never fails: an empty, unreadable or
// corrupt payload yields an empty mapping.
func (s *Store) GetAll(ctx context.Context, userID string, kind models.RecordKind) Records {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAll(ctx, userID, kind)
}

func (s *Store) getAll(ctx context.Context, userID string, kind models.RecordKind) Records {
	key := RecordsKey(kind, userID)
	data, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		logging.Warn("Local collection unreadable, treating as empty",
			map[string]interface{}{"key": key, "error": err.Error()})
		return Records{}
	}
	if !ok || len(data) == 0 {
		return Records{}
	}

	var recs Records
	if err := json.Unmarshal(data, &recs); err != nil {
		logging.Warn("Local collection corrupt, treating as empty",
			map[string]interface{}{"key": key, "error": err.Error()})
		return Records{}
	}
	for id, rec := range recs {
		if rec == nil {
			delete(recs, id)
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}
	}
	return recs
}

// SaveAll replaces the whole collection in one write.
func (s *Store) SaveAll(ctx context.Context, userID string, kind models.RecordKind, recs Records) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAll(ctx, userID, kind, recs)
}

func (s *Store) saveAll(ctx context.Context, userID string, kind models.RecordKind, recs Records) error {
	if recs == nil {
		recs = Records{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("failed to encode %s collection: %w", kind, err)
	}
	if err := s.kv.Set(ctx, RecordsKey(kind, userID), data); err != nil {
		return fmt.Errorf("failed to save %s collection: %w", kind, err)
	}
	return nil
}

// Modify runs fn on the current collection and saves the result. Nothing
// is written when fn returns an error.
func (s *Store) Modify(ctx context.Context, userID string, kind models.RecordKind, fn func(Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.getAll(ctx, userID, kind)
	if err := fn(recs); err != nil {
		return err
	}
	return s.saveAll(ctx, userID, kind, recs)
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, userID string, kind models.RecordKind, id string) (*models.Record, bool) {
	rec, ok := s.GetAll(ctx, userID, kind)[id]
	return rec, ok
}

// Put inserts or replaces rec in its collection.
func (s *Store) Put(ctx context.Context, rec *models.Record) error {
	return s.Modify(ctx, rec.UserID, rec.Kind, func(recs Records) error {
		recs[rec.ID] = rec
		return nil
	})
}

// Delete removes a record, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, userID string, kind models.RecordKind, id string) (bool, error) {
	var existed bool
	err := s.Modify(ctx, userID, kind, func(recs Records) error {
		_, existed = recs[id]
		delete(recs, id)
		return nil
	})
	return existed, err
}

// HasLoaded reports whether the first full load for the user has completed.
func (s *Store) HasLoaded(ctx context.Context, userID string) bool {
	_, ok, err := s.kv.Get(ctx, loadedKey(userID))
	return err == nil && ok
}

// MarkLoaded persists the first-load flag.
func (s *Store) MarkLoaded(ctx context.Context, userID string) error {
	return s.kv.Set(ctx, loadedKey(userID), []byte("1"))
}

// LoadValue decodes the JSON value at key into v. ok is false when the key is
// absent; a corrupt value is reported as an error wrapping ErrCorrupt.
func (s *Store) LoadValue(ctx context.Context, key string, v interface{}) (bool, error) {
	data, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w: %v", key, ErrCorrupt, err)
	}
	return true, nil
}

// SaveValue stores v as JSON at key.
func (s *Store) SaveValue(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, data)
}

// RemoveValue deletes key.
func (s *Store) RemoveValue(ctx context.Context, key string) error {
	return s.kv.Remove(ctx, key)
}

// Users lists the users with a stored collection of kind.
func (s *Store) Users(ctx context.Context, kind models.RecordKind) ([]string, error) {
	prefix := RecordsKey(kind, "")
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, k[len(prefix):])
	}
	return users, nil
}
