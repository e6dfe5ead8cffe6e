// Package db provides repository interfaces for local persistence.
package db

import "context"

// KeyValueRepository is the generic local key-value API.
// This interface allows the local store to run on SQLite or in memory.
type KeyValueRepository interface {
	// Get returns the value stored at key; ok is false when it is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value at key.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key.
	Remove(ctx context.Context, key string) error

	// Keys lists keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Ensure *KVRepository implements the interface at compile time.
var _ KeyValueRepository = (*KVRepository)(nil)
