// Package db provides the key-value repository backing local persistence.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// KVRepository stores opaque values by string key in the kv_store table.
type KVRepository struct {
	db *sql.DB

	// Prepared statement cache for the four hot queries.
	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewKVRepository creates a new KVRepository instance.
func NewKVRepository(db *sql.DB) *KVRepository {
	return &KVRepository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *KVRepository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have prepared it first; keep theirs
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *KVRepository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}

// Get returns the value stored at key. ok is false when the key is absent.
func (r *KVRepository) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT value FROM kv_store WHERE key = ?`)
	if err != nil {
		return nil, false, err
	}

	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value at key, replacing any previous value.
func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if value == nil {
		value = []byte{}
	}
	stmt, err := r.PrepareStmt(ctx, `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	if _, err := stmt.ExecContext(ctx, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (r *KVRepository) Remove(ctx context.Context, key string) error {
	stmt, err := r.PrepareStmt(ctx, `DELETE FROM kv_store WHERE key = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

// Keys returns every key starting with prefix, in lexical order.
func (r *KVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT key FROM kv_store WHERE substr(key, 1, ?) = ? ORDER BY key`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		// substr counts characters; guard against multi-byte prefixes
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}
