package frontier

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCacheTTL is how long a computed frontier stays fresh.
const DefaultCacheTTL = 24 * time.Hour

const resultsSchema = `
CREATE TABLE IF NOT EXISTS frontier_results (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	computed_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frontier_results_expires ON frontier_results(expires_at);
`

// InitSchema creates the result cache table.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(resultsSchema); err != nil {
		return fmt.Errorf("failed to create frontier_results schema: %w", err)
	}
	return nil
}

// Repository caches computed frontiers as msgpack blobs with an expiry.
// Runs are deterministic in their inputs, options and seed, so a cached
// result is interchangeable with a fresh computation.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new result cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Store saves a result under key with expiration = now + ttl.
func (r *Repository) Store(key string, result *Result, ttl time.Duration) error {
	data, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.db.Exec(
		"INSERT OR REPLACE INTO frontier_results (key, data, computed_at, expires_at) VALUES (?, ?, ?, ?)",
		key, data, result.ComputedAt.Unix(), time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store result %s: %w", key, err)
	}
	return nil
}

// GetIfFresh returns the result only if it has not expired.
// Returns nil, nil if the key doesn't exist or the entry is expired.
func (r *Repository) GetIfFresh(key string) (*Result, error) {
	return r.get("SELECT data FROM frontier_results WHERE key = ? AND expires_at > ?", key, time.Now().Unix())
}

// Get returns the result regardless of expiration status.
// Returns nil, nil if the key doesn't exist.
func (r *Repository) Get(key string) (*Result, error) {
	return r.get("SELECT data FROM frontier_results WHERE key = ?", key)
}

func (r *Repository) get(query string, args ...interface{}) (*Result, error) {
	var data []byte
	err := r.db.QueryRow(query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result Result
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM frontier_results WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete result %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes all entries whose expiry has passed and returns the
// number of rows deleted.
func (r *Repository) DeleteExpired() (int64, error) {
	res, err := r.db.Exec("DELETE FROM frontier_results WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired results: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Count returns the number of cached results, fresh or not.
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM frontier_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}
