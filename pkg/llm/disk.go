package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	// SQLite driver
	_ "modernc.org/sqlite"
)

const diskCacheSchema = `
CREATE TABLE IF NOT EXISTS llm_cache (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// DiskCache is the opt-in cross-transaction cache. It uses the same keys as
// Cache and survives process restarts.
type DiskCache struct {
	db *sql.DB
}

// OpenDiskCache opens or creates the SQLite database at path.
func OpenDiskCache(ctx context.Context, path string) (*DiskCache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open disk cache", goerr.V("path", path))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, diskCacheSchema); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "failed to create disk cache schema", goerr.V("path", path))
	}
	return &DiskCache{db: db}, nil
}

func (d *DiskCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	var payload string
	err := d.db.QueryRowContext(ctx, `SELECT payload FROM llm_cache WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, goerr.Wrap(err, "failed to query disk cache", goerr.V("key", key))
	}

	var e CacheEntry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return CacheEntry{}, false, goerr.Wrap(err, "failed to decode disk cache entry", goerr.V("key", key))
	}
	return e, true, nil
}

func (d *DiskCache) Put(ctx context.Context, key string, e CacheEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return goerr.Wrap(err, "failed to encode disk cache entry", goerr.V("key", key))
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO llm_cache (key, kind, payload, created_at) VALUES (?, ?, ?, ?)`,
		key, e.Kind, string(payload), time.Now().Unix())
	if err != nil {
		return goerr.Wrap(err, "failed to write disk cache entry", goerr.V("key", key))
	}
	return nil
}

func (d *DiskCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM llm_cache`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count disk cache entries")
	}
	return n, nil
}

func (d *DiskCache) Close() error {
	return d.db.Close()
}
