// Package localcache provides durable, user-scoped key/value storage for
// collection snapshots, the quota record, and the offline write queue.
// Backed by SQLite (modernc.org/sqlite, pure Go) through database/sql.
package localcache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// GuestNamespace scopes entries written before an authenticated user id is
// known.
const GuestNamespace = "guest"

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    dirty      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_kv_dirty ON kv(namespace) WHERE dirty = 1;
`

// ErrNotFound reports that no entry exists for the namespace/key pair.
var ErrNotFound = errors.New("localcache: entry not found")

// Entry is a stored snapshot plus its metadata.
type Entry struct {
	Namespace string
	Key       string
	RawValue  string
	UpdatedAt int64 // epoch ms of the last local write
	Dirty     bool  // true when the remote write has not been confirmed
}

// Cache is safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path. Use ":memory:"
// for throwaway caches in tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("localcache: open %s: %w", path, err)
	}
	// modernc sqlite serialises writes internally but a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("localcache: init schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Put stores rawValue under namespace/key and clears any dirty flag.
func (c *Cache) Put(namespace, key, rawValue string, updatedAt int64) error {
	return c.put(namespace, key, rawValue, updatedAt, false)
}

// PutDirty stores rawValue and marks it as awaiting remote confirmation.
func (c *Cache) PutDirty(namespace, key, rawValue string, updatedAt int64) error {
	return c.put(namespace, key, rawValue, updatedAt, true)
}

func (c *Cache) put(namespace, key, rawValue string, updatedAt int64, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := 0
	if dirty {
		d = 1
	}
	_, err := c.db.Exec(`
INSERT INTO kv (namespace, key, value, updated_at, dirty) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, dirty = excluded.dirty`,
		namespace, key, rawValue, updatedAt, d)
	if err != nil {
		return fmt.Errorf("localcache: put %s::%s: %w", namespace, key, err)
	}
	return nil
}

// Get returns the entry for namespace/key, or ErrNotFound.
func (c *Cache) Get(namespace, key string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := Entry{Namespace: namespace, Key: key}
	var dirty int
	err := c.db.QueryRow(
		`SELECT value, updated_at, dirty FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key).Scan(&e.RawValue, &e.UpdatedAt, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("localcache: get %s::%s: %w", namespace, key, err)
	}
	e.Dirty = dirty == 1
	return e, nil
}

// ClearDirty marks the entry as confirmed without touching its value.
func (c *Cache) ClearDirty(namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`UPDATE kv SET dirty = 0 WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("localcache: clear dirty %s::%s: %w", namespace, key, err)
	}
	return nil
}

// DirtyEntries returns every unconfirmed entry in the namespace, oldest first.
func (c *Cache) DirtyEntries(namespace string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.Query(
		`SELECT key, value, updated_at FROM kv WHERE namespace = ? AND dirty = 1 ORDER BY updated_at ASC`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("localcache: dirty entries for %s: %w", namespace, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e := Entry{Namespace: namespace, Dirty: true}
		if err := rows.Scan(&e.Key, &e.RawValue, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("localcache: scan dirty entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the entry if present.
func (c *Cache) Delete(namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("localcache: delete %s::%s: %w", namespace, key, err)
	}
	return nil
}
