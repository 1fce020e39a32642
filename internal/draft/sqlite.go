package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// sqliteFull is SQLITE_FULL, reported when the database or disk is full.
const sqliteFull = 13

// SQLiteBackend stores drafts in a local SQLite database file. It is the
// default durable backend.
type SQLiteBackend struct {
	db       *sql.DB
	maxBytes int64
}

// NewSQLiteBackend opens (creating if needed) the database at path. A
// maxBytes greater than zero caps the total size of stored drafts.
func NewSQLiteBackend(path string, maxBytes int64) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite backend: create dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite backend: pragma %q: %w", p, err)
		}
	}

	b := &SQLiteBackend{db: db, maxBytes: maxBytes}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite backend: migration: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS drafts (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	return err
}

// Get returns the value stored under key.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM drafts WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite backend: get %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts value under key. The quota check and the write run in one
// transaction.
func (b *SQLiteBackend) Put(ctx context.Context, key string, value []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return b.classify("begin", err)
	}
	defer tx.Rollback()

	if b.maxBytes > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM drafts WHERE key <> ?`, key,
		).Scan(&used)
		if err != nil {
			return b.classify("quota", err)
		}
		if used+entrySize(key, value) > b.maxBytes {
			return fmt.Errorf("sqlite backend: %d of %d bytes used: %w", used, b.maxBytes, ErrStorageFull)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO drafts (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return b.classify("put", err)
	}
	if err := tx.Commit(); err != nil {
		return b.classify("commit", err)
	}
	return nil
}

// Delete removes key.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM drafts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite backend: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists the keys starting with prefix in sorted order.
func (b *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM drafts WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite backend: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite backend: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HealthCheck pings the database.
func (b *SQLiteBackend) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// classify maps SQLITE_FULL to ErrStorageFull.
func (b *SQLiteBackend) classify(op string, err error) error {
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteFull {
		return fmt.Errorf("sqlite backend: %s: %v: %w", op, err, ErrStorageFull)
	}
	return fmt.Errorf("sqlite backend: %s: %w", op, err)
}
