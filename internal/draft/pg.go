package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDiskFull is the SQLSTATE for disk_full.
const pgDiskFull = "53100"

// PgBackend stores drafts in PostgreSQL using pgx/v5. It suits deployments
// where several draft service instances share one store.
type PgBackend struct {
	pool *pgxpool.Pool
}

// NewPgBackend creates a PostgreSQL draft backend.
func NewPgBackend(pool *pgxpool.Pool) *PgBackend {
	return &PgBackend{pool: pool}
}

// EnsureSchema creates the drafts table if it does not exist.
func (b *PgBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS msds_drafts (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create msds_drafts: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (b *PgBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.pool.QueryRow(ctx, `SELECT value FROM msds_drafts WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query draft %q: %w", key, err)
	}
	return value, true, nil
}

// Put upserts value under key.
func (b *PgBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO msds_drafts (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return classifyPgError("upsert draft", err)
	}
	return nil
}

// Delete removes key.
func (b *PgBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM msds_drafts WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete draft %q: %w", key, err)
	}
	return nil
}

// Keys lists the keys starting with prefix in sorted order.
func (b *PgBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key FROM msds_drafts WHERE left(key, length($1)) = $1 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list draft keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan draft key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HealthCheck pings the pool.
func (b *PgBackend) HealthCheck(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the pool.
func (b *PgBackend) Close() error {
	b.pool.Close()
	return nil
}

func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDiskFull {
		return fmt.Errorf("%s: %v: %w", op, err, ErrStorageFull)
	}
	return fmt.Errorf("%s: %w", op, err)
}
