package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore scopes keys by origin so one table can back several clients.
type PostgresStore struct {
	pool   *pgxpool.Pool
	origin string
}

func NewPostgresStore(ctx context.Context, dsn, origin string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "default"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool, origin: origin}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, false, err
	}
	var value []byte
	err = s.pool.QueryRow(ctx, `
SELECT value FROM kv_entries WHERE origin = $1 AND key = $2
`, s.origin, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kvstore get: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO kv_entries (origin, key, value, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (origin, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, s.origin, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("kvstore set: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE origin = $1 AND key = $2`, s.origin, key); err != nil {
		return fmt.Errorf("kvstore remove: %w", err)
	}
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS kv_entries (
	origin TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (origin, key)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_updated_at ON kv_entries (updated_at DESC);`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize kv schema: %w", err)
		}
	}
	return nil
}
