// Package postgres provides a PostgreSQL implementation of the
// timecredit.DurableStore interface: one row per key, every write a single
// transaction.
//
// Asynchronous writes run with synchronous_commit disabled for the
// transaction, trading fsync latency for the small window the spec's write
// policy already tolerates; synchronous writes commit fully durable.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

// Store implements timecredit.DurableStore using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table is the key-value table name (default: "timecredit_ledger")
	Table string

	// Pool configuration
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Table:           "timecredit_ledger",
		MaxConns:        4,
		MaxConnLifetime: time.Hour,
	}
}

// New creates a new PostgreSQL store adapter and ensures the table exists.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = "timecredit_ledger"
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &Store{pool: pool, config: config}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.config.Table))
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Read implements timecredit.DurableStore.
func (s *Store) Read(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.config.Table),
		key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", timecredit.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	return value, nil
}

// WriteAtomic implements timecredit.DurableStore.
func (s *Store) WriteAtomic(ctx context.Context, pairs []timecredit.Pair, mode timecredit.WriteMode) error {
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if mode == timecredit.WriteAsync {
		if _, err := tx.Exec(ctx, "SET LOCAL synchronous_commit TO OFF"); err != nil {
			return fmt.Errorf("set commit mode: %w", err)
		}
	}
	for _, p := range pairs {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = now()`,
			s.config.Table), p.Key, p.Value)
		if err != nil {
			return fmt.Errorf("upsert %q: %w", p.Key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete implements timecredit.DurableStore.
func (s *Store) Delete(ctx context.Context, keys []string, mode timecredit.WriteMode) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE key = ANY($1)", s.config.Table), keys)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
