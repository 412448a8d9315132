// Package redis provides a Redis implementation of the
// timecredit.DurableStore interface. All pairs of a write travel in one
// MULTI/EXEC transaction, so an observer never sees a partial image.
//
// Redis offers no per-command durability control, so both write modes are
// applied immediately; durability is whatever the server's persistence
// configuration provides.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

// Store implements timecredit.DurableStore using Redis.
type Store struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "timecredit:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{KeyPrefix: "timecredit:"}
}

// New creates a new Redis store adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "timecredit:"
	}
	return &Store{client: client, config: config}, nil
}

// Read implements timecredit.DurableStore.
func (s *Store) Read(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.config.KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", timecredit.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	return v, nil
}

// WriteAtomic implements timecredit.DurableStore.
func (s *Store) WriteAtomic(ctx context.Context, pairs []timecredit.Pair, mode timecredit.WriteMode) error {
	if len(pairs) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, p := range pairs {
		pipe.Set(ctx, s.config.KeyPrefix+p.Key, p.Value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write atomic: %w", err)
	}
	return nil
}

// Delete implements timecredit.DurableStore.
func (s *Store) Delete(ctx context.Context, keys []string, mode timecredit.WriteMode) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.config.KeyPrefix + k
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
