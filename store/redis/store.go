// Package redis implements store.Store using Redis. Instances are
// stored as Hashes with a version field so conditional stage patches
// run as a compare-and-swap Lua script; role locks are plain SETNX
// keys. Lock expiry is tracked in the payload rather than with Redis
// TTLs so the reaper, not Redis, decides when a dead holder's lock is
// released.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Compile-time interface checks.
var (
	_ instance.Store = (*Store)(nil)
	_ lock.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ archive.Store  = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
