package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/lock"
)

// AcquireLock atomically creates the lock via SETNX. No Redis TTL is
// set: expiry lives in the payload so the reaper can confirm the holder
// is dead before the lock is released.
func (s *Store) AcquireLock(ctx context.Context, l *lock.Lock) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode lock: %w", err)
	}

	ok, err := s.client.SetNX(ctx, lockKey(l.Key.String()), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("foreman/redis: acquire lock: %w", err)
	}
	if !ok {
		return foreman.ErrLockHeld
	}
	if err := s.client.SAdd(ctx, lockKeysKey, l.Key.String()).Err(); err != nil {
		return fmt.Errorf("foreman/redis: index lock: %w", err)
	}
	return nil
}

// ReleaseLock deletes the lock with the given key. Idempotent.
func (s *Store) ReleaseLock(ctx context.Context, key lock.Key) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, lockKey(key.String()))
	pipe.SRem(ctx, lockKeysKey, key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("foreman/redis: release lock: %w", err)
	}
	return nil
}

// GetLock returns the current holder of the key.
func (s *Store) GetLock(ctx context.Context, key lock.Key) (*lock.Lock, error) {
	data, err := s.client.Get(ctx, lockKey(key.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, foreman.ErrLockNotFound
		}
		return nil, fmt.Errorf("foreman/redis: get lock: %w", err)
	}

	var l lock.Lock
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("foreman/redis: decode lock: %w", err)
	}
	return &l, nil
}

// ListLocks returns all currently held locks.
func (s *Store) ListLocks(ctx context.Context) ([]*lock.Lock, error) {
	keys, err := s.client.SMembers(ctx, lockKeysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: list locks smembers: %w", err)
	}

	result := make([]*lock.Lock, 0, len(keys))
	for _, k := range keys {
		data, getErr := s.client.Get(ctx, lockKey(k)).Result()
		if getErr != nil {
			continue // released between SMEMBERS and GET
		}
		var l lock.Lock
		if err := json.Unmarshal([]byte(data), &l); err != nil {
			continue
		}
		result = append(result, &l)
	}
	return result, nil
}

// ListExpiredLocks returns held locks whose TTL has elapsed.
func (s *Store) ListExpiredLocks(ctx context.Context) ([]*lock.Lock, error) {
	all, err := s.ListLocks(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expired := make([]*lock.Lock, 0)
	for _, l := range all {
		if l.Expired(now) {
			expired = append(expired, l)
		}
	}
	return expired, nil
}
