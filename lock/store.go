package lock

import (
	"context"
)

// Store defines the persistence contract for role locks. Lock entries
// are ephemeral: safe to lose on crash, with TTL reaping as the
// recovery path.
type Store interface {
	// AcquireLock atomically creates the lock if no lock with the same
	// key exists. Fails with foreman.ErrLockHeld if one does — it never
	// overwrites. The given lock's ID, holder, worker, and expiry are
	// persisted as provided.
	AcquireLock(ctx context.Context, l *Lock) error

	// ReleaseLock deletes the lock with the given key. Releasing a key
	// that is not held is a no-op, so release paths stay idempotent.
	ReleaseLock(ctx context.Context, key Key) error

	// GetLock returns the current holder of the key, or
	// foreman.ErrLockNotFound if the key is free.
	GetLock(ctx context.Context, key Key) (*Lock, error)

	// ListLocks returns all currently held locks.
	ListLocks(ctx context.Context) ([]*Lock, error)

	// ListExpiredLocks returns held locks whose TTL has elapsed. The
	// reaper confirms holder death before releasing any of them.
	ListExpiredLocks(ctx context.Context) ([]*Lock, error)
}
