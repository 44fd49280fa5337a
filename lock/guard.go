package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
)

// Guard is a held lock whose release is idempotent. Callers defer
// Release immediately after a successful acquire so the lock is freed
// on every exit path of the guarded operation.
type Guard struct {
	store Store
	lock  *Lock

	once     sync.Once
	released bool
}

// Lock returns the underlying lock record.
func (g *Guard) Lock() *Lock { return g.lock }

// Release frees the lock. Safe to call more than once; only the first
// call hits the store.
func (g *Guard) Release(ctx context.Context) error {
	var err error
	g.once.Do(func() {
		err = g.store.ReleaseLock(ctx, g.lock.Key)
		g.released = err == nil
	})
	return err
}

// Acquire attempts a single atomic create-if-absent acquisition and
// returns a Guard on success. foreman.ErrLockHeld means the role already
// has an active holder — callers treat that as a duplicate signal, not
// an error.
func Acquire(ctx context.Context, store Store, key Key, holder id.InstanceID, worker id.WorkerID, ttl time.Duration) (*Guard, error) {
	l := &Lock{
		ID:        id.NewLockID(),
		Key:       key,
		HolderID:  holder,
		WorkerID:  worker,
		CreatedAt: time.Now().UTC(),
	}
	if ttl > 0 {
		l.ExpiresAt = l.CreatedAt.Add(ttl)
	}

	if err := store.AcquireLock(ctx, l); err != nil {
		return nil, err
	}
	return &Guard{store: store, lock: l}, nil
}

// With runs fn while holding the lock and releases it unconditionally
// when fn returns, panics, or the context ends. If the lock is already
// held, fn is not run and foreman.ErrLockHeld is returned so the caller
// can treat it as a duplicate.
func With(ctx context.Context, store Store, key Key, holder id.InstanceID, worker id.WorkerID, ttl time.Duration, fn func(ctx context.Context) error) error {
	g, err := Acquire(ctx, store, key, holder, worker, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// Release with a fresh context so a cancelled guarded operation
		// still frees the lock.
		releaseCtx := ctx
		if ctx.Err() != nil {
			releaseCtx = context.WithoutCancel(ctx)
		}
		_ = g.Release(releaseCtx)
	}()

	return fn(ctx)
}

// IsHeld reports whether err means the lock already had a holder.
func IsHeld(err error) bool { return errors.Is(err, foreman.ErrLockHeld) }
