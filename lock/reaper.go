package lock

import (
	"context"
	"log/slog"

	"github.com/xraph/foreman/id"
)

// Liveness answers whether an engine worker is provably dead — not
// merely slow. The cluster store satisfies this via heartbeat age.
type Liveness interface {
	ProvablyDead(ctx context.Context, workerID id.WorkerID) (bool, error)
}

// Reaper reclaims expired locks left behind by crashed holders. A lock
// is only released when its TTL has elapsed AND the worker that
// acquired it is provably dead; an expired lock held by a live (slow)
// worker is left alone to avoid two concurrent agent invocations.
type Reaper struct {
	store    Store
	liveness Liveness
	logger   *slog.Logger
}

// NewReaper creates a Reaper.
func NewReaper(store Store, liveness Liveness, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, liveness: liveness, logger: logger}
}

// Reap scans expired locks and releases those with provably dead
// holders. Returns the released locks.
func (r *Reaper) Reap(ctx context.Context) ([]*Lock, error) {
	expired, err := r.store.ListExpiredLocks(ctx)
	if err != nil {
		return nil, err
	}

	var reaped []*Lock
	for _, l := range expired {
		dead, livErr := r.liveness.ProvablyDead(ctx, l.WorkerID)
		if livErr != nil {
			r.logger.Warn("lock reaper liveness check failed",
				slog.String("key", l.Key.String()),
				slog.String("worker_id", l.WorkerID.String()),
				slog.String("error", livErr.Error()),
			)
			continue
		}
		if !dead {
			// Holder may just be slow. Leave the lock alone.
			continue
		}

		if relErr := r.store.ReleaseLock(ctx, l.Key); relErr != nil {
			r.logger.Error("lock reaper release failed",
				slog.String("key", l.Key.String()),
				slog.String("error", relErr.Error()),
			)
			continue
		}

		r.logger.Info("reaped expired lock",
			slog.String("key", l.Key.String()),
			slog.String("holder_id", l.HolderID.String()),
			slog.String("worker_id", l.WorkerID.String()),
		)
		reaped = append(reaped, l)
	}

	return reaped, nil
}
