package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
)

// Membership registers this engine process with the cluster store and
// keeps its heartbeat fresh. It also answers liveness questions for the
// lock reaper: a worker is provably dead only when its record is gone
// or its heartbeat is past the dead threshold.
type Membership struct {
	store         Store
	workerID      id.WorkerID
	pipelines     []string
	interval      time.Duration
	deadThreshold time.Duration
	logger        *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewMembership creates the membership runner for one worker process.
func NewMembership(store Store, workerID id.WorkerID, pipelines []string, interval, deadThreshold time.Duration, logger *slog.Logger) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		store:         store,
		workerID:      workerID,
		pipelines:     pipelines,
		interval:      interval,
		deadThreshold: deadThreshold,
		logger:        logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// WorkerID returns this process's worker ID.
func (m *Membership) WorkerID() id.WorkerID { return m.workerID }

// Start registers the worker and begins the heartbeat loop.
func (m *Membership) Start(ctx context.Context) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &Worker{
		ID:        m.workerID,
		Hostname:  hostname,
		Pipelines: m.pipelines,
		State:     WorkerActive,
		LastSeen:  now,
		CreatedAt: now,
	}
	if err := m.store.RegisterWorker(ctx, w); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	go m.heartbeatLoop()

	m.logger.Info("cluster membership started",
		slog.String("worker_id", m.workerID.String()),
		slog.String("hostname", hostname),
		slog.Duration("heartbeat_interval", m.interval),
	)
	return nil
}

// Stop halts the heartbeat loop and deregisters the worker.
func (m *Membership) Stop(ctx context.Context) error {
	close(m.stop)
	<-m.done

	if err := m.store.DeregisterWorker(ctx, m.workerID); err != nil && !errors.Is(err, foreman.ErrWorkerNotFound) {
		m.logger.Warn("failed to deregister worker",
			slog.String("worker_id", m.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (m *Membership) heartbeatLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			if err := m.store.HeartbeatWorker(ctx, m.workerID); err != nil {
				m.logger.Warn("worker heartbeat failed",
					slog.String("worker_id", m.workerID.String()),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

// ProvablyDead reports whether the worker is past the dead threshold or
// deregistered entirely. A live record with a fresh heartbeat means the
// holder may just be slow, which is never grounds for reaping.
func (m *Membership) ProvablyDead(ctx context.Context, workerID id.WorkerID) (bool, error) {
	w, err := m.store.GetWorker(ctx, workerID)
	if errors.Is(err, foreman.ErrWorkerNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if w.State == WorkerDead {
		return true, nil
	}
	return time.Now().UTC().Sub(w.LastSeen) > m.deadThreshold, nil
}
