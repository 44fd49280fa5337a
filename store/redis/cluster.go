package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/id"
)

// renewScript extends the leader TTL only if the caller still holds it.
var renewScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	if err := s.putWorker(ctx, w); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, workerIDsKey, w.ID.String()).Err(); err != nil {
		return fmt.Errorf("foreman/redis: index worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry. If the
// worker held leadership, the leader key is vacated so another worker
// can take over immediately.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	leaderID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("foreman/redis: get leader: %w", err)
	}
	if leaderID == workerID.String() {
		if err := s.client.Del(ctx, leaderKey).Err(); err != nil {
			return fmt.Errorf("foreman/redis: vacate leadership: %w", err)
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(workerID.String()))
	pipe.SRem(ctx, workerIDsKey, workerID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("foreman/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	w, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	w.LastSeen = time.Now()
	return s.putWorker(ctx, w)
}

// GetWorker returns a worker by ID, or foreman.ErrWorkerNotFound.
func (s *Store) GetWorker(ctx context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	data, err := s.client.Get(ctx, workerKey(workerID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, foreman.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("foreman/redis: get worker: %w", err)
	}

	var w cluster.Worker
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("foreman/redis: decode worker: %w", err)
	}
	return &w, nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: list workers smembers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, raw := range ids {
		workerID, parseErr := id.ParseWorkerID(raw)
		if parseErr != nil {
			continue
		}
		w, getErr := s.GetWorker(ctx, workerID)
		if getErr != nil {
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range workers {
		if !w.LastSeen.After(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader via SETNX on
// the leader key with a TTL. A worker that already holds the key simply
// renews it.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaderKey, workerID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("foreman/redis: acquire leadership: %w", err)
	}
	if ok {
		s.markLeader(ctx, workerID, ttl)
		return true, nil
	}
	return s.RenewLeadership(ctx, workerID, ttl)
}

// RenewLeadership extends the leader's hold if the caller still owns it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.client, []string{leaderKey},
		workerID.String(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("foreman/redis: renew leadership: %w", err)
	}
	if res != 1 {
		return false, nil
	}
	s.markLeader(ctx, workerID, ttl)
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is none.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	leaderID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("foreman/redis: get leader: %w", err)
	}

	workerID, err := id.ParseWorkerID(leaderID)
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: parse leader id: %w", err)
	}
	w, err := s.GetWorker(ctx, workerID)
	if errors.Is(err, foreman.ErrWorkerNotFound) {
		return nil, nil
	}
	return w, err
}

func (s *Store) putWorker(ctx context.Context, w *cluster.Worker) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode worker: %w", err)
	}
	if err := s.client.Set(ctx, workerKey(w.ID.String()), string(data), 0).Err(); err != nil {
		return fmt.Errorf("foreman/redis: put worker: %w", err)
	}
	return nil
}

// markLeader mirrors leadership onto the worker record so listings show
// who leads. Best effort: the leader key is the source of truth.
func (s *Store) markLeader(ctx context.Context, workerID id.WorkerID, ttl time.Duration) {
	w, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return
	}
	until := time.Now().Add(ttl)
	w.IsLeader = true
	w.LeaderUntil = &until
	if err := s.putWorker(ctx, w); err != nil {
		s.logger.WarnContext(ctx, "failed to mark leader on worker record",
			"worker_id", workerID, "error", err)
	}
}
