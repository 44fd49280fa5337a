package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/id"
)

const workerColumns = `
	id, hostname, pipelines, state, is_leader, leader_until,
	last_seen, metadata, created_at`

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO foreman_workers (
			id, hostname, pipelines, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			pipelines = EXCLUDED.pipelines,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		w.ID.String(), w.Hostname, w.Pipelines, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, w.Metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM foreman_workers WHERE id = $1`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE foreman_workers SET last_seen = NOW() WHERE id = $1`,
		workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrWorkerNotFound
	}
	return nil
}

// GetWorker returns a worker by ID.
func (s *Store) GetWorker(ctx context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workerColumns+` FROM foreman_workers WHERE id = $1`,
		workerID.String(),
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, foreman.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("foreman/postgres: get worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns all registered workers.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM foreman_workers ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: list workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older than
// the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM foreman_workers
		 WHERE last_seen < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: reap dead workers: %w", err)
	}
	defer rows.Close()

	return collectWorkers(rows)
}

// AcquireLeadership attempts to become the cluster leader.
// Uses sequential statements: clear any expired leader, check for an
// active leader, then claim if the seat is open or already ours.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()
	until := time.Now().UTC().Add(ttl)

	_, err := s.pool.Exec(ctx, `
		UPDATE foreman_workers
		SET is_leader = FALSE, leader_until = NULL
		WHERE is_leader = TRUE AND leader_until < NOW()`,
	)
	if err != nil {
		return false, fmt.Errorf("foreman/postgres: clear expired leader: %w", err)
	}

	var activeLeaderID *string
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM foreman_workers
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`,
	).Scan(&activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("foreman/postgres: check leader: %w", err)
	}

	if activeLeaderID != nil && *activeLeaderID != wID {
		return false, nil
	}

	tag, claimErr := s.pool.Exec(ctx, `
		UPDATE foreman_workers
		SET is_leader = TRUE, leader_until = $2
		WHERE id = $1`,
		wID, until,
	)
	if claimErr != nil {
		return false, fmt.Errorf("foreman/postgres: claim leadership: %w", claimErr)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE foreman_workers
		SET leader_until = $2
		WHERE id = $1 AND is_leader = TRUE`,
		workerID.String(), until,
	)
	if err != nil {
		return false, fmt.Errorf("foreman/postgres: renew leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+workerColumns+` FROM foreman_workers
		 WHERE is_leader = TRUE AND leader_until >= NOW()
		 LIMIT 1`,
	)

	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("foreman/postgres: get leader: %w", err)
	}
	return w, nil
}

// scanWorker scans a single worker row.
func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		idStr    string
		stateStr string
	)
	err := row.Scan(
		&idStr, &w.Hostname, &w.Pipelines, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.Metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.State = cluster.WorkerState(stateStr)

	parsedID, parseErr := id.ParseWorkerID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("foreman/postgres: parse worker id %q: %w", idStr, parseErr)
	}
	w.ID = parsedID

	return &w, nil
}

// collectWorkers collects all workers from query rows.
func collectWorkers(rows pgx.Rows) ([]*cluster.Worker, error) {
	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("foreman/postgres: scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("foreman/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}
