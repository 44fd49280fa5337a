package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/lock"
)

const lockColumns = `
	key, id, work_unit_id, role, holder_id, worker_id, created_at, expires_at`

// AcquireLock atomically creates the lock if no lock with the same key
// exists. ON CONFLICT DO NOTHING makes the create-if-absent a single
// statement with no read-then-write race.
func (s *Store) AcquireLock(ctx context.Context, l *lock.Lock) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO foreman_locks (
			key, id, work_unit_id, role, holder_id, worker_id,
			created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO NOTHING`,
		l.Key.String(), l.ID.String(), l.Key.WorkUnitID, l.Key.Role,
		l.HolderID.String(), l.WorkerID.String(),
		l.CreatedAt, nullTime(l.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: acquire lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrLockHeld
	}
	return nil
}

// ReleaseLock deletes the lock with the given key. Releasing a key that
// is not held is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, key lock.Key) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM foreman_locks WHERE key = $1`,
		key.String(),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: release lock: %w", err)
	}
	return nil
}

// GetLock returns the current holder of the key.
func (s *Store) GetLock(ctx context.Context, key lock.Key) (*lock.Lock, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM foreman_locks WHERE key = $1`,
		key.String(),
	)

	l, err := scanLock(row)
	if err != nil {
		if isNoRows(err) {
			return nil, foreman.ErrLockNotFound
		}
		return nil, fmt.Errorf("foreman/postgres: get lock: %w", err)
	}
	return l, nil
}

// ListLocks returns all currently held locks.
func (s *Store) ListLocks(ctx context.Context) ([]*lock.Lock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lockColumns+` FROM foreman_locks ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: list locks: %w", err)
	}
	defer rows.Close()

	return collectLocks(rows)
}

// ListExpiredLocks returns held locks whose TTL has elapsed.
func (s *Store) ListExpiredLocks(ctx context.Context) ([]*lock.Lock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+lockColumns+` FROM foreman_locks
		 WHERE expires_at IS NOT NULL AND expires_at < NOW()
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: list expired locks: %w", err)
	}
	defer rows.Close()

	return collectLocks(rows)
}

// scanLock scans a single lock row.
func scanLock(row pgx.Row) (*lock.Lock, error) {
	var (
		l         lock.Lock
		keyStr    string
		idStr     string
		holderStr string
		workerStr string
		expiresAt *time.Time
	)
	err := row.Scan(
		&keyStr, &idStr, &l.Key.WorkUnitID, &l.Key.Role,
		&holderStr, &workerStr, &l.CreatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	l.ExpiresAt = fromNullTime(expiresAt)

	parsedID, parseErr := id.ParseLockID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("foreman/postgres: parse lock id %q: %w", idStr, parseErr)
	}
	l.ID = parsedID

	parsedHolder, holderErr := id.ParseInstanceID(holderStr)
	if holderErr != nil {
		return nil, fmt.Errorf("foreman/postgres: parse lock holder %q: %w", holderStr, holderErr)
	}
	l.HolderID = parsedHolder

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			l.WorkerID = parsedWorker
		}
	}

	return &l, nil
}

// collectLocks collects all locks from query rows.
func collectLocks(rows pgx.Rows) ([]*lock.Lock, error) {
	var locks []*lock.Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("foreman/postgres: scan lock row: %w", err)
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("foreman/postgres: iterate lock rows: %w", err)
	}
	return locks, nil
}
