// Package memory is a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ instance.Store = (*Store)(nil)
	_ lock.Store     = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ archive.Store  = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	instances  map[string]*instance.Instance
	locks      map[string]*lock.Lock // key: Key.String()
	deliveries map[string]*event.Record
	archives   map[string]*archive.Record
	workers    map[string]*cluster.Worker

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		instances:  make(map[string]*instance.Instance),
		locks:      make(map[string]*lock.Lock),
		deliveries: make(map[string]*event.Record),
		archives:   make(map[string]*archive.Record),
		workers:    make(map[string]*cluster.Worker),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Instance Store
// ──────────────────────────────────────────────────

// CreateInstance persists a new instance, enforcing the at-most-one
// running instance invariant per (pipeline, work unit).
func (m *Store) CreateInstance(_ context.Context, in *instance.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := in.ID.String()
	if _, exists := m.instances[key]; exists {
		return foreman.ErrInstanceExists
	}
	if in.Phase == instance.PhaseRunning {
		for _, existing := range m.instances {
			if existing.Phase == instance.PhaseRunning &&
				existing.Pipeline == in.Pipeline &&
				existing.WorkUnitID == in.WorkUnitID {
				return foreman.ErrActiveInstance
			}
		}
	}
	m.instances[key] = in.Clone()
	return nil
}

// GetInstance retrieves an instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, foreman.ErrInstanceNotFound
	}
	return in.Clone(), nil
}

// PatchInstanceLabels atomically merge-patches the instance's labels,
// conditional on the expected resource version.
func (m *Store) PatchInstanceLabels(_ context.Context, instanceID id.InstanceID, expectedVersion int64, patch map[string]string) (*instance.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, foreman.ErrInstanceNotFound
	}
	if in.Phase.Terminal() {
		return nil, foreman.ErrInstanceTerminal
	}
	if in.ResourceVersion != expectedVersion {
		return nil, foreman.ErrTransitionConflict
	}

	updated := in.Clone()
	for k, v := range patch {
		if v == "" {
			delete(updated.Labels, k)
			continue
		}
		updated.Labels[k] = v
	}
	updated.Touch()
	m.instances[instanceID.String()] = updated
	return updated.Clone(), nil
}

// UpdateInstance conditionally replaces the instance's mutable fields,
// using the given instance's ResourceVersion as the expected version.
func (m *Store) UpdateInstance(_ context.Context, in *instance.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := in.ID.String()
	stored, ok := m.instances[key]
	if !ok {
		return foreman.ErrInstanceNotFound
	}
	if stored.Phase.Terminal() {
		return foreman.ErrInstanceTerminal
	}
	if stored.ResourceVersion != in.ResourceVersion {
		return foreman.ErrTransitionConflict
	}

	updated := in.Clone()
	updated.Touch()
	m.instances[key] = updated
	// Reflect the bumped version back so callers hold a current copy.
	in.Entity = updated.Entity
	return nil
}

// ListInstances returns instances matching opts, ordered by start time.
func (m *Store) ListInstances(_ context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*instance.Instance, 0, len(m.instances))
	for _, in := range m.instances {
		if opts.Phase != "" && in.Phase != opts.Phase {
			continue
		}
		if opts.WorkUnitID != "" && in.WorkUnitID != opts.WorkUnitID {
			continue
		}
		if opts.Selector != nil && !opts.Selector.Matches(in.Labels) {
			continue
		}
		if !opts.Since.IsZero() && in.StartedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && in.StartedAt.After(opts.Until) {
			continue
		}
		result = append(result, in.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountInstances returns the number of instances matching opts.
func (m *Store) CountInstances(_ context.Context, opts instance.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, in := range m.instances {
		if opts.Pipeline != "" && in.Pipeline != opts.Pipeline {
			continue
		}
		if opts.Phase != "" && in.Phase != opts.Phase {
			continue
		}
		n++
	}
	return n, nil
}

// DeleteInstance removes an instance by ID.
func (m *Store) DeleteInstance(_ context.Context, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := instanceID.String()
	if _, ok := m.instances[key]; !ok {
		return foreman.ErrInstanceNotFound
	}
	delete(m.instances, key)
	return nil
}

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLock atomically creates the lock if its key is free.
func (m *Store) AcquireLock(_ context.Context, l *lock.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := l.Key.String()
	if _, held := m.locks[key]; held {
		return foreman.ErrLockHeld
	}
	cp := *l
	m.locks[key] = &cp
	return nil
}

// ReleaseLock deletes the lock with the given key. Idempotent.
func (m *Store) ReleaseLock(_ context.Context, key lock.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.locks, key.String())
	return nil
}

// GetLock returns the current holder of the key.
func (m *Store) GetLock(_ context.Context, key lock.Key) (*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[key.String()]
	if !ok {
		return nil, foreman.ErrLockNotFound
	}
	cp := *l
	return &cp, nil
}

// ListLocks returns all currently held locks.
func (m *Store) ListLocks(_ context.Context) ([]*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*lock.Lock, 0, len(m.locks))
	for _, l := range m.locks {
		cp := *l
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListExpiredLocks returns held locks whose TTL has elapsed.
func (m *Store) ListExpiredLocks(_ context.Context) ([]*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	result := make([]*lock.Lock, 0)
	for _, l := range m.locks {
		if !l.Expired(now) {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Event audit Store
// ──────────────────────────────────────────────────

// RecordDelivery persists a new audit record keyed on delivery ID.
func (m *Store) RecordDelivery(_ context.Context, rec *event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.deliveries[rec.DeliveryID]; exists {
		return foreman.ErrDuplicateDelivery
	}
	cp := *rec
	m.deliveries[rec.DeliveryID] = &cp
	return nil
}

// SetDisposition updates the record's disposition.
func (m *Store) SetDisposition(_ context.Context, deliveryID string, d event.Disposition, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.deliveries[deliveryID]
	if !ok {
		return foreman.ErrDeliveryNotFound
	}
	rec.Disposition = d
	rec.Note = note
	return nil
}

// GetDelivery retrieves an audit record by delivery ID.
func (m *Store) GetDelivery(_ context.Context, deliveryID string) (*event.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.deliveries[deliveryID]
	if !ok {
		return nil, foreman.ErrDeliveryNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListDeliveries returns audit records, newest first.
func (m *Store) ListDeliveries(_ context.Context, opts event.ListOpts) ([]*event.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*event.Record, 0, len(m.deliveries))
	for _, rec := range m.deliveries {
		if opts.Kind != "" && rec.Kind != opts.Kind {
			continue
		}
		if opts.WorkUnitID != "" && rec.WorkUnitID != opts.WorkUnitID {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ReceivedAt.After(result[k].ReceivedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeDeliveries removes audit records received before the given time.
func (m *Store) PurgeDeliveries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, rec := range m.deliveries {
		if rec.ReceivedAt.Before(before) {
			delete(m.deliveries, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Archive Store
// ──────────────────────────────────────────────────

// CreateArchive persists a new archive record.
func (m *Store) CreateArchive(_ context.Context, rec *archive.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.ID.String()
	if _, exists := m.archives[key]; exists {
		return foreman.ErrArchiveExists
	}
	m.archives[key] = cloneArchive(rec)
	return nil
}

// GetArchive returns the archive record by ID.
func (m *Store) GetArchive(_ context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.archives[archiveID.String()]
	if !ok {
		return nil, foreman.ErrArchiveNotFound
	}
	return cloneArchive(rec), nil
}

// ListArchives returns archive records matching opts, newest first.
func (m *Store) ListArchives(_ context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*archive.Record, 0, len(m.archives))
	for _, rec := range m.archives {
		if opts.Pipeline != "" && rec.Pipeline != opts.Pipeline {
			continue
		}
		if opts.WorkUnitID != "" && rec.WorkUnitID != opts.WorkUnitID {
			continue
		}
		if opts.Selector != nil && !opts.Selector.Matches(rec.Labels) {
			continue
		}
		if !opts.Since.IsZero() && rec.ArchivedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && rec.ArchivedAt.After(opts.Until) {
			continue
		}
		result = append(result, cloneArchive(rec))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ArchivedAt.After(result[k].ArchivedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListExpiredArchives returns records whose retention window passed.
func (m *Store) ListExpiredArchives(_ context.Context, now time.Time) ([]*archive.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*archive.Record, 0)
	for _, rec := range m.archives {
		if !rec.Expired(now) {
			continue
		}
		result = append(result, cloneArchive(rec))
	}
	return result, nil
}

// DeleteArchive removes an archive record by ID.
func (m *Store) DeleteArchive(_ context.Context, archiveID id.ArchiveID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := archiveID.String()
	if _, ok := m.archives[key]; !ok {
		return foreman.ErrArchiveNotFound
	}
	delete(m.archives, key)
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker to the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker from the registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return foreman.ErrWorkerNotFound
	}
	delete(m.workers, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

// HeartbeatWorker updates a worker's last-seen timestamp.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return foreman.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// GetWorker returns a worker by ID.
func (m *Store) GetWorker(_ context.Context, workerID id.WorkerID) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return nil, foreman.ErrWorkerNotFound
	}
	cp := *w
	return &cp, nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	result := make([]*cluster.Worker, 0)
	for _, w := range m.workers {
		if w.LastSeen.After(cutoff) {
			continue
		}
		cp := *w
		result = append(result, &cp)
	}
	return result, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := workerID.String()
	if m.leader != "" && m.leader != key && now.Before(m.leaderUntil) {
		return false, nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	if w, ok := m.workers[key]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if m.leader != key {
		return false, nil
	}
	m.leaderUntil = time.Now().UTC().Add(ttl)
	if w, ok := m.workers[key]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if none.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || time.Now().UTC().After(m.leaderUntil) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneArchive(rec *archive.Record) *archive.Record {
	cp := *rec
	if rec.Labels != nil {
		cp.Labels = make(map[string]string, len(rec.Labels))
		for k, v := range rec.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp
}
