// Package schedule runs the engine's recurring maintenance passes:
// archival evaluation, retention purging, lock reaping, deadline
// enforcement, and delivery-audit cleanup. Tasks are registered
// in-process with cron expressions; only the cluster leader fires them
// so each pass runs once per cluster, not once per worker.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/id"
)

// TaskFunc is one maintenance pass. Failures are logged and retried on
// the next firing; they never stop the scheduler.
type TaskFunc func(ctx context.Context) error

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// task is one registered maintenance task with its firing state.
type task struct {
	name    string
	expr    string
	sched   cronlib.Schedule
	nextRun time.Time
	run     TaskFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due tasks.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// Scheduler fires maintenance tasks on a tick loop. Only the cluster
// leader executes ticks to prevent double-firing.
type Scheduler struct {
	clusterStore cluster.Store
	workerID     id.WorkerID
	logger       *slog.Logger

	tickInterval time.Duration
	leaderTTL    time.Duration

	mu    sync.Mutex
	tasks []*task

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(clusterStore cluster.Store, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		clusterStore: clusterStore,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		leaderTTL:    15 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a maintenance task. The expression is validated up
// front; the first firing is one schedule interval after registration.
func (s *Scheduler) Register(name, expr string, run TaskFunc) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		expr:    expr,
		sched:   sched,
		nextRun: sched.Next(time.Now().UTC()),
		run:     run,
	})
	s.mu.Unlock()
	return nil
}

// RunNow fires the named task immediately, outside its schedule.
// Only the current leader may force a pass; every other worker gets
// foreman.ErrNotLeader so the caller can retry against the right one.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		return err
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return foreman.ErrNotLeader
	}

	s.mu.Lock()
	var found *task
	for _, t := range s.tasks {
		if t.name == name {
			found = t
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return fmt.Errorf("schedule: no task %q registered", name)
	}
	return found.run(ctx)
}

// TaskNames returns the registered task names in registration order.
func (s *Scheduler) TaskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("maintenance scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("tasks", len(s.TaskNames())),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	// Try to renew first (cheap if already leader).
	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	// Not leader yet; try to acquire.
	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired maintenance leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and runs due tasks.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return // Not the leader; skip.
	}

	now := time.Now().UTC()
	for _, t := range s.due(now) {
		s.fire(ctx, t, now)
	}
}

// due returns tasks whose next firing has arrived and advances their
// schedules so a slow task never fires twice for one slot.
func (s *Scheduler) due(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task
	for _, t := range s.tasks {
		if t.nextRun.After(now) {
			continue
		}
		t.nextRun = t.sched.Next(now)
		out = append(out, t)
	}
	return out
}

func (s *Scheduler) fire(ctx context.Context, t *task, now time.Time) {
	start := time.Now()
	if err := t.run(ctx); err != nil {
		s.logger.Error("maintenance task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("maintenance task completed",
		slog.String("task", t.name),
		slog.Duration("elapsed", time.Since(start)),
		slog.Time("fired_at", now),
	)
}
