package schedule

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/id"
)

// fakeClusterStore satisfies cluster.Store with a fixed leader.
type fakeClusterStore struct {
	cluster.Store
	leader *cluster.Worker
}

func (f *fakeClusterStore) GetLeader(context.Context) (*cluster.Worker, error) {
	return f.leader, nil
}

func (f *fakeClusterStore) RenewLeadership(context.Context, id.WorkerID, time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeClusterStore) AcquireLeadership(context.Context, id.WorkerID, time.Duration) (bool, error) {
	return false, nil
}

func TestRegister_InvalidExpression(t *testing.T) {
	s := NewScheduler(&fakeClusterStore{}, id.NewWorkerID(), slog.Default())
	if err := s.Register("bad", "not a cron expr", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected parse error for invalid expression")
	}
}

func TestRegister_TracksNames(t *testing.T) {
	s := NewScheduler(&fakeClusterStore{}, id.NewWorkerID(), slog.Default())
	noop := func(context.Context) error { return nil }

	if err := s.Register("archive", "@every 1m", noop); err != nil {
		t.Fatalf("Register archive: %v", err)
	}
	if err := s.Register("purge", "0 3 * * *", noop); err != nil {
		t.Fatalf("Register purge: %v", err)
	}

	names := s.TaskNames()
	if len(names) != 2 || names[0] != "archive" || names[1] != "purge" {
		t.Fatalf("TaskNames = %v", names)
	}
}

func TestDue_AdvancesSchedule(t *testing.T) {
	s := NewScheduler(&fakeClusterStore{}, id.NewWorkerID(), slog.Default())
	if err := s.Register("scan", "@every 10s", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Force the task due in the past.
	s.tasks[0].nextRun = time.Now().UTC().Add(-time.Second)

	now := time.Now().UTC()
	due := s.due(now)
	if len(due) != 1 {
		t.Fatalf("expected 1 due task, got %d", len(due))
	}
	if !s.tasks[0].nextRun.After(now) {
		t.Error("nextRun should advance past now after firing")
	}

	// A second scan at the same instant finds nothing due.
	if again := s.due(now); len(again) != 0 {
		t.Fatalf("expected 0 due tasks on rescan, got %d", len(again))
	}
}

func TestRunNow_RequiresLeadership(t *testing.T) {
	workerID := id.NewWorkerID()
	store := &fakeClusterStore{leader: &cluster.Worker{ID: id.NewWorkerID(), IsLeader: true}}
	s := NewScheduler(store, workerID, slog.Default())

	fired := 0
	if err := s.Register("scan", "@every 1m", func(context.Context) error {
		fired++
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "scan"); !errors.Is(err, foreman.ErrNotLeader) {
		t.Fatalf("err = %v, want ErrNotLeader", err)
	}
	if fired != 0 {
		t.Fatalf("non-leader RunNow fired %d times, want 0", fired)
	}

	// Hand leadership to this worker and retry.
	store.leader = &cluster.Worker{ID: workerID, IsLeader: true}
	if err := s.RunNow(context.Background(), "scan"); err != nil {
		t.Fatalf("RunNow as leader: %v", err)
	}
	if fired != 1 {
		t.Fatalf("leader RunNow fired %d times, want 1", fired)
	}

	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unregistered task")
	}
}

func TestTick_SkipsWhenNotLeader(t *testing.T) {
	other := &cluster.Worker{ID: id.NewWorkerID(), IsLeader: true}
	store := &fakeClusterStore{leader: other}
	s := NewScheduler(store, id.NewWorkerID(), slog.Default())

	fired := false
	if err := s.Register("scan", "@every 1s", func(context.Context) error {
		fired = true
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.tasks[0].nextRun = time.Now().UTC().Add(-time.Second)

	s.tick()
	if fired {
		t.Error("non-leader tick must not fire tasks")
	}
}

func TestTick_FiresWhenLeader(t *testing.T) {
	workerID := id.NewWorkerID()
	store := &fakeClusterStore{leader: &cluster.Worker{ID: workerID, IsLeader: true}}
	s := NewScheduler(store, workerID, slog.Default())

	fired := 0
	if err := s.Register("scan", "@every 1s", func(context.Context) error {
		fired++
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.tasks[0].nextRun = time.Now().UTC().Add(-time.Second)

	s.tick()
	if fired != 1 {
		t.Fatalf("expected 1 firing, got %d", fired)
	}

	// Immediately ticking again must not re-fire: the schedule advanced.
	s.tick()
	if fired != 1 {
		t.Fatalf("expected still 1 firing, got %d", fired)
	}
}
