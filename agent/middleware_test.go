package agent_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/id"
)

func testInvocation() *agent.Invocation {
	return agent.NewInvocation(id.NewInstanceID(), "work-1", "guardian", "guardian-in-progress")
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) agent.Middleware {
		return func(ctx context.Context, _ *agent.Invocation, next agent.Handler) error {
			order = append(order, name+"-in")
			err := next(ctx)
			order = append(order, name+"-out")
			return err
		}
	}

	chain := agent.Chain(mk("a"), mk("b"))
	err := chain(context.Background(), testInvocation(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"a-in", "b-in", "handler", "b-out", "a-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	mw := agent.Recover(slog.Default())
	err := mw(context.Background(), testInvocation(), func(context.Context) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	mw := agent.Timeout(10 * time.Millisecond)
	err := mw(context.Background(), testInvocation(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestWrap_PassesThrough(t *testing.T) {
	var invoked *agent.Invocation
	base := agent.RunnerFunc(func(_ context.Context, inv *agent.Invocation) error {
		invoked = inv
		return nil
	})

	r := agent.Wrap(base, agent.Recover(slog.Default()), agent.Logging(slog.Default()))
	inv := testInvocation()
	if err := r.Invoke(context.Background(), inv); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if invoked == nil || invoked.ID != inv.ID {
		t.Error("wrapped runner did not receive the invocation")
	}
}
