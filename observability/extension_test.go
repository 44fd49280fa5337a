package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/ext"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
	"github.com/xraph/foreman/observability"
)

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	meter := provider.Meter("test")
	return observability.NewMetricsExtensionWithMeter(meter), reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func newTestInstance() *instance.Instance {
	return &instance.Instance{
		Entity:     foreman.NewEntity(),
		ID:         id.NewInstanceID(),
		Pipeline:   "coding",
		WorkUnitID: "task-7",
		Labels: map[string]string{
			instance.LabelPipeline: "coding",
			instance.LabelWorkUnit: "task-7",
			instance.LabelStage:    "waiting-artifact",
		},
		Phase:     instance.PhaseRunning,
		StartedAt: time.Now().UTC(),
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_InstanceCreated(t *testing.T) {
	e, reader := newTestExtension(t)
	if err := e.OnInstanceCreated(context.Background(), newTestInstance()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "foreman.instance.created"); got != 1 {
		t.Errorf("foreman.instance.created: want 1, got %d", got)
	}
}

func TestMetricsExtension_StageAdvanced(t *testing.T) {
	e, reader := newTestExtension(t)
	if err := e.OnStageAdvanced(context.Background(), newTestInstance(), "waiting-artifact", "guardian-in-progress"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "foreman.stage.advanced"); got != 1 {
		t.Errorf("foreman.stage.advanced: want 1, got %d", got)
	}
}

func TestMetricsExtension_InstanceCompleted(t *testing.T) {
	e, reader := newTestExtension(t)
	if err := e.OnInstanceCompleted(context.Background(), newTestInstance(), 3*time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "foreman.instance.completed"); got != 1 {
		t.Errorf("foreman.instance.completed: want 1, got %d", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "foreman.instance.duration" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected foreman.instance.duration histogram to be recorded")
	}
}

func TestMetricsExtension_SignalDropped(t *testing.T) {
	e, reader := newTestExtension(t)
	evt := &event.Event{ID: id.NewEventID(), Kind: event.KindArtifactProduced}
	if err := e.OnSignalDropped(context.Background(), evt, "no matching instance"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "foreman.signal.dropped"); got != 1 {
		t.Errorf("foreman.signal.dropped: want 1, got %d", got)
	}
}

func TestMetricsExtension_LockReaped(t *testing.T) {
	e, reader := newTestExtension(t)
	l := &lock.Lock{
		ID:       id.NewLockID(),
		Key:      lock.Key{WorkUnitID: "task-7", Role: "implementer"},
		HolderID: id.NewInstanceID(),
	}
	if err := e.OnLockReaped(context.Background(), l); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "foreman.lock.reaped"); got != 1 {
		t.Errorf("foreman.lock.reaped: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension(t)
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	in := newTestInstance()
	evt := &event.Event{ID: id.NewEventID(), Kind: event.KindReviewSubmitted}
	inv := agent.NewInvocation(in.ID, in.WorkUnitID, "guardian", "guardian-in-progress")
	rec := &archive.Record{ID: id.NewArchiveID(), Pipeline: "coding", PolicyName: "default"}

	reg.EmitInstanceCreated(ctx, in)
	reg.EmitStageAdvanced(ctx, in, "created", "implementer-in-progress")
	reg.EmitInstanceCompleted(ctx, in, time.Hour)
	reg.EmitInstanceCancelled(ctx, in, "superseded")
	reg.EmitInstanceFailed(ctx, in, errors.New("agent failed"))
	reg.EmitDeadlineExceeded(ctx, in)
	reg.EmitSignalDropped(ctx, evt, "stale")
	reg.EmitCorrelationAmbiguous(ctx, evt, 2)
	reg.EmitAgentInvoked(ctx, inv)
	reg.EmitInstanceArchived(ctx, rec)
	reg.EmitArchivePurged(ctx, rec)

	checks := []string{
		"foreman.instance.created",
		"foreman.stage.advanced",
		"foreman.instance.completed",
		"foreman.instance.cancelled",
		"foreman.instance.failed",
		"foreman.instance.deadline_exceeded",
		"foreman.signal.dropped",
		"foreman.signal.ambiguous",
		"foreman.agent.invoked",
		"foreman.archive.created",
		"foreman.archive.purged",
	}
	for _, name := range checks {
		if got := counterValue(t, reader, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
