package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/ext"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.InstanceCreated      = (*MetricsExtension)(nil)
	_ ext.StageAdvanced        = (*MetricsExtension)(nil)
	_ ext.InstanceCompleted    = (*MetricsExtension)(nil)
	_ ext.InstanceCancelled    = (*MetricsExtension)(nil)
	_ ext.InstanceFailed       = (*MetricsExtension)(nil)
	_ ext.DeadlineExceeded     = (*MetricsExtension)(nil)
	_ ext.SignalDropped        = (*MetricsExtension)(nil)
	_ ext.CorrelationAmbiguous = (*MetricsExtension)(nil)
	_ ext.LockReaped           = (*MetricsExtension)(nil)
	_ ext.AgentInvoked         = (*MetricsExtension)(nil)
	_ ext.InstanceArchived     = (*MetricsExtension)(nil)
	_ ext.ArchivePurged        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it as
// a Foreman extension to automatically track instance creation and
// completion rates, stage transitions, dropped and ambiguous signals,
// lock reaps, agent invocations, and archival activity.
type MetricsExtension struct {
	InstancesCreated   metric.Int64Counter
	StagesAdvanced     metric.Int64Counter
	InstancesCompleted metric.Int64Counter
	InstancesCancelled metric.Int64Counter
	InstancesFailed    metric.Int64Counter
	DeadlinesExceeded  metric.Int64Counter
	SignalsDropped     metric.Int64Counter
	AmbiguousSignals   metric.Int64Counter
	LocksReaped        metric.Int64Counter
	AgentsInvoked      metric.Int64Counter
	InstancesArchived  metric.Int64Counter
	ArchivesPurged     metric.Int64Counter

	// InstanceDuration is the end-to-end pipeline duration in seconds,
	// recorded for successful instances.
	InstanceDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter("github.com/xraph/foreman/observability"))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation never fails on conforming
// providers; a failing instrument is replaced with a no-op.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		InstancesCreated:   counter(meter, "foreman.instance.created", "Workflow instances created."),
		StagesAdvanced:     counter(meter, "foreman.stage.advanced", "Stage transitions recorded."),
		InstancesCompleted: counter(meter, "foreman.instance.completed", "Instances that reached a successful terminal stage."),
		InstancesCancelled: counter(meter, "foreman.instance.cancelled", "Instances cancelled out-of-band."),
		InstancesFailed:    counter(meter, "foreman.instance.failed", "Instances that ended in the failed or error phase."),
		DeadlinesExceeded:  counter(meter, "foreman.instance.deadline_exceeded", "Instances terminated for exceeding their deadline."),
		SignalsDropped:     counter(meter, "foreman.signal.dropped", "Inbound events discarded without matching an instance."),
		AmbiguousSignals:   counter(meter, "foreman.signal.ambiguous", "Inbound events that matched more than one instance."),
		LocksReaped:        counter(meter, "foreman.lock.reaped", "Expired role locks force-released from dead holders."),
		AgentsInvoked:      counter(meter, "foreman.agent.invoked", "Agent invocations accepted by the execution substrate."),
		InstancesArchived:  counter(meter, "foreman.archive.created", "Terminal instances archived out of active storage."),
		ArchivesPurged:     counter(meter, "foreman.archive.purged", "Archive records permanently purged."),
		InstanceDuration:   histogram(meter, "foreman.instance.duration", "End-to-end pipeline duration in seconds.", "s"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func histogram(meter metric.Meter, name, desc, unit string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		return noop.Float64Histogram{}
	}
	return h
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Instance lifecycle hooks ────────────────────────

// OnInstanceCreated implements ext.InstanceCreated.
func (m *MetricsExtension) OnInstanceCreated(ctx context.Context, in *instance.Instance) error {
	m.InstancesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", in.Pipeline),
	))
	return nil
}

// OnStageAdvanced implements ext.StageAdvanced.
func (m *MetricsExtension) OnStageAdvanced(ctx context.Context, in *instance.Instance, from, to string) error {
	m.StagesAdvanced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", in.Pipeline),
		attribute.String("from", from),
		attribute.String("to", to),
	))
	return nil
}

// OnInstanceCompleted implements ext.InstanceCompleted.
func (m *MetricsExtension) OnInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) error {
	attrs := metric.WithAttributes(attribute.String("pipeline", in.Pipeline))
	m.InstancesCompleted.Add(ctx, 1, attrs)
	m.InstanceDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnInstanceCancelled implements ext.InstanceCancelled.
func (m *MetricsExtension) OnInstanceCancelled(ctx context.Context, in *instance.Instance, _ string) error {
	m.InstancesCancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", in.Pipeline),
	))
	return nil
}

// OnInstanceFailed implements ext.InstanceFailed.
func (m *MetricsExtension) OnInstanceFailed(ctx context.Context, in *instance.Instance, _ error) error {
	m.InstancesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", in.Pipeline),
		attribute.String("stage", in.Stage()),
	))
	return nil
}

// OnDeadlineExceeded implements ext.DeadlineExceeded.
func (m *MetricsExtension) OnDeadlineExceeded(ctx context.Context, in *instance.Instance) error {
	m.DeadlinesExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", in.Pipeline),
	))
	return nil
}

// ── Event correlation hooks ─────────────────────────

// OnSignalDropped implements ext.SignalDropped.
func (m *MetricsExtension) OnSignalDropped(ctx context.Context, evt *event.Event, reason string) error {
	m.SignalsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(evt.Kind)),
		attribute.String("reason", reason),
	))
	return nil
}

// OnCorrelationAmbiguous implements ext.CorrelationAmbiguous.
func (m *MetricsExtension) OnCorrelationAmbiguous(ctx context.Context, evt *event.Event, _ int) error {
	m.AmbiguousSignals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(evt.Kind)),
	))
	return nil
}

// ── Lock and agent hooks ────────────────────────────

// OnLockReaped implements ext.LockReaped.
func (m *MetricsExtension) OnLockReaped(ctx context.Context, l *lock.Lock) error {
	m.LocksReaped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", l.Key.Role),
	))
	return nil
}

// OnAgentInvoked implements ext.AgentInvoked.
func (m *MetricsExtension) OnAgentInvoked(ctx context.Context, inv *agent.Invocation) error {
	m.AgentsInvoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", inv.Role),
	))
	return nil
}

// ── Archival hooks ──────────────────────────────────

// OnInstanceArchived implements ext.InstanceArchived.
func (m *MetricsExtension) OnInstanceArchived(ctx context.Context, rec *archive.Record) error {
	m.InstancesArchived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", rec.Pipeline),
		attribute.String("policy", rec.PolicyName),
	))
	return nil
}

// OnArchivePurged implements ext.ArchivePurged.
func (m *MetricsExtension) OnArchivePurged(ctx context.Context, rec *archive.Record) error {
	m.ArchivesPurged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", rec.Pipeline),
	))
	return nil
}
