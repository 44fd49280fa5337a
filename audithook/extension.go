package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/ext"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.InstanceCreated      = (*Extension)(nil)
	_ ext.StageAdvanced        = (*Extension)(nil)
	_ ext.InstanceCompleted    = (*Extension)(nil)
	_ ext.InstanceCancelled    = (*Extension)(nil)
	_ ext.InstanceFailed       = (*Extension)(nil)
	_ ext.DeadlineExceeded     = (*Extension)(nil)
	_ ext.SignalDropped        = (*Extension)(nil)
	_ ext.CorrelationAmbiguous = (*Extension)(nil)
	_ ext.LockReaped           = (*Extension)(nil)
	_ ext.AgentInvoked         = (*Extension)(nil)
	_ ext.InstanceArchived     = (*Extension)(nil)
	_ ext.ArchivePurged        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so the package carries no dependency on any concrete
// audit store — callers inject their backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Foreman lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Instance lifecycle hooks ────────────────────────

// OnInstanceCreated implements ext.InstanceCreated.
func (e *Extension) OnInstanceCreated(ctx context.Context, in *instance.Instance) error {
	return e.record(ctx, ActionInstanceCreated, SeverityInfo, OutcomeSuccess,
		ResourceInstance, in.ID.String(), CategoryInstance, nil,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"stage", in.Stage(),
	)
}

// OnStageAdvanced implements ext.StageAdvanced.
func (e *Extension) OnStageAdvanced(ctx context.Context, in *instance.Instance, from, to string) error {
	return e.record(ctx, ActionStageAdvanced, SeverityInfo, OutcomeSuccess,
		ResourceInstance, in.ID.String(), CategoryInstance, nil,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"from", from,
		"to", to,
	)
}

// OnInstanceCompleted implements ext.InstanceCompleted.
func (e *Extension) OnInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) error {
	return e.record(ctx, ActionInstanceCompleted, SeverityInfo, OutcomeSuccess,
		ResourceInstance, in.ID.String(), CategoryInstance, nil,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnInstanceCancelled implements ext.InstanceCancelled.
func (e *Extension) OnInstanceCancelled(ctx context.Context, in *instance.Instance, reason string) error {
	return e.record(ctx, ActionInstanceCancelled, SeverityWarning, OutcomeSuccess,
		ResourceInstance, in.ID.String(), CategoryInstance, nil,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"stage", in.Stage(),
		"reason", reason,
	)
}

// OnInstanceFailed implements ext.InstanceFailed.
func (e *Extension) OnInstanceFailed(ctx context.Context, in *instance.Instance, instErr error) error {
	return e.record(ctx, ActionInstanceFailed, SeverityCritical, OutcomeFailure,
		ResourceInstance, in.ID.String(), CategoryInstance, instErr,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"stage", in.Stage(),
		"phase", string(in.Phase),
	)
}

// OnDeadlineExceeded implements ext.DeadlineExceeded.
func (e *Extension) OnDeadlineExceeded(ctx context.Context, in *instance.Instance) error {
	return e.record(ctx, ActionDeadlineExceeded, SeverityCritical, OutcomeFailure,
		ResourceInstance, in.ID.String(), CategoryInstance, nil,
		"pipeline", in.Pipeline,
		"work_unit", in.WorkUnitID,
		"stage", in.Stage(),
		"deadline", in.Deadline.Format(time.RFC3339),
	)
}

// ── Event correlation hooks ─────────────────────────

// OnSignalDropped implements ext.SignalDropped.
func (e *Extension) OnSignalDropped(ctx context.Context, evt *event.Event, reason string) error {
	return e.record(ctx, ActionSignalDropped, SeverityWarning, OutcomeSuccess,
		ResourceEvent, evt.ID.String(), CategorySignal, nil,
		"kind", string(evt.Kind),
		"delivery_id", evt.DeliveryID,
		"work_unit", evt.WorkUnitID,
		"reason", reason,
	)
}

// OnCorrelationAmbiguous implements ext.CorrelationAmbiguous.
func (e *Extension) OnCorrelationAmbiguous(ctx context.Context, evt *event.Event, matches int) error {
	return e.record(ctx, ActionSignalAmbiguous, SeverityCritical, OutcomeFailure,
		ResourceEvent, evt.ID.String(), CategorySignal, nil,
		"kind", string(evt.Kind),
		"delivery_id", evt.DeliveryID,
		"work_unit", evt.WorkUnitID,
		"matches", matches,
	)
}

// ── Lock and agent hooks ────────────────────────────

// OnLockReaped implements ext.LockReaped.
func (e *Extension) OnLockReaped(ctx context.Context, l *lock.Lock) error {
	return e.record(ctx, ActionLockReaped, SeverityWarning, OutcomeSuccess,
		ResourceLock, l.ID.String(), CategoryLock, nil,
		"work_unit", l.Key.WorkUnitID,
		"role", l.Key.Role,
		"holder_id", l.HolderID.String(),
		"worker_id", l.WorkerID.String(),
	)
}

// OnAgentInvoked implements ext.AgentInvoked.
func (e *Extension) OnAgentInvoked(ctx context.Context, inv *agent.Invocation) error {
	return e.record(ctx, ActionAgentInvoked, SeverityInfo, OutcomeSuccess,
		ResourceInvocation, inv.ID.String(), CategoryAgent, nil,
		"instance_id", inv.InstanceID.String(),
		"work_unit", inv.WorkUnitID,
		"role", inv.Role,
		"stage", inv.Stage,
	)
}

// ── Archival hooks ──────────────────────────────────

// OnInstanceArchived implements ext.InstanceArchived.
func (e *Extension) OnInstanceArchived(ctx context.Context, rec *archive.Record) error {
	return e.record(ctx, ActionInstanceArchived, SeverityInfo, OutcomeSuccess,
		ResourceArchive, rec.ID.String(), CategoryArchive, nil,
		"source_instance_id", rec.SourceInstanceID.String(),
		"pipeline", rec.Pipeline,
		"work_unit", rec.WorkUnitID,
		"policy", rec.PolicyName,
		"location", rec.StorageLocation,
		"checksum", rec.Checksum,
	)
}

// OnArchivePurged implements ext.ArchivePurged.
func (e *Extension) OnArchivePurged(ctx context.Context, rec *archive.Record) error {
	return e.record(ctx, ActionArchivePurged, SeverityInfo, OutcomeSuccess,
		ResourceArchive, rec.ID.String(), CategoryArchive, nil,
		"source_instance_id", rec.SourceInstanceID.String(),
		"pipeline", rec.Pipeline,
		"work_unit", rec.WorkUnitID,
		"policy", rec.PolicyName,
		"retention_expired_at", rec.RetentionExpiresAt.Format(time.RFC3339),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
