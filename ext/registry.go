package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type instanceCreatedEntry struct {
	name string
	hook InstanceCreated
}

type stageAdvancedEntry struct {
	name string
	hook StageAdvanced
}

type instanceCompletedEntry struct {
	name string
	hook InstanceCompleted
}

type instanceCancelledEntry struct {
	name string
	hook InstanceCancelled
}

type instanceFailedEntry struct {
	name string
	hook InstanceFailed
}

type deadlineExceededEntry struct {
	name string
	hook DeadlineExceeded
}

type signalDroppedEntry struct {
	name string
	hook SignalDropped
}

type correlationAmbiguousEntry struct {
	name string
	hook CorrelationAmbiguous
}

type lockReapedEntry struct {
	name string
	hook LockReaped
}

type agentInvokedEntry struct {
	name string
	hook AgentInvoked
}

type instanceArchivedEntry struct {
	name string
	hook InstanceArchived
}

type archivePurgedEntry struct {
	name string
	hook ArchivePurged
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	instanceCreated      []instanceCreatedEntry
	stageAdvanced        []stageAdvancedEntry
	instanceCompleted    []instanceCompletedEntry
	instanceCancelled    []instanceCancelledEntry
	instanceFailed       []instanceFailedEntry
	deadlineExceeded     []deadlineExceededEntry
	signalDropped        []signalDroppedEntry
	correlationAmbiguous []correlationAmbiguousEntry
	lockReaped           []lockReapedEntry
	agentInvoked         []agentInvokedEntry
	instanceArchived     []instanceArchivedEntry
	archivePurged        []archivePurgedEntry
	shutdown             []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(InstanceCreated); ok {
		r.instanceCreated = append(r.instanceCreated, instanceCreatedEntry{name, h})
	}
	if h, ok := e.(StageAdvanced); ok {
		r.stageAdvanced = append(r.stageAdvanced, stageAdvancedEntry{name, h})
	}
	if h, ok := e.(InstanceCompleted); ok {
		r.instanceCompleted = append(r.instanceCompleted, instanceCompletedEntry{name, h})
	}
	if h, ok := e.(InstanceCancelled); ok {
		r.instanceCancelled = append(r.instanceCancelled, instanceCancelledEntry{name, h})
	}
	if h, ok := e.(InstanceFailed); ok {
		r.instanceFailed = append(r.instanceFailed, instanceFailedEntry{name, h})
	}
	if h, ok := e.(DeadlineExceeded); ok {
		r.deadlineExceeded = append(r.deadlineExceeded, deadlineExceededEntry{name, h})
	}
	if h, ok := e.(SignalDropped); ok {
		r.signalDropped = append(r.signalDropped, signalDroppedEntry{name, h})
	}
	if h, ok := e.(CorrelationAmbiguous); ok {
		r.correlationAmbiguous = append(r.correlationAmbiguous, correlationAmbiguousEntry{name, h})
	}
	if h, ok := e.(LockReaped); ok {
		r.lockReaped = append(r.lockReaped, lockReapedEntry{name, h})
	}
	if h, ok := e.(AgentInvoked); ok {
		r.agentInvoked = append(r.agentInvoked, agentInvokedEntry{name, h})
	}
	if h, ok := e.(InstanceArchived); ok {
		r.instanceArchived = append(r.instanceArchived, instanceArchivedEntry{name, h})
	}
	if h, ok := e.(ArchivePurged); ok {
		r.archivePurged = append(r.archivePurged, archivePurgedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Instance event emitters
// ──────────────────────────────────────────────────

// EmitInstanceCreated notifies all extensions that implement InstanceCreated.
func (r *Registry) EmitInstanceCreated(ctx context.Context, in *instance.Instance) {
	for _, e := range r.instanceCreated {
		if err := e.hook.OnInstanceCreated(ctx, in); err != nil {
			r.logHookError("OnInstanceCreated", e.name, err)
		}
	}
}

// EmitStageAdvanced notifies all extensions that implement StageAdvanced.
func (r *Registry) EmitStageAdvanced(ctx context.Context, in *instance.Instance, from, to string) {
	for _, e := range r.stageAdvanced {
		if err := e.hook.OnStageAdvanced(ctx, in, from, to); err != nil {
			r.logHookError("OnStageAdvanced", e.name, err)
		}
	}
}

// EmitInstanceCompleted notifies all extensions that implement InstanceCompleted.
func (r *Registry) EmitInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) {
	for _, e := range r.instanceCompleted {
		if err := e.hook.OnInstanceCompleted(ctx, in, elapsed); err != nil {
			r.logHookError("OnInstanceCompleted", e.name, err)
		}
	}
}

// EmitInstanceCancelled notifies all extensions that implement InstanceCancelled.
func (r *Registry) EmitInstanceCancelled(ctx context.Context, in *instance.Instance, reason string) {
	for _, e := range r.instanceCancelled {
		if err := e.hook.OnInstanceCancelled(ctx, in, reason); err != nil {
			r.logHookError("OnInstanceCancelled", e.name, err)
		}
	}
}

// EmitInstanceFailed notifies all extensions that implement InstanceFailed.
func (r *Registry) EmitInstanceFailed(ctx context.Context, in *instance.Instance, instErr error) {
	for _, e := range r.instanceFailed {
		if err := e.hook.OnInstanceFailed(ctx, in, instErr); err != nil {
			r.logHookError("OnInstanceFailed", e.name, err)
		}
	}
}

// EmitDeadlineExceeded notifies all extensions that implement DeadlineExceeded.
func (r *Registry) EmitDeadlineExceeded(ctx context.Context, in *instance.Instance) {
	for _, e := range r.deadlineExceeded {
		if err := e.hook.OnDeadlineExceeded(ctx, in); err != nil {
			r.logHookError("OnDeadlineExceeded", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Correlation event emitters
// ──────────────────────────────────────────────────

// EmitSignalDropped notifies all extensions that implement SignalDropped.
func (r *Registry) EmitSignalDropped(ctx context.Context, evt *event.Event, reason string) {
	for _, e := range r.signalDropped {
		if err := e.hook.OnSignalDropped(ctx, evt, reason); err != nil {
			r.logHookError("OnSignalDropped", e.name, err)
		}
	}
}

// EmitCorrelationAmbiguous notifies all extensions that implement CorrelationAmbiguous.
func (r *Registry) EmitCorrelationAmbiguous(ctx context.Context, evt *event.Event, matches int) {
	for _, e := range r.correlationAmbiguous {
		if err := e.hook.OnCorrelationAmbiguous(ctx, evt, matches); err != nil {
			r.logHookError("OnCorrelationAmbiguous", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Lock and agent event emitters
// ──────────────────────────────────────────────────

// EmitLockReaped notifies all extensions that implement LockReaped.
func (r *Registry) EmitLockReaped(ctx context.Context, l *lock.Lock) {
	for _, e := range r.lockReaped {
		if err := e.hook.OnLockReaped(ctx, l); err != nil {
			r.logHookError("OnLockReaped", e.name, err)
		}
	}
}

// EmitAgentInvoked notifies all extensions that implement AgentInvoked.
func (r *Registry) EmitAgentInvoked(ctx context.Context, inv *agent.Invocation) {
	for _, e := range r.agentInvoked {
		if err := e.hook.OnAgentInvoked(ctx, inv); err != nil {
			r.logHookError("OnAgentInvoked", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Archival event emitters
// ──────────────────────────────────────────────────

// EmitInstanceArchived notifies all extensions that implement InstanceArchived.
func (r *Registry) EmitInstanceArchived(ctx context.Context, rec *archive.Record) {
	for _, e := range r.instanceArchived {
		if err := e.hook.OnInstanceArchived(ctx, rec); err != nil {
			r.logHookError("OnInstanceArchived", e.name, err)
		}
	}
}

// EmitArchivePurged notifies all extensions that implement ArchivePurged.
func (r *Registry) EmitArchivePurged(ctx context.Context, rec *archive.Record) {
	for _, e := range r.archivePurged {
		if err := e.hook.OnArchivePurged(ctx, rec); err != nil {
			r.logHookError("OnArchivePurged", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the engine.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
