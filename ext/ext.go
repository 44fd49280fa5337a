// Package ext defines the extension system for Foreman.
// Extensions are notified of lifecycle events (instance created, stage
// advanced, lock reaped, etc.) and can react to them — logging, metrics,
// compliance auditing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Instance lifecycle hooks
// ──────────────────────────────────────────────────

// InstanceCreated is called after an instance is successfully created.
type InstanceCreated interface {
	OnInstanceCreated(ctx context.Context, in *instance.Instance) error
}

// StageAdvanced is called after an instance's stage label transitions.
type StageAdvanced interface {
	OnStageAdvanced(ctx context.Context, in *instance.Instance, from, to string) error
}

// InstanceCompleted is called when an instance reaches a successful
// terminal phase.
type InstanceCompleted interface {
	OnInstanceCompleted(ctx context.Context, in *instance.Instance, elapsed time.Duration) error
}

// InstanceCancelled is called after an instance is cancelled.
type InstanceCancelled interface {
	OnInstanceCancelled(ctx context.Context, in *instance.Instance, reason string) error
}

// InstanceFailed is called when an instance reaches a failed or error
// terminal phase.
type InstanceFailed interface {
	OnInstanceFailed(ctx context.Context, in *instance.Instance, err error) error
}

// DeadlineExceeded is called when an instance is terminated for
// exceeding its overall deadline.
type DeadlineExceeded interface {
	OnDeadlineExceeded(ctx context.Context, in *instance.Instance) error
}

// ──────────────────────────────────────────────────
// Event correlation hooks
// ──────────────────────────────────────────────────

// SignalDropped is called when an inbound event matches no instance and
// is discarded.
type SignalDropped interface {
	OnSignalDropped(ctx context.Context, evt *event.Event, reason string) error
}

// CorrelationAmbiguous is called when an inbound event matches more than
// one running instance and is escalated instead of applied.
type CorrelationAmbiguous interface {
	OnCorrelationAmbiguous(ctx context.Context, evt *event.Event, matches int) error
}

// ──────────────────────────────────────────────────
// Lock and agent hooks
// ──────────────────────────────────────────────────

// LockReaped is called when an expired role lock is force-released
// because its holder is provably dead.
type LockReaped interface {
	OnLockReaped(ctx context.Context, l *lock.Lock) error
}

// AgentInvoked is called after an agent invocation is accepted for a stage.
type AgentInvoked interface {
	OnAgentInvoked(ctx context.Context, inv *agent.Invocation) error
}

// ──────────────────────────────────────────────────
// Archival hooks
// ──────────────────────────────────────────────────

// InstanceArchived is called after a terminal instance is archived and
// deleted from the live store.
type InstanceArchived interface {
	OnInstanceArchived(ctx context.Context, rec *archive.Record) error
}

// ArchivePurged is called after an archive record is permanently purged.
type ArchivePurged interface {
	OnArchivePurged(ctx context.Context, rec *archive.Record) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
