package instance

import (
	"context"
	"time"

	"github.com/xraph/foreman/id"
)

// ListOpts filters and paginates instance listings.
type ListOpts struct {
	// Selector filters by labels. Nil matches everything.
	Selector Selector
	// Phase filters by phase. Empty matches all phases.
	Phase Phase
	// WorkUnitID filters by work unit.
	WorkUnitID string
	// Since/Until bound the instance start time. Zero values disable
	// the respective bound.
	Since time.Time
	Until time.Time

	Limit  int
	Offset int
}

// CountOpts filters instance counts.
type CountOpts struct {
	Pipeline string
	Phase    Phase
}

// Store defines the persistence contract for workflow instances — the
// stage label store of the system. All state the engine needs to survive
// a crash lives here.
//
// Implementations must provide:
//   - create-if-absent semantics on CreateInstance, including the
//     at-most-one-running-instance invariant per (pipeline, work unit);
//   - conditional updates on PatchInstanceLabels and UpdateInstance,
//     failing with foreman.ErrTransitionConflict when the expected
//     resource version no longer matches;
//   - read-only enforcement once an instance's phase is terminal
//     (foreman.ErrInstanceTerminal), with DeleteInstance as the only
//     remaining mutation.
type Store interface {
	// CreateInstance persists a new instance. Fails with
	// foreman.ErrInstanceExists if the ID is taken, and with
	// foreman.ErrActiveInstance if a running instance already exists for
	// the same (pipeline, work unit) pair.
	CreateInstance(ctx context.Context, in *Instance) error

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// PatchInstanceLabels atomically merge-patches the instance's labels.
	// The patch only applies if the stored resource version equals
	// expectedVersion; otherwise foreman.ErrTransitionConflict is
	// returned and the caller must re-read and re-validate. An empty
	// patch value deletes the label. Returns the updated instance.
	PatchInstanceLabels(ctx context.Context, instanceID id.InstanceID, expectedVersion int64, patch map[string]string) (*Instance, error)

	// UpdateInstance conditionally replaces the instance's mutable fields
	// (phase, reason, history, invocations, labels) using the instance's
	// own ResourceVersion as the expected version. Fails with
	// foreman.ErrTransitionConflict on a version mismatch and with
	// foreman.ErrInstanceTerminal if the stored phase is already terminal.
	UpdateInstance(ctx context.Context, in *Instance) error

	// ListInstances returns instances matching the given options, ordered
	// by start time.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// CountInstances returns the number of instances matching the options.
	CountInstances(ctx context.Context, opts CountOpts) (int64, error)

	// DeleteInstance removes an instance. The archival engine is the only
	// caller, and only after the archive record is durably written.
	DeleteInstance(ctx context.Context, instanceID id.InstanceID) error
}
