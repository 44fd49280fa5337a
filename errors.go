package foreman

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("foreman: no store configured")
	ErrMigrationFailed = errors.New("foreman: migration failed")

	// Not found errors.
	ErrInstanceNotFound = errors.New("foreman: instance not found")
	ErrLockNotFound     = errors.New("foreman: lock not found")
	ErrArchiveNotFound  = errors.New("foreman: archive not found")
	ErrDeliveryNotFound = errors.New("foreman: delivery not found")
	ErrWorkerNotFound   = errors.New("foreman: worker not found")
	ErrPipelineNotFound = errors.New("foreman: pipeline not found")

	// Conflict errors.
	ErrInstanceExists = errors.New("foreman: instance already exists")
	ErrArchiveExists  = errors.New("foreman: archive record already exists")
	// ErrActiveInstance is returned when a second running instance would be
	// created for a work unit that already has one.
	ErrActiveInstance = errors.New("foreman: work unit already has a running instance")
	// ErrLockHeld means the role lock already has an active holder. Callers
	// treat this as a duplicate invocation signal, not a failure.
	ErrLockHeld = errors.New("foreman: lock already held")
	// ErrTransitionConflict means a conditional label patch lost a race.
	// The caller must re-read the instance and re-validate before retrying.
	ErrTransitionConflict = errors.New("foreman: transition lost optimistic update race")

	// Signal errors.
	// ErrStageMismatch means a signal arrived for a stage the instance is
	// not in. The signal is stale or misrouted and is dropped, not retried.
	ErrStageMismatch = errors.New("foreman: signal does not match current stage")
	// ErrCorrelationAmbiguous means more than one instance matched a
	// selector that must be unique. This is an invariant violation and is
	// never auto-resolved.
	ErrCorrelationAmbiguous = errors.New("foreman: event matched more than one instance")
	// ErrDuplicateDelivery means an inbound delivery ID was already consumed.
	ErrDuplicateDelivery = errors.New("foreman: delivery already processed")

	// Lifecycle errors.
	ErrInstanceTerminal = errors.New("foreman: instance is terminal and read-only")
	ErrDeadlineExceeded = errors.New("foreman: instance exceeded overall deadline")
	ErrRestartDisabled  = errors.New("foreman: pipeline restart policy disallows restart")

	// Archive errors.
	// ErrIntegrityCheck means an archive checksum did not match on restore.
	// The stored archive is left untouched.
	ErrIntegrityCheck = errors.New("foreman: archive checksum mismatch")
	// ErrArchiveWriteFailed means the archive payload write failed. The
	// active instance is left intact and retried on the next scheduled pass.
	ErrArchiveWriteFailed = errors.New("foreman: archive write failed")

	// Cluster errors.
	// ErrNotLeader means a leader-only operation was attempted on a
	// worker that does not currently hold the maintenance lease.
	ErrNotLeader = errors.New("foreman: not the leader")
)
