package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionInstanceCreated   = "instance.created"
	ActionStageAdvanced     = "instance.stage_advanced"
	ActionInstanceCompleted = "instance.completed"
	ActionInstanceCancelled = "instance.cancelled"
	ActionInstanceFailed    = "instance.failed"
	ActionDeadlineExceeded  = "instance.deadline_exceeded"
	ActionSignalDropped     = "signal.dropped"
	ActionSignalAmbiguous   = "signal.ambiguous"
	ActionLockReaped        = "lock.reaped"
	ActionAgentInvoked      = "agent.invoked"
	ActionInstanceArchived  = "archive.created"
	ActionArchivePurged     = "archive.purged"
)

// Audit event categories group related actions.
const (
	CategoryInstance = "foreman.instance"
	CategorySignal   = "foreman.signal"
	CategoryLock     = "foreman.lock"
	CategoryAgent    = "foreman.agent"
	CategoryArchive  = "foreman.archive"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceInstance   = "workflow_instance"
	ResourceEvent      = "event"
	ResourceLock       = "role_lock"
	ResourceInvocation = "agent_invocation"
	ResourceArchive    = "archive_record"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionInstanceCreated,
		ActionStageAdvanced,
		ActionInstanceCompleted,
		ActionInstanceCancelled,
		ActionInstanceFailed,
		ActionDeadlineExceeded,
		ActionSignalDropped,
		ActionSignalAmbiguous,
		ActionLockReaped,
		ActionAgentInvoked,
		ActionInstanceArchived,
		ActionArchivePurged,
	}
}
