package foreman

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// TransitionMaxRetries bounds how many times a stage transition is
	// retried after losing an optimistic-update race. Each retry re-reads
	// the instance and re-validates preconditions first.
	TransitionMaxRetries int

	// TransitionBackoff is the initial delay between transition retries.
	// Delays grow exponentially up to TransitionBackoffMax.
	TransitionBackoff    time.Duration
	TransitionBackoffMax time.Duration

	// LockTTL is the time-to-live stamped on role locks so a crashed
	// holder does not wedge the role forever. Zero disables expiry.
	LockTTL time.Duration

	// InstanceDeadline is the maximum overall lifetime of an instance.
	// Exceeding it forces the instance into the Error phase.
	InstanceDeadline time.Duration

	// StuckStageThreshold is how long an instance may sit in one stage
	// without progress before a stuck alert fires. Alerts never cancel
	// the instance on their own.
	StuckStageThreshold time.Duration

	// HeartbeatInterval is how often this engine process heartbeats its
	// cluster worker record.
	HeartbeatInterval time.Duration

	// DeadWorkerThreshold is how long a worker may go without a heartbeat
	// before it is considered provably dead. The lock reaper only reclaims
	// expired locks whose holder is past this threshold.
	DeadWorkerThreshold time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TransitionMaxRetries: 5,
		TransitionBackoff:    100 * time.Millisecond,
		TransitionBackoffMax: 5 * time.Second,
		LockTTL:              30 * time.Minute,
		InstanceDeadline:     72 * time.Hour,
		StuckStageThreshold:  6 * time.Hour,
		HeartbeatInterval:    10 * time.Second,
		DeadWorkerThreshold:  60 * time.Second,
		ShutdownTimeout:      30 * time.Second,
	}
}
