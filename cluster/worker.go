package cluster

import (
	"time"

	"github.com/xraph/foreman/id"
)

// WorkerState represents the lifecycle state of an engine worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing events.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight work but
	// not accepting new events (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker stopped heartbeating past the dead
	// threshold. Its role locks are eligible for reaping.
	WorkerDead WorkerState = "dead"
)

// Worker represents one engine process in a distributed deployment.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Pipelines   []string          `json:"pipelines"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
