// Package cluster provides distributed engine coordination: worker
// registration, heartbeat-based liveness, and leader election.
//
// The correlator and transition engine scale horizontally: every engine
// process handles inbound events, serialized per instance by the
// conditional-update discipline of the instance store rather than by
// process-level locking. Coordination is only needed for two things:
//
//   - Maintenance must run once per cluster. One worker at a time holds
//     leadership and runs the scheduled passes (archival, retention
//     purge, lock reaping, deadline enforcement).
//   - The lock reaper must distinguish a crashed lock holder from a
//     slow one. Heartbeat age answers that: a worker past the dead
//     threshold is provably dead, anything fresher is merely slow.
//
// # Worker Entity
//
// Each running engine process registers itself as a [Worker] with a
// unique [id.WorkerID], its hostname, and a state: [WorkerActive],
// [WorkerDraining], or [WorkerDead]. Workers send periodic heartbeats
// via [Membership].
//
// # Kubernetes Consensus
//
// For K8s deployments use the cluster/k8s sub-package which implements
// Store on Pod annotations and the coordination/v1 Lease API.
package cluster
