// Package foreman provides a multi-agent workflow orchestration engine
// for Go. It coordinates autonomous coding agents (implementer, guardian,
// validator, integrator) through a long-running pipeline driven by
// asynchronous external events.
//
// Foreman is designed as a library, not a service. Import it, configure a
// store, register a pipeline, and feed it normalized events.
//
// # Quick Start
//
//	f, err := foreman.New(
//	    foreman.WithStore(pgStore),
//	    foreman.WithLogger(logger),
//	)
//
// # Architecture
//
// Foreman follows a composable store pattern where each subsystem
// (instance, lock, event, archive, cluster) defines its own store
// interface. A single backend implements all of them.
//
// An instance's pipeline position lives in its label map and is only
// mutated through conditional (compare-and-swap) patches, so any engine
// process can crash and restart without losing coordination state.
// Suspension is a logical wait: an instance with no active agent
// invocation sits in a waiting stage until the correlator matches an
// inbound event to it.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package foreman
