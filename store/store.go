// Package store defines the aggregate persistence interface. Each
// subsystem (instance, lock, event audit, archive, cluster) defines its
// own store interface. The composite Store composes them all. Backends:
// Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them. The engine only
// type-asserts the subsystem interfaces it needs, so partial backends
// are possible for embedding scenarios.
type Store interface {
	instance.Store
	lock.Store
	event.Store
	archive.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
