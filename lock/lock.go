// Package lock provides the role-lock discipline: a mutual-exclusion
// token keyed by (work unit, agent role) that prevents duplicate
// concurrent invocation of the same agent role for the same work unit.
//
// Acquisition is a single atomic create-if-absent operation against the
// backing store — never read-then-write. Release is bound to the guarded
// operation's lifetime via Guard, so it fires on every exit path.
package lock

import (
	"time"

	"github.com/xraph/foreman/id"
)

// Key identifies a role lock: one agent role for one work unit.
type Key struct {
	WorkUnitID string `json:"work_unit_id"`
	Role       string `json:"role"`
}

// String renders the key as "workUnit/role", the form stores index by.
func (k Key) String() string { return k.WorkUnitID + "/" + k.Role }

// Lock is a held mutual-exclusion token. Its existence implies no second
// agent invocation of this role may begin for this work unit.
type Lock struct {
	ID  id.LockID `json:"id"`
	Key Key       `json:"key"`

	// HolderID is the instance on whose behalf the lock is held.
	HolderID id.InstanceID `json:"holder_id"`
	// WorkerID is the engine process that acquired the lock. The reaper
	// uses it to decide whether an expired lock's holder is provably dead.
	WorkerID id.WorkerID `json:"worker_id"`

	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the optional TTL bound for crash recovery. Zero means
	// the lock never expires on its own.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock's TTL has elapsed at the given time.
// A lock with no TTL never expires.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}
