package foreman

import "time"

// Entity carries the bookkeeping fields shared by all persisted Foreman
// records: creation/update timestamps and a monotonically increasing
// resource version used for optimistic concurrency. Stores must reject
// any conditional update whose expected version does not match the
// stored one.
type Entity struct {
	ResourceVersion int64     `json:"resource_version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time and an
// initial resource version of 1.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		ResourceVersion: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Touch bumps the resource version and refreshes UpdatedAt. Stores call
// this after a successful conditional update.
func (e *Entity) Touch() {
	e.ResourceVersion++
	e.UpdatedAt = time.Now().UTC()
}
