// Package agent defines the boundary to the external agent runner: the
// substrate (container, job, sandbox) that actually executes a coding
// agent. The engine only schedules invocations; completion always
// arrives later as an inbound event, never as a synchronous return.
package agent

import (
	"context"

	"github.com/xraph/foreman/id"
)

// Invocation describes one agent execution request.
type Invocation struct {
	ID         id.InvocationID `json:"id"`
	InstanceID id.InstanceID   `json:"instance_id"`
	WorkUnitID string          `json:"work_unit_id"`
	// Role identifies the agent kind ("implementer", "guardian", ...).
	Role string `json:"role"`
	// Stage is the pipeline stage the invocation belongs to.
	Stage string `json:"stage"`

	Repository string `json:"repository,omitempty"`
	BranchRef  string `json:"branch_ref,omitempty"`

	// Context carries role-specific parameters opaque to the engine.
	Context map[string]string `json:"context,omitempty"`
}

// Runner schedules an agent invocation. Implementations must return as
// soon as the invocation is accepted by the execution substrate — the
// agent may then run for minutes to hours. Each accepted invocation must
// eventually produce exactly one completion event, or it is considered
// failed after the configured timeout.
type Runner interface {
	Invoke(ctx context.Context, inv *Invocation) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, inv *Invocation) error

// Invoke implements Runner.
func (f RunnerFunc) Invoke(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// NewInvocation builds an invocation with a fresh ID.
func NewInvocation(instanceID id.InstanceID, workUnitID, role, stage string) *Invocation {
	return &Invocation{
		ID:         id.NewInvocationID(),
		InstanceID: instanceID,
		WorkUnitID: workUnitID,
		Role:       role,
		Stage:      stage,
	}
}
