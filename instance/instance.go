// Package instance defines the workflow instance model and its store
// contract. An instance is one end-to-end execution of an agent pipeline
// for one work unit. Its pipeline position lives in the label map (the
// "stage" label) so instances are queryable by label selector, and every
// mutation goes through a conditional update keyed on the resource
// version — no component ever performs a blind overwrite.
package instance

import (
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
)

// Phase represents the overall health of an instance, orthogonal to its
// stage: the stage tracks pipeline position, the phase tracks whether
// the instance is still making progress.
type Phase string

const (
	// PhaseRunning means the pipeline is still in flight.
	PhaseRunning Phase = "running"
	// PhaseSucceeded means the pipeline reached its terminal stage.
	PhaseSucceeded Phase = "succeeded"
	// PhaseFailed means an agent invocation failed terminally.
	PhaseFailed Phase = "failed"
	// PhaseError means the engine gave up on the instance (retry
	// exhaustion, deadline exceeded). The reason is recorded for
	// operator diagnosis.
	PhaseError Phase = "error"
	// PhaseCancelled means the instance was cancelled out-of-band.
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase is a terminal value. A terminal
// instance is read-only until the archival engine removes it.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseError, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Well-known label keys. The stage is itself stored as a label to enable
// selector-based lookup.
const (
	// LabelStage holds the instance's current pipeline stage.
	LabelStage = "stage"
	// LabelPipeline holds the pipeline name the instance executes.
	LabelPipeline = "pipeline"
	// LabelWorkUnit holds the work-unit identifier (e.g., "task-7").
	LabelWorkUnit = "work-unit"
	// LabelRestartCount counts restart-from-checkpoint generations.
	LabelRestartCount = "restart-count"
	// LabelRetentionClass selects the retention class for archival.
	// The engine sets it to "error" when an instance fails so failed
	// instances stay inspectable longer than successful ones.
	LabelRetentionClass = "retention-class"
)

// Transition records one stage change, including when the instance
// suspended into the previous waiting stage and when the signal that
// resumed it arrived.
type Transition struct {
	From        string     `json:"from"`
	To          string     `json:"to"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	ResumedAt   *time.Time `json:"resumed_at,omitempty"`
	At          time.Time  `json:"at"`
}

// Invocation records one agent invocation scheduled for this instance.
// The agent runs out of process; completion arrives later as an event.
type Invocation struct {
	ID          id.InvocationID `json:"id"`
	Role        string          `json:"role"`
	Stage       string          `json:"stage"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Outcome     string          `json:"outcome,omitempty"`
}

// Instance is one running execution of a pipeline for one work unit.
// Created when the work unit enters the pipeline, mutated exclusively by
// the stage transition engine, read-only once the phase is terminal, and
// deleted by the archival engine after the retention window.
type Instance struct {
	foreman.Entity

	ID         id.InstanceID     `json:"id"`
	Pipeline   string            `json:"pipeline"`
	WorkUnitID string            `json:"work_unit_id"`
	Repository string            `json:"repository,omitempty"`
	BranchRef  string            `json:"branch_ref,omitempty"`
	Labels     map[string]string `json:"labels"`
	Phase      Phase             `json:"phase"`
	Reason     string            `json:"reason,omitempty"`

	// Deadline is the overall lifetime bound; exceeding it forces the
	// Error phase.
	Deadline time.Time `json:"deadline,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`

	History     []Transition `json:"history,omitempty"`
	Invocations []Invocation `json:"invocations,omitempty"`
}

// Stage returns the current stage label.
func (in *Instance) Stage() string {
	return in.Labels[LabelStage]
}

// LastTransitionAt returns when the instance last changed stage, or its
// start time if it never has. Used by the stuck-stage scan.
func (in *Instance) LastTransitionAt() time.Time {
	if len(in.History) == 0 {
		return in.StartedAt
	}
	return in.History[len(in.History)-1].At
}

// Clone returns a deep copy of the instance. Stores return clones so
// callers can mutate without racing against cached state.
func (in *Instance) Clone() *Instance {
	cp := *in
	cp.Labels = make(map[string]string, len(in.Labels))
	for k, v := range in.Labels {
		cp.Labels[k] = v
	}
	cp.History = append([]Transition(nil), in.History...)
	cp.Invocations = append([]Invocation(nil), in.Invocations...)
	return &cp
}
