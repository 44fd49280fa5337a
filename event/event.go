// Package event defines normalized inbound events, the per-kind
// extraction rules that map them onto pipeline stages, and the
// correlator that resolves an event to the unique suspended instance it
// applies to.
package event

import (
	"time"

	"github.com/xraph/foreman/id"
)

// Kind classifies an inbound event. Kinds form a closed set: the
// correlator only acts on kinds the configured rule set knows.
type Kind string

// Event kinds emitted by the external source-hosting provider and by
// agent runners.
const (
	// KindArtifactProduced means an agent runner produced its output
	// artifact (e.g., opened a pull request).
	KindArtifactProduced Kind = "artifact-produced"
	// KindReviewSubmitted means a review was submitted on the artifact.
	KindReviewSubmitted Kind = "review-submitted"
	// KindLabelApplied means a label was applied to the artifact.
	KindLabelApplied Kind = "label-applied"
	// KindCodePushed means the artifact's code was pushed/merged.
	KindCodePushed Kind = "code-pushed"
	// KindArtifactUpdated means a new revision of the artifact appeared,
	// invalidating downstream in-flight work. Triggers cancellation, not
	// advancement.
	KindArtifactUpdated Kind = "artifact-updated"
)

// Well-known payload fields set by the webhook normalizer.
const (
	// FieldArtifactLabels holds the artifact's labels, comma-separated.
	FieldArtifactLabels = "artifact-labels"
	// FieldReviewState holds the review outcome ("approved", ...).
	FieldReviewState = "review-state"
	// FieldLabelName holds the applied label's name.
	FieldLabelName = "label-name"
	// FieldRef holds the pushed commit ref.
	FieldRef = "ref"
	// FieldRevision holds the artifact revision identifier.
	FieldRevision = "revision"
)

// Event is a normalized inbound event. Events are ephemeral: consumed
// once by the correlator, persisted only as an audit/idempotency record.
type Event struct {
	ID   id.EventID `json:"id"`
	Kind Kind       `json:"kind"`

	// DeliveryID is the provider's delivery identifier, used to reject
	// webhook redeliveries.
	DeliveryID string `json:"delivery_id,omitempty"`

	// WorkUnitID is filled in by the matching rule's extraction.
	WorkUnitID string `json:"work_unit_id,omitempty"`

	Actor     string            `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Field returns a payload field, or "" if absent.
func (e *Event) Field(key string) string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload[key]
}
