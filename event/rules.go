package event

import (
	"fmt"
	"strings"

	"github.com/xraph/foreman/pipeline"
)

// WorkUnitLabelPrefix is the artifact label prefix carrying the work
// unit identifier ("work-<id>").
const WorkUnitLabelPrefix = "work-"

// Rule maps one event kind onto one pipeline transition. Several rules
// may target the same waiting stage (fallback correlation paths); all of
// them route through the same advance entry point so idempotency and
// conflict handling apply uniformly.
type Rule struct {
	// Kind is the event kind this rule consumes.
	Kind Kind

	// Match filters events of the kind (e.g., only approved reviews).
	// Nil matches every event of the kind.
	Match func(e *Event) bool

	// ExtractWorkUnitID derives the work-unit identifier from the
	// payload. Extraction failure drops the event.
	ExtractWorkUnitID func(e *Event) (string, error)

	// TargetStage names the waiting stage this kind satisfies. Empty for
	// cancellation rules, which apply at any non-terminal stage.
	TargetStage string

	// Cancels marks the rule as a cancellation trigger: the matched
	// instance is cancelled (and restarted per pipeline policy) instead
	// of advanced.
	Cancels bool
}

// Applies reports whether the rule consumes the given event.
func (r Rule) Applies(e *Event) bool {
	if r.Kind != e.Kind {
		return false
	}
	return r.Match == nil || r.Match(e)
}

// RuleSet is an ordered collection of rules. Order matters only between
// rules of the same kind: the first applicable rule wins.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a RuleSet from the given rules in order.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// For returns the first rule applicable to the event, if any.
func (rs *RuleSet) For(e *Event) (Rule, bool) {
	for _, r := range rs.rules {
		if r.Applies(e) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns all rules in declaration order.
func (rs *RuleSet) Rules() []Rule { return rs.rules }

// ExtractFromArtifactLabels derives the work unit from the artifact's
// label list, looking for the "work-<id>" pattern. This is the
// documented extraction rule for artifact-scoped event kinds.
func ExtractFromArtifactLabels(e *Event) (string, error) {
	raw := e.Field(FieldArtifactLabels)
	if raw == "" {
		return "", fmt.Errorf("event %s: no artifact labels in payload", e.Kind)
	}
	for _, l := range strings.Split(raw, ",") {
		l = strings.TrimSpace(l)
		if strings.HasPrefix(l, WorkUnitLabelPrefix) && len(l) > len(WorkUnitLabelPrefix) {
			return l, nil
		}
	}
	return "", fmt.Errorf("event %s: no %q label on artifact", e.Kind, WorkUnitLabelPrefix+"<id>")
}

// DefaultRules returns the rule set for the default coding pipeline:
//
//	artifact-produced                 → waiting-artifact
//	label-applied (ready-for-next)    → waiting-quality
//	review-submitted (approved)       → waiting-review
//	label-applied (approved)          → waiting-review (fallback path)
//	code-pushed                       → waiting-merge
//	artifact-updated (new revision)   → cancel
func DefaultRules() *RuleSet {
	return NewRuleSet(
		Rule{
			Kind:              KindArtifactProduced,
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			TargetStage:       pipeline.StageWaitingArtifact,
		},
		Rule{
			Kind:              KindLabelApplied,
			Match:             func(e *Event) bool { return e.Field(FieldLabelName) == "ready-for-next" },
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			TargetStage:       pipeline.StageWaitingQuality,
		},
		Rule{
			Kind:              KindReviewSubmitted,
			Match:             func(e *Event) bool { return e.Field(FieldReviewState) == "approved" },
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			TargetStage:       pipeline.StageWaitingReview,
		},
		// Fallback path: an "approved" label satisfies the same waiting
		// stage as an approved review. Whichever fires first wins; the
		// second is absorbed as a stage-mismatch no-op.
		Rule{
			Kind:              KindLabelApplied,
			Match:             func(e *Event) bool { return e.Field(FieldLabelName) == "approved" },
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			TargetStage:       pipeline.StageWaitingReview,
		},
		Rule{
			Kind:              KindCodePushed,
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			TargetStage:       pipeline.StageWaitingMerge,
		},
		Rule{
			Kind:              KindArtifactUpdated,
			ExtractWorkUnitID: ExtractFromArtifactLabels,
			Cancels:           true,
		},
	)
}
