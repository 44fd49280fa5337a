package event_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/pipeline"
	"github.com/xraph/foreman/store/memory"
)

func suspendedInstance(workUnit, stage string) *instance.Instance {
	return &instance.Instance{
		Entity:     foreman.NewEntity(),
		ID:         id.NewInstanceID(),
		Pipeline:   "coding",
		WorkUnitID: workUnit,
		Labels: map[string]string{
			instance.LabelPipeline: "coding",
			instance.LabelWorkUnit: workUnit,
			instance.LabelStage:    stage,
		},
		Phase:     instance.PhaseRunning,
		StartedAt: time.Now().UTC(),
	}
}

func newEvent(kind event.Kind, payload map[string]string) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

func TestExtractFromArtifactLabels(t *testing.T) {
	e := newEvent(event.KindArtifactProduced, map[string]string{
		event.FieldArtifactLabels: "bug, work-42 ,urgent",
	})
	got, err := event.ExtractFromArtifactLabels(e)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "work-42" {
		t.Fatalf("work unit = %q, want work-42", got)
	}
}

func TestExtractFromArtifactLabels_Missing(t *testing.T) {
	for name, payload := range map[string]map[string]string{
		"no labels field":  {},
		"no work label":    {event.FieldArtifactLabels: "bug,urgent"},
		"bare prefix only": {event.FieldArtifactLabels: "work-"},
	} {
		t.Run(name, func(t *testing.T) {
			e := newEvent(event.KindArtifactProduced, payload)
			if _, err := event.ExtractFromArtifactLabels(e); err == nil {
				t.Fatal("expected extraction error")
			}
		})
	}
}

func TestRuleSet_FirstApplicableWins(t *testing.T) {
	rs := event.DefaultRules()

	ready := newEvent(event.KindLabelApplied, map[string]string{
		event.FieldLabelName:      "ready-for-next",
		event.FieldArtifactLabels: "work-1",
	})
	r, ok := rs.For(ready)
	if !ok || r.TargetStage != pipeline.StageWaitingQuality {
		t.Fatalf("ready-for-next rule = %+v ok=%v, want waiting-quality", r, ok)
	}

	approved := newEvent(event.KindLabelApplied, map[string]string{
		event.FieldLabelName:      "approved",
		event.FieldArtifactLabels: "work-1",
	})
	r, ok = rs.For(approved)
	if !ok || r.TargetStage != pipeline.StageWaitingReview {
		t.Fatalf("approved-label rule = %+v ok=%v, want waiting-review", r, ok)
	}

	// Unapproved reviews match no rule.
	rejected := newEvent(event.KindReviewSubmitted, map[string]string{
		event.FieldReviewState:    "changes-requested",
		event.FieldArtifactLabels: "work-1",
	})
	if _, ok := rs.For(rejected); ok {
		t.Fatal("changes-requested review matched a rule")
	}

	cancel := newEvent(event.KindArtifactUpdated, map[string]string{
		event.FieldArtifactLabels: "work-1",
	})
	r, ok = rs.For(cancel)
	if !ok || !r.Cancels {
		t.Fatalf("artifact-updated rule = %+v ok=%v, want cancellation rule", r, ok)
	}
}

func TestCorrelate_SingleMatchAdvances(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	in := suspendedInstance("work-10", pipeline.StageWaitingArtifact)
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	c := event.NewCorrelator("coding", st, event.DefaultRules(), nil)
	cor, err := c.Correlate(ctx, newEvent(event.KindArtifactProduced, map[string]string{
		event.FieldArtifactLabels: "work-10",
	}))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if cor.Outcome != event.OutcomeAdvance {
		t.Fatalf("outcome = %q, want advance", cor.Outcome)
	}
	if cor.Instance == nil || cor.Instance.ID != in.ID {
		t.Fatalf("matched instance = %+v, want %s", cor.Instance, in.ID)
	}
}

func TestCorrelate_ZeroMatchesIsNone(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	// Instance waits on quality; an artifact signal targets
	// waiting-artifact and must not match it.
	if err := st.CreateInstance(ctx, suspendedInstance("work-11", pipeline.StageWaitingQuality)); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	c := event.NewCorrelator("coding", st, event.DefaultRules(), nil)
	cor, err := c.Correlate(ctx, newEvent(event.KindArtifactProduced, map[string]string{
		event.FieldArtifactLabels: "work-11",
	}))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if cor.Outcome != event.OutcomeNone {
		t.Fatalf("outcome = %q, want none", cor.Outcome)
	}
}

func TestCorrelate_ManyMatchesIsAmbiguous(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	a := suspendedInstance("work-12", pipeline.StageWaitingArtifact)
	b := suspendedInstance("work-12b", pipeline.StageWaitingArtifact)
	// Same correlation label on both, simulating an upstream invariant
	// break the correlator must escalate rather than resolve.
	b.Labels[instance.LabelWorkUnit] = "work-12"
	for _, in := range []*instance.Instance{a, b} {
		if err := st.CreateInstance(ctx, in); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	c := event.NewCorrelator("coding", st, event.DefaultRules(), nil)
	cor, err := c.Correlate(ctx, newEvent(event.KindArtifactProduced, map[string]string{
		event.FieldArtifactLabels: "work-12",
	}))
	if !errors.Is(err, foreman.ErrCorrelationAmbiguous) {
		t.Fatalf("err = %v, want ErrCorrelationAmbiguous", err)
	}
	if cor.Outcome != event.OutcomeAmbiguous {
		t.Fatalf("outcome = %q, want ambiguous", cor.Outcome)
	}
	if cor.Matches != 2 {
		t.Fatalf("matches = %d, want 2", cor.Matches)
	}
}

func TestCorrelate_CancellationMatchesAnyStage(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	in := suspendedInstance("work-13", pipeline.StageWaitingReview)
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	c := event.NewCorrelator("coding", st, event.DefaultRules(), nil)
	cor, err := c.Correlate(ctx, newEvent(event.KindArtifactUpdated, map[string]string{
		event.FieldArtifactLabels: "work-13",
	}))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if cor.Outcome != event.OutcomeCancel {
		t.Fatalf("outcome = %q, want cancel", cor.Outcome)
	}
	if cor.Instance.ID != in.ID {
		t.Fatalf("matched %s, want %s", cor.Instance.ID, in.ID)
	}
}

func TestCorrelate_UnknownKindIsNone(t *testing.T) {
	st := memory.New()
	c := event.NewCorrelator("coding", st, event.DefaultRules(), nil)
	cor, err := c.Correlate(context.Background(), newEvent(event.Kind("status-check"), nil))
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if cor.Outcome != event.OutcomeNone {
		t.Fatalf("outcome = %q, want none", cor.Outcome)
	}
}
