package instance_test

import (
	"testing"

	"github.com/xraph/foreman/instance"
)

func TestSelector_Matches(t *testing.T) {
	labels := map[string]string{
		instance.LabelPipeline: "code-review",
		instance.LabelWorkUnit: "task-7",
		instance.LabelStage:    "waiting-artifact",
	}

	tests := []struct {
		name string
		sel  instance.Selector
		want bool
	}{
		{"empty matches all", instance.Selector{}, true},
		{"single match", instance.Selector{instance.LabelWorkUnit: "task-7"}, true},
		{"full match", instance.Selector{
			instance.LabelPipeline: "code-review",
			instance.LabelWorkUnit: "task-7",
			instance.LabelStage:    "waiting-artifact",
		}, true},
		{"wrong value", instance.Selector{instance.LabelStage: "completed"}, false},
		{"missing key", instance.Selector{"priority": "critical"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Matches(labels); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelector_String_SortedAndStable(t *testing.T) {
	sel := instance.Selector{"b": "2", "a": "1", "c": "3"}
	want := "a=1,b=2,c=3"
	if got := sel.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseSelector_RoundTrip(t *testing.T) {
	sel := instance.ParseSelector("pipeline=code-review, work-unit=task-7")
	if len(sel) != 2 {
		t.Fatalf("expected 2 terms, got %d: %v", len(sel), sel)
	}
	if sel["pipeline"] != "code-review" || sel["work-unit"] != "task-7" {
		t.Errorf("unexpected selector: %v", sel)
	}
}

func TestParseSelector_IgnoresMalformedTerms(t *testing.T) {
	sel := instance.ParseSelector("valid=yes,malformed,,=empty")
	if sel["valid"] != "yes" {
		t.Errorf("expected valid=yes, got %v", sel)
	}
	if _, ok := sel["malformed"]; ok {
		t.Errorf("malformed term should be ignored: %v", sel)
	}
}

func TestInstance_Clone_Independent(t *testing.T) {
	in := &instance.Instance{
		Labels: map[string]string{instance.LabelStage: "created"},
	}
	cp := in.Clone()
	cp.Labels[instance.LabelStage] = "completed"

	if in.Labels[instance.LabelStage] != "created" {
		t.Error("mutating a clone leaked into the original")
	}
}

func TestPhase_Terminal(t *testing.T) {
	terminal := []instance.Phase{
		instance.PhaseSucceeded, instance.PhaseFailed,
		instance.PhaseError, instance.PhaseCancelled,
	}
	for _, p := range terminal {
		if !p.Terminal() {
			t.Errorf("%q.Terminal() = false, want true", p)
		}
	}
	if instance.PhaseRunning.Terminal() {
		t.Error("running phase reported terminal")
	}
}
