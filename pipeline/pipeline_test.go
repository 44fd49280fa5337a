package pipeline_test

import (
	"testing"

	"github.com/xraph/foreman/pipeline"
)

func TestDefaultCoding_Validates(t *testing.T) {
	if err := pipeline.DefaultCoding().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDefaultCoding_Ordering(t *testing.T) {
	p := pipeline.DefaultCoding()

	if got := p.Initial().Name; got != pipeline.StageCreated {
		t.Errorf("Initial() = %q, want %q", got, pipeline.StageCreated)
	}

	// Walk the chain from the initial stage to the terminal stage.
	wantOrder := []string{
		pipeline.StageImplementerInProgress,
		pipeline.StageWaitingArtifact,
		pipeline.StageGuardianInProgress,
		pipeline.StageWaitingQuality,
		pipeline.StageValidatorInProgress,
		pipeline.StageWaitingReview,
		pipeline.StageIntegratorInProgress,
		pipeline.StageWaitingMerge,
		pipeline.StageCompleted,
	}
	cur := p.Initial().Name
	for i, want := range wantOrder {
		next, ok := p.Next(cur)
		if !ok {
			t.Fatalf("Next(%q) at step %d: no next stage", cur, i)
		}
		if next.Name != want {
			t.Fatalf("Next(%q) = %q, want %q", cur, next.Name, want)
		}
		cur = next.Name
	}

	terminal, _ := p.Stage(cur)
	if terminal.Kind != pipeline.KindTerminal {
		t.Errorf("walk ended at %q (kind %q), want terminal", cur, terminal.Kind)
	}
}

func TestDefaultCoding_Roles(t *testing.T) {
	roles := pipeline.DefaultCoding().Roles()
	want := []string{
		pipeline.RoleImplementer, pipeline.RoleGuardian,
		pipeline.RoleValidator, pipeline.RoleIntegrator,
	}
	if len(roles) != len(want) {
		t.Fatalf("Roles() = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("Roles()[%d] = %q, want %q", i, roles[i], want[i])
		}
	}
}

func TestRestartStage_Default(t *testing.T) {
	p := pipeline.DefaultCoding()
	s, ok := p.RestartStage()
	if !ok {
		t.Fatal("RestartStage: restart disabled on default pipeline")
	}
	if s.Name != pipeline.StageImplementerInProgress {
		t.Errorf("RestartStage() = %q, want %q", s.Name, pipeline.StageImplementerInProgress)
	}
}

func TestRestartStage_Disabled(t *testing.T) {
	p := pipeline.DefaultCoding()
	p.Restart = pipeline.RestartPolicy{}
	if _, ok := p.RestartStage(); ok {
		t.Error("RestartStage: expected disabled")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		p    pipeline.Pipeline
	}{
		{"empty name", pipeline.Pipeline{}},
		{"no stages", pipeline.Pipeline{Name: "p"}},
		{"duplicate stage", pipeline.Pipeline{Name: "p", Stages: []pipeline.Stage{
			{Name: "a", Kind: pipeline.KindInitial, Next: "a"},
			{Name: "a", Kind: pipeline.KindTerminal},
		}}},
		{"agent without role", pipeline.Pipeline{Name: "p", Stages: []pipeline.Stage{
			{Name: "a", Kind: pipeline.KindInitial, Next: "b"},
			{Name: "b", Kind: pipeline.KindAgent, Next: "c"},
			{Name: "c", Kind: pipeline.KindTerminal},
		}}},
		{"dangling next", pipeline.Pipeline{Name: "p", Stages: []pipeline.Stage{
			{Name: "a", Kind: pipeline.KindInitial, Next: "missing"},
			{Name: "c", Kind: pipeline.KindTerminal},
		}}},
		{"no terminal", pipeline.Pipeline{Name: "p", Stages: []pipeline.Stage{
			{Name: "a", Kind: pipeline.KindInitial, Next: "a"},
		}}},
		{"two initials", pipeline.Pipeline{Name: "p", Stages: []pipeline.Stage{
			{Name: "a", Kind: pipeline.KindInitial, Next: "c"},
			{Name: "b", Kind: pipeline.KindInitial, Next: "c"},
			{Name: "c", Kind: pipeline.KindTerminal},
		}}},
		{"unknown restart stage", pipeline.Pipeline{
			Name: "p",
			Stages: []pipeline.Stage{
				{Name: "a", Kind: pipeline.KindInitial, Next: "c"},
				{Name: "c", Kind: pipeline.KindTerminal},
			},
			Restart: pipeline.RestartPolicy{Enabled: true, Stage: "missing"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); err == nil {
				t.Error("Validate: expected error")
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := pipeline.NewRegistry()
	if err := r.Register(pipeline.DefaultCoding()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, ok := r.Get("coding")
	if !ok {
		t.Fatal("Get: pipeline not found")
	}
	if p.Name != "coding" {
		t.Errorf("Name = %q, want coding", p.Name)
	}

	if names := r.Names(); len(names) != 1 || names[0] != "coding" {
		t.Errorf("Names() = %v", names)
	}

	bad := &pipeline.Pipeline{Name: "bad"}
	if err := r.Register(bad); err == nil {
		t.Error("Register: expected validation error")
	}
}
