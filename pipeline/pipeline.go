// Package pipeline defines the stage machine an instance progresses
// through. The set of stages is configuration, not code: a Pipeline is
// an ordered list of stages alternating between agent stages (an agent
// of some role is invoked) and waiting stages (the instance suspends
// until an external signal arrives), ending in a terminal stage.
package pipeline

import (
	"fmt"
	"sync"
)

// StageKind classifies a stage.
type StageKind string

const (
	// KindInitial is the entry stage an instance is created in.
	KindInitial StageKind = "initial"
	// KindAgent means an agent of the stage's Role is invoked on entry.
	KindAgent StageKind = "agent"
	// KindWaiting means the instance suspends until a correlated signal
	// arrives. A waiting stage has no active agent invocation.
	KindWaiting StageKind = "waiting"
	// KindTerminal ends the pipeline.
	KindTerminal StageKind = "terminal"
)

// Stage is one position in a pipeline.
type Stage struct {
	Name string    `json:"name"`
	Kind StageKind `json:"kind"`
	// Role identifies which agent kind is invoked for KindAgent stages
	// and which role lock is acquired before invocation.
	Role string `json:"role,omitempty"`
	// Next names the stage entered when this one completes. Empty for
	// terminal stages.
	Next string `json:"next,omitempty"`
}

// RestartPolicy governs restart-from-checkpoint after cancellation.
type RestartPolicy struct {
	// Enabled allows a cancelled instance to be recreated at the
	// restart stage. Disabled pipelines terminate on cancellation.
	Enabled bool `json:"enabled"`
	// Stage names the stage the fresh instance starts in. Empty means
	// the pipeline's first agent stage.
	Stage string `json:"stage,omitempty"`
}

// Pipeline is a named, validated stage machine.
type Pipeline struct {
	Name    string        `json:"name"`
	Stages  []Stage       `json:"stages"`
	Restart RestartPolicy `json:"restart"`
}

// Validate checks structural soundness: unique stage names, resolvable
// Next references, exactly one initial stage, at least one terminal
// stage, roles on agent stages, and a resolvable restart stage.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline: name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q: no stages", p.Name)
	}

	byName := make(map[string]Stage, len(p.Stages))
	var initials, terminals int
	for _, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("pipeline %q: stage with empty name", p.Name)
		}
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("pipeline %q: duplicate stage %q", p.Name, s.Name)
		}
		byName[s.Name] = s

		switch s.Kind {
		case KindInitial:
			initials++
		case KindTerminal:
			terminals++
		case KindAgent:
			if s.Role == "" {
				return fmt.Errorf("pipeline %q: agent stage %q has no role", p.Name, s.Name)
			}
		case KindWaiting:
		default:
			return fmt.Errorf("pipeline %q: stage %q has unknown kind %q", p.Name, s.Name, s.Kind)
		}
	}
	if initials != 1 {
		return fmt.Errorf("pipeline %q: want exactly 1 initial stage, have %d", p.Name, initials)
	}
	if terminals == 0 {
		return fmt.Errorf("pipeline %q: no terminal stage", p.Name)
	}

	for _, s := range p.Stages {
		if s.Kind == KindTerminal {
			if s.Next != "" {
				return fmt.Errorf("pipeline %q: terminal stage %q has a next stage", p.Name, s.Name)
			}
			continue
		}
		if s.Next == "" {
			return fmt.Errorf("pipeline %q: stage %q has no next stage", p.Name, s.Name)
		}
		if _, ok := byName[s.Next]; !ok {
			return fmt.Errorf("pipeline %q: stage %q references unknown next %q", p.Name, s.Name, s.Next)
		}
	}

	if p.Restart.Stage != "" {
		if _, ok := byName[p.Restart.Stage]; !ok {
			return fmt.Errorf("pipeline %q: restart stage %q does not exist", p.Name, p.Restart.Stage)
		}
	}

	return nil
}

// Stage returns the named stage.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Initial returns the pipeline's entry stage.
func (p *Pipeline) Initial() Stage {
	for _, s := range p.Stages {
		if s.Kind == KindInitial {
			return s
		}
	}
	// Validate guarantees one exists; fall back to the first stage for
	// unvalidated pipelines.
	return p.Stages[0]
}

// Next returns the stage that follows the named stage.
func (p *Pipeline) Next(name string) (Stage, bool) {
	s, ok := p.Stage(name)
	if !ok || s.Next == "" {
		return Stage{}, false
	}
	return p.Stage(s.Next)
}

// RestartStage resolves where a restarted instance begins. Returns false
// when the restart policy is disabled.
func (p *Pipeline) RestartStage() (Stage, bool) {
	if !p.Restart.Enabled {
		return Stage{}, false
	}
	if p.Restart.Stage != "" {
		return p.Stage(p.Restart.Stage)
	}
	for _, s := range p.Stages {
		if s.Kind == KindAgent {
			return s, true
		}
	}
	return Stage{}, false
}

// Roles returns the distinct agent roles in pipeline order.
func (p *Pipeline) Roles() []string {
	seen := make(map[string]struct{})
	var roles []string
	for _, s := range p.Stages {
		if s.Kind != KindAgent {
			continue
		}
		if _, ok := seen[s.Role]; ok {
			continue
		}
		seen[s.Role] = struct{}{}
		roles = append(roles, s.Role)
	}
	return roles
}

// Registry holds registered pipelines by name. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Pipeline)}
}

// Register validates and stores a pipeline. Re-registering a name
// replaces the previous definition.
func (r *Registry) Register(p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name] = p
	return nil
}

// Get returns the named pipeline.
func (r *Registry) Get(name string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	return p, ok
}

// Names returns the registered pipeline names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for n := range r.pipelines {
		names = append(names, n)
	}
	return names
}
