package archive

import (
	"time"

	"github.com/xraph/foreman/instance"
)

// Policy decides how long a terminal instance stays in active storage
// before archival, and how long its archive is retained afterwards.
type Policy struct {
	Name     string
	Selector instance.Selector

	// Retention is how long a terminal instance remains in active
	// storage before it becomes eligible for archival.
	Retention time.Duration

	// ArchiveRetention bounds the archived record's lifetime. Zero
	// means the archive is kept indefinitely.
	ArchiveRetention time.Duration

	// Immediate forces archival as soon as the instance is terminal,
	// overriding Retention and any more specific non-immediate policy.
	Immediate bool
}

// Matches reports whether the policy's selector matches the labels.
// A policy with an empty selector matches everything.
func (p *Policy) Matches(labels map[string]string) bool {
	return p.Selector.Matches(labels)
}

// EligibleAt returns when an instance that became terminal at the given
// time may be archived under this policy.
func (p *Policy) EligibleAt(terminalAt time.Time) time.Time {
	if p.Immediate {
		return terminalAt
	}
	return terminalAt.Add(p.Retention)
}

// Resolver picks exactly one policy per instance. Resolution order:
// immediate override first, then most specific selector match, with
// ties broken by declaration order. Instances matching no policy fall
// back to the default.
type Resolver struct {
	policies []Policy
	def      Policy
}

// NewResolver creates a resolver over the declared policies with the
// given fallback default.
func NewResolver(def Policy, policies ...Policy) *Resolver {
	return &Resolver{policies: policies, def: def}
}

// Resolve returns the single policy governing the instance.
func (r *Resolver) Resolve(in *instance.Instance) Policy {
	var best *Policy
	bestSpec := -1
	for i := range r.policies {
		p := &r.policies[i]
		if !p.Matches(in.Labels) {
			continue
		}
		if p.Immediate {
			return *p
		}
		if spec := p.Selector.Specificity(); spec > bestSpec {
			best, bestSpec = p, spec
		}
	}
	if best == nil {
		return r.def
	}
	return *best
}

// Policies returns the declared policies in declaration order.
func (r *Resolver) Policies() []Policy { return r.policies }

// Default returns the fallback policy.
func (r *Resolver) Default() Policy { return r.def }

// DefaultPolicies returns the standard retention classes: 30 days for
// successful instances and 90 days for failed or errored ones, so that
// failures stay inspectable longer for debugging.
func DefaultPolicies() *Resolver {
	return NewResolver(
		Policy{Name: "default", Retention: 30 * 24 * time.Hour, ArchiveRetention: 365 * 24 * time.Hour},
		Policy{
			Name:             "error",
			Selector:         instance.Selector{instance.LabelRetentionClass: "error"},
			Retention:        90 * 24 * time.Hour,
			ArchiveRetention: 2 * 365 * 24 * time.Hour,
		},
	)
}
