package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/instance"
)

// Outcome classifies what the correlator decided for an event.
type Outcome string

const (
	// OutcomeNone means no instance matched. Not necessarily an error:
	// the event may be early (race), stale (instance moved on), or
	// simply irrelevant to this pipeline. Dropped at low severity.
	OutcomeNone Outcome = "none"
	// OutcomeAdvance means exactly one suspended instance matched and
	// should be advanced.
	OutcomeAdvance Outcome = "advance"
	// OutcomeCancel means the event is a cancellation trigger for
	// exactly one running instance.
	OutcomeCancel Outcome = "cancel"
	// OutcomeAmbiguous means more than one instance matched a selector
	// that must be unique — an invariant violation that is escalated,
	// never silently resolved.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Correlation is the correlator's decision for one event.
type Correlation struct {
	Outcome  Outcome
	Rule     Rule
	Instance *instance.Instance
	// Matches is the number of instances that matched the selector.
	Matches int
}

// Correlator maps a normalized inbound event to the unique workflow
// instance it applies to. It is stateless: every call builds a label
// selector from the matching rule and queries the instance store.
type Correlator struct {
	pipeline  string
	instances instance.Store
	rules     *RuleSet
	logger    *slog.Logger
}

// NewCorrelator creates a Correlator for one pipeline.
func NewCorrelator(pipelineName string, instances instance.Store, rules *RuleSet, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pipeline:  pipelineName,
		instances: instances,
		rules:     rules,
		logger:    logger,
	}
}

// Correlate resolves the event to zero, one, or many instances.
//
// Zero matches yield OutcomeNone. Exactly one match yields
// OutcomeAdvance (or OutcomeCancel for cancellation rules). More than
// one match yields OutcomeAmbiguous together with
// foreman.ErrCorrelationAmbiguous — the caller must escalate and must
// not act on any of the matches.
func (c *Correlator) Correlate(ctx context.Context, e *Event) (*Correlation, error) {
	rule, ok := c.rules.For(e)
	if !ok {
		c.logger.Debug("event kind has no rule; dropped",
			slog.String("kind", string(e.Kind)),
			slog.String("event_id", e.ID.String()),
		)
		return &Correlation{Outcome: OutcomeNone}, nil
	}

	workUnit, err := rule.ExtractWorkUnitID(e)
	if err != nil {
		c.logger.Debug("work unit extraction failed; dropped",
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
		return &Correlation{Outcome: OutcomeNone, Rule: rule}, nil
	}
	e.WorkUnitID = workUnit

	sel := instance.Selector{
		instance.LabelPipeline: c.pipeline,
		instance.LabelWorkUnit: workUnit,
	}
	// Cancellation rules apply at any stage; advance rules only match
	// the waiting stage the kind is defined to satisfy.
	if !rule.Cancels {
		sel[instance.LabelStage] = rule.TargetStage
	}

	matches, err := c.instances.ListInstances(ctx, instance.ListOpts{
		Selector: sel,
		Phase:    instance.PhaseRunning,
	})
	if err != nil {
		return nil, fmt.Errorf("correlate %s for %s: %w", e.Kind, workUnit, err)
	}

	switch len(matches) {
	case 0:
		c.logger.Debug("event matched no instance; dropped",
			slog.String("kind", string(e.Kind)),
			slog.String("work_unit", workUnit),
			slog.String("selector", sel.String()),
		)
		return &Correlation{Outcome: OutcomeNone, Rule: rule}, nil

	case 1:
		out := OutcomeAdvance
		if rule.Cancels {
			out = OutcomeCancel
		}
		return &Correlation{
			Outcome:  out,
			Rule:     rule,
			Instance: matches[0],
			Matches:  1,
		}, nil

	default:
		// The at-most-one-active-instance invariant was broken upstream.
		// Refuse to pick one.
		return &Correlation{
				Outcome: OutcomeAmbiguous,
				Rule:    rule,
				Matches: len(matches),
			}, fmt.Errorf("correlate %s for %s: %d instances matched %s: %w",
				e.Kind, workUnit, len(matches), sel.String(), foreman.ErrCorrelationAmbiguous)
	}
}
