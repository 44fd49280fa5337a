package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
)

// HandleEvent consumes one normalized inbound event. The delivery is
// recorded first so redeliveries are rejected before any state changes;
// a duplicate delivery is a silent no-op. The event is then correlated
// against every registered pipeline and the matched instance advanced
// or cancelled. The final disposition is written back to the audit
// record regardless of outcome.
func (eng *Engine) HandleEvent(ctx context.Context, e *event.Event) error {
	deliveryID := e.DeliveryID
	if deliveryID == "" {
		deliveryID = e.ID.String()
	}

	rec := &event.Record{
		ID:          e.ID,
		Kind:        e.Kind,
		DeliveryID:  deliveryID,
		Disposition: event.DispositionReceived,
		ReceivedAt:  time.Now().UTC(),
	}
	if err := eng.events.RecordDelivery(ctx, rec); err != nil {
		if errors.Is(err, foreman.ErrDuplicateDelivery) {
			eng.logger.Debug("duplicate delivery ignored",
				slog.String("delivery_id", deliveryID),
				slog.String("kind", string(e.Kind)),
			)
			return nil
		}
		return fmt.Errorf("record delivery %q: %w", deliveryID, err)
	}

	names := make([]string, 0, len(eng.correlators))
	for name := range eng.correlators {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c, err := eng.correlators[name].Correlate(ctx, e)
		if err != nil {
			if errors.Is(err, foreman.ErrCorrelationAmbiguous) {
				eng.setDisposition(ctx, deliveryID, event.DispositionAmbiguous,
					fmt.Sprintf("%d instances matched in pipeline %q", c.Matches, name))
				eng.extensions.EmitCorrelationAmbiguous(ctx, e, c.Matches)
				eng.logger.Error("event correlation ambiguous",
					slog.String("delivery_id", deliveryID),
					slog.String("kind", string(e.Kind)),
					slog.String("pipeline", name),
					slog.Int("matches", c.Matches),
				)
				return err
			}
			return fmt.Errorf("correlate in pipeline %q: %w", name, err)
		}

		switch c.Outcome {
		case event.OutcomeNone:
			continue

		case event.OutcomeAdvance:
			err := eng.Advance(ctx, c.Instance.ID, c.Rule.TargetStage)
			if errors.Is(err, foreman.ErrStageMismatch) {
				// The instance moved on between correlation and the
				// conditional update: the signal is stale.
				eng.setDisposition(ctx, deliveryID, event.DispositionDropped,
					fmt.Sprintf("stale signal for instance %s: %v", c.Instance.ID, err))
				eng.extensions.EmitSignalDropped(ctx, e, "stage already advanced")
				return nil
			}
			if err != nil {
				eng.setDisposition(ctx, deliveryID, event.DispositionAdvanced,
					fmt.Sprintf("instance %s: %v", c.Instance.ID, err))
				return err
			}
			eng.setDisposition(ctx, deliveryID, event.DispositionAdvanced,
				fmt.Sprintf("instance %s advanced past %s", c.Instance.ID, c.Rule.TargetStage))
			return nil

		case event.OutcomeCancel:
			_, err := eng.Cancel(ctx, c.Instance.ID,
				fmt.Sprintf("superseded by %s event", e.Kind))
			if errors.Is(err, foreman.ErrInstanceTerminal) {
				eng.setDisposition(ctx, deliveryID, event.DispositionDropped,
					fmt.Sprintf("instance %s already terminal", c.Instance.ID))
				eng.extensions.EmitSignalDropped(ctx, e, "instance already terminal")
				return nil
			}
			if err != nil {
				return err
			}
			eng.setDisposition(ctx, deliveryID, event.DispositionCancelled,
				fmt.Sprintf("instance %s cancelled", c.Instance.ID))
			return nil
		}
	}

	eng.setDisposition(ctx, deliveryID, event.DispositionDropped, "no matching instance")
	eng.extensions.EmitSignalDropped(ctx, e, "no matching instance")
	eng.logger.Debug("event dropped",
		slog.String("delivery_id", deliveryID),
		slog.String("kind", string(e.Kind)),
	)
	return nil
}

// setDisposition is best-effort: a failed audit write never masks the
// processing outcome.
func (eng *Engine) setDisposition(ctx context.Context, deliveryID string, d event.Disposition, note string) {
	if err := eng.events.SetDisposition(ctx, deliveryID, d, note); err != nil {
		eng.logger.Warn("delivery disposition update failed",
			slog.String("delivery_id", deliveryID),
			slog.String("disposition", string(d)),
			slog.String("error", err.Error()),
		)
	}
}
