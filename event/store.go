package event

import (
	"context"
	"time"

	"github.com/xraph/foreman/id"
)

// Disposition records what the engine did with a delivery.
type Disposition string

const (
	// DispositionReceived is the initial state before processing.
	DispositionReceived Disposition = "received"
	// DispositionAdvanced means the event advanced an instance.
	DispositionAdvanced Disposition = "advanced"
	// DispositionCancelled means the event cancelled an instance.
	DispositionCancelled Disposition = "cancelled"
	// DispositionDropped means no instance matched or the stage had
	// already moved on (stale/duplicate signal).
	DispositionDropped Disposition = "dropped"
	// DispositionAmbiguous means correlation matched multiple instances
	// and the engine refused to act.
	DispositionAmbiguous Disposition = "ambiguous"
)

// Record is the audit/idempotency trail for one consumed delivery.
// Events themselves are ephemeral; this is all that outlives them.
type Record struct {
	ID         id.EventID    `json:"id"`
	Kind       Kind          `json:"kind"`
	DeliveryID string        `json:"delivery_id"`
	WorkUnitID string        `json:"work_unit_id,omitempty"`
	InstanceID id.InstanceID `json:"instance_id,omitempty"`

	Disposition Disposition `json:"disposition"`
	Note        string      `json:"note,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// ListOpts filters delivery audit listings.
type ListOpts struct {
	Kind       Kind
	WorkUnitID string
	Limit      int
	Offset     int
}

// Store defines the persistence contract for the delivery audit trail.
type Store interface {
	// RecordDelivery persists a new audit record. It is a create-if-
	// absent keyed on DeliveryID: a redelivered webhook fails with
	// foreman.ErrDuplicateDelivery and is never processed twice.
	RecordDelivery(ctx context.Context, rec *Record) error

	// SetDisposition updates the record's disposition once the engine
	// has processed (or dropped) the event.
	SetDisposition(ctx context.Context, deliveryID string, d Disposition, note string) error

	// GetDelivery retrieves an audit record by delivery ID.
	GetDelivery(ctx context.Context, deliveryID string) (*Record, error)

	// ListDeliveries returns audit records, newest first.
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Record, error)

	// PurgeDeliveries removes audit records received before the given
	// time. Returns the number removed.
	PurgeDeliveries(ctx context.Context, before time.Time) (int64, error)
}
