package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/id"
)

const deliveryColumns = `
	delivery_id, id, kind, work_unit_id, instance_id, disposition, note, received_at`

// RecordDelivery persists a new audit record. The primary key on
// delivery_id makes webhook redelivery a unique violation before any
// processing happens.
func (s *Store) RecordDelivery(ctx context.Context, rec *event.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO foreman_deliveries (
			delivery_id, id, kind, work_unit_id, instance_id,
			disposition, note, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.DeliveryID, rec.ID.String(), string(rec.Kind),
		rec.WorkUnitID, rec.InstanceID.String(),
		string(rec.Disposition), rec.Note, rec.ReceivedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return foreman.ErrDuplicateDelivery
		}
		return fmt.Errorf("foreman/postgres: record delivery: %w", err)
	}
	return nil
}

// SetDisposition updates the record's disposition.
func (s *Store) SetDisposition(ctx context.Context, deliveryID string, d event.Disposition, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE foreman_deliveries
		SET disposition = $2, note = $3
		WHERE delivery_id = $1`,
		deliveryID, string(d), note,
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: set disposition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrDeliveryNotFound
	}
	return nil
}

// GetDelivery retrieves an audit record by delivery ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (*event.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM foreman_deliveries WHERE delivery_id = $1`,
		deliveryID,
	)

	rec, err := scanDelivery(row)
	if err != nil {
		if isNoRows(err) {
			return nil, foreman.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("foreman/postgres: get delivery: %w", err)
	}
	return rec, nil
}

// ListDeliveries returns audit records, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	query := `SELECT ` + deliveryColumns + ` FROM foreman_deliveries WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(opts.Kind))
		argIdx++
	}
	if opts.WorkUnitID != "" {
		query += fmt.Sprintf(" AND work_unit_id = $%d", argIdx)
		args = append(args, opts.WorkUnitID)
		argIdx++
	}

	query += " ORDER BY received_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: list deliveries: %w", err)
	}
	defer rows.Close()

	var records []*event.Record
	for rows.Next() {
		rec, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("foreman/postgres: scan delivery row: %w", scanErr)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("foreman/postgres: iterate delivery rows: %w", err)
	}
	return records, nil
}

// PurgeDeliveries removes audit records received before the given time.
func (s *Store) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM foreman_deliveries WHERE received_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("foreman/postgres: purge deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanDelivery scans a single delivery audit row.
func scanDelivery(row pgx.Row) (*event.Record, error) {
	var (
		rec         event.Record
		idStr       string
		kindStr     string
		instanceStr string
		dispStr     string
	)
	err := row.Scan(
		&rec.DeliveryID, &idStr, &kindStr, &rec.WorkUnitID, &instanceStr,
		&dispStr, &rec.Note, &rec.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = event.Kind(kindStr)
	rec.Disposition = event.Disposition(dispStr)

	parsedID, parseErr := id.Parse(idStr)
	if parseErr == nil {
		rec.ID = parsedID
	}
	if instanceStr != "" {
		parsedInstance, instErr := id.ParseInstanceID(instanceStr)
		if instErr == nil {
			rec.InstanceID = parsedInstance
		}
	}

	return &rec, nil
}
