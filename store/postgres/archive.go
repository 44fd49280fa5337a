package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

const archiveColumns = `
	id, source_instance_id, pipeline, work_unit_id, labels, phase,
	policy_name, storage_location, checksum, size,
	terminal_at, archived_at, retention_expires_at`

// CreateArchive persists a new record.
func (s *Store) CreateArchive(ctx context.Context, rec *archive.Record) error {
	labels := rec.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("foreman/postgres: encode archive labels: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO foreman_archives (
			id, source_instance_id, pipeline, work_unit_id, labels, phase,
			policy_name, storage_location, checksum, size,
			terminal_at, archived_at, retention_expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		)`,
		rec.ID.String(), rec.SourceInstanceID.String(), rec.Pipeline, rec.WorkUnitID,
		labelsJSON, string(rec.Phase),
		rec.PolicyName, rec.StorageLocation, rec.Checksum, rec.Size,
		rec.TerminalAt, rec.ArchivedAt, nullTime(rec.RetentionExpiresAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return foreman.ErrArchiveExists
		}
		return fmt.Errorf("foreman/postgres: create archive: %w", err)
	}
	return nil
}

// GetArchive returns the record or foreman.ErrArchiveNotFound.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+archiveColumns+` FROM foreman_archives WHERE id = $1`,
		archiveID.String(),
	)

	rec, err := scanArchive(row)
	if err != nil {
		if isNoRows(err) {
			return nil, foreman.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("foreman/postgres: get archive: %w", err)
	}
	return rec, nil
}

// ListArchives returns records matching opts, newest first.
func (s *Store) ListArchives(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	query := `SELECT ` + archiveColumns + ` FROM foreman_archives WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Pipeline != "" {
		query += fmt.Sprintf(" AND pipeline = $%d", argIdx)
		args = append(args, opts.Pipeline)
		argIdx++
	}
	if opts.WorkUnitID != "" {
		query += fmt.Sprintf(" AND work_unit_id = $%d", argIdx)
		args = append(args, opts.WorkUnitID)
		argIdx++
	}
	if len(opts.Selector) > 0 {
		sel, err := json.Marshal(map[string]string(opts.Selector))
		if err != nil {
			return nil, fmt.Errorf("foreman/postgres: encode selector: %w", err)
		}
		query += fmt.Sprintf(" AND labels @> $%d::jsonb", argIdx)
		args = append(args, sel)
		argIdx++
	}
	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND archived_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND archived_at <= $%d", argIdx)
		args = append(args, opts.Until)
		argIdx++
	}

	query += " ORDER BY archived_at DESC"

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
		return nil, fmt.Errorf("foreman/postgres: list archives: %w", err)
	}
	defer rows.Close()

	return collectArchives(rows)
}

// ListExpiredArchives returns records whose retention window passed
// before now.
func (s *Store) ListExpiredArchives(ctx context.Context, now time.Time) ([]*archive.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+archiveColumns+` FROM foreman_archives
		 WHERE retention_expires_at IS NOT NULL AND retention_expires_at < $1
		 ORDER BY archived_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: list expired archives: %w", err)
	}
	defer rows.Close()

	return collectArchives(rows)
}

// DeleteArchive removes the record.
func (s *Store) DeleteArchive(ctx context.Context, archiveID id.ArchiveID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM foreman_archives WHERE id = $1`,
		archiveID.String(),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: delete archive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrArchiveNotFound
	}
	return nil
}

// scanArchive scans a single archive record row.
func scanArchive(row pgx.Row) (*archive.Record, error) {
	var (
		rec       archive.Record
		idStr     string
		sourceStr string
		phaseStr  string
		labels    []byte
		expiresAt *time.Time
	)
	err := row.Scan(
		&idStr, &sourceStr, &rec.Pipeline, &rec.WorkUnitID, &labels, &phaseStr,
		&rec.PolicyName, &rec.StorageLocation, &rec.Checksum, &rec.Size,
		&rec.TerminalAt, &rec.ArchivedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Phase = instance.Phase(phaseStr)
	rec.RetentionExpiresAt = fromNullTime(expiresAt)

	if err := json.Unmarshal(labels, &rec.Labels); err != nil {
		return nil, fmt.Errorf("foreman/postgres: decode archive labels: %w", err)
	}

	parsedID, parseErr := id.ParseArchiveID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("foreman/postgres: parse archive id %q: %w", idStr, parseErr)
	}
	rec.ID = parsedID

	parsedSource, sourceErr := id.ParseInstanceID(sourceStr)
	if sourceErr == nil {
		rec.SourceInstanceID = parsedSource
	}

	return &rec, nil
}

// collectArchives collects all archive records from query rows.
func collectArchives(rows pgx.Rows) ([]*archive.Record, error) {
	var records []*archive.Record
	for rows.Next() {
		rec, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("foreman/postgres: scan archive row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("foreman/postgres: iterate archive rows: %w", err)
	}
	return records, nil
}
