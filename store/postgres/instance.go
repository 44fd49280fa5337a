package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

const instanceColumns = `
	id, pipeline, work_unit_id, repository, branch_ref, labels,
	phase, reason, deadline, started_at, terminal_at,
	history, invocations, resource_version, created_at, updated_at`

// CreateInstance persists a new instance. The partial unique index on
// (pipeline, work_unit_id) WHERE phase = 'running' enforces the
// one-active-instance rule inside the database.
func (s *Store) CreateInstance(ctx context.Context, in *instance.Instance) error {
	labels, history, invocations, err := encodeInstanceJSON(in)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO foreman_instances (
			id, pipeline, work_unit_id, repository, branch_ref, labels,
			phase, reason, deadline, started_at, terminal_at,
			history, invocations, resource_version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		in.ID.String(), in.Pipeline, in.WorkUnitID, in.Repository, in.BranchRef, labels,
		string(in.Phase), in.Reason, nullTime(in.Deadline), in.StartedAt, in.TerminalAt,
		history, invocations, in.ResourceVersion, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		if violatedConstraint(err) == "uq_foreman_instances_active" {
			return foreman.ErrActiveInstance
		}
		if isDuplicateKey(err) {
			return foreman.ErrInstanceExists
		}
		return fmt.Errorf("foreman/postgres: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM foreman_instances WHERE id = $1`,
		instanceID.String(),
	)

	in, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, foreman.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("foreman/postgres: get instance: %w", err)
	}
	return in, nil
}

// PatchInstanceLabels atomically merge-patches the instance's labels,
// guarded by the stored resource version.
func (s *Store) PatchInstanceLabels(ctx context.Context, instanceID id.InstanceID, expectedVersion int64, patch map[string]string) (*instance.Instance, error) {
	in, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if in.Phase.Terminal() {
		return nil, foreman.ErrInstanceTerminal
	}
	if in.ResourceVersion != expectedVersion {
		return nil, foreman.ErrTransitionConflict
	}

	updated := in.Clone()
	if updated.Labels == nil {
		updated.Labels = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		if v == "" {
			delete(updated.Labels, k)
			continue
		}
		updated.Labels[k] = v
	}
	updated.Touch()

	labels, err := json.Marshal(updated.Labels)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: encode labels: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE foreman_instances
		SET labels = $3, resource_version = $4, updated_at = $5
		WHERE id = $1 AND resource_version = $2 AND phase = 'running'`,
		instanceID.String(), expectedVersion, labels,
		updated.ResourceVersion, updated.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("foreman/postgres: patch instance labels: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, foreman.ErrTransitionConflict
	}
	return updated, nil
}

// UpdateInstance conditionally replaces the instance's mutable fields
// using its own ResourceVersion as the expected version.
func (s *Store) UpdateInstance(ctx context.Context, in *instance.Instance) error {
	expected := in.ResourceVersion
	updated := in.Clone()
	updated.Touch()

	labels, history, invocations, err := encodeInstanceJSON(updated)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE foreman_instances SET
			labels = $3, phase = $4, reason = $5, deadline = $6,
			terminal_at = $7, history = $8, invocations = $9,
			resource_version = $10, updated_at = $11
		WHERE id = $1 AND resource_version = $2 AND phase = 'running'`,
		in.ID.String(), expected,
		labels, string(updated.Phase), updated.Reason, nullTime(updated.Deadline),
		updated.TerminalAt, history, invocations,
		updated.ResourceVersion, updated.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		stored, getErr := s.GetInstance(ctx, in.ID)
		if getErr != nil {
			return getErr
		}
		if stored.Phase.Terminal() {
			return foreman.ErrInstanceTerminal
		}
		return foreman.ErrTransitionConflict
	}

	in.Entity = updated.Entity
	return nil
}

// ListInstances returns instances matching the given options, ordered by
// start time. Label selectors use JSONB containment.
func (s *Store) ListInstances(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM foreman_instances WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argIdx)
		args = append(args, string(opts.Phase))
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
		query += fmt.Sprintf(" AND started_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND started_at <= $%d", argIdx)
		args = append(args, opts.Until)
		argIdx++
	}

	query += " ORDER BY started_at ASC"

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
		return nil, fmt.Errorf("foreman/postgres: list instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// CountInstances returns the number of instances matching the options.
func (s *Store) CountInstances(ctx context.Context, opts instance.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM foreman_instances WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Pipeline != "" {
		query += fmt.Sprintf(" AND pipeline = $%d", argIdx)
		args = append(args, opts.Pipeline)
		argIdx++
	}
	if opts.Phase != "" {
		query += fmt.Sprintf(" AND phase = $%d", argIdx)
		args = append(args, string(opts.Phase))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("foreman/postgres: count instances: %w", err)
	}
	return count, nil
}

// DeleteInstance removes an instance by ID.
func (s *Store) DeleteInstance(ctx context.Context, instanceID id.InstanceID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM foreman_instances WHERE id = $1`,
		instanceID.String(),
	)
	if err != nil {
		return fmt.Errorf("foreman/postgres: delete instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return foreman.ErrInstanceNotFound
	}
	return nil
}

// encodeInstanceJSON marshals the JSONB columns.
func encodeInstanceJSON(in *instance.Instance) (labels, history, invocations []byte, err error) {
	l := in.Labels
	if l == nil {
		l = map[string]string{}
	}
	labels, err = json.Marshal(l)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("foreman/postgres: encode labels: %w", err)
	}

	h := in.History
	if h == nil {
		h = []instance.Transition{}
	}
	history, err = json.Marshal(h)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("foreman/postgres: encode history: %w", err)
	}

	iv := in.Invocations
	if iv == nil {
		iv = []instance.Invocation{}
	}
	invocations, err = json.Marshal(iv)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("foreman/postgres: encode invocations: %w", err)
	}
	return labels, history, invocations, nil
}

// scanInstance scans a single instance row.
func scanInstance(row pgx.Row) (*instance.Instance, error) {
	var (
		in          instance.Instance
		idStr       string
		phaseStr    string
		deadline    *time.Time
		labels      []byte
		history     []byte
		invocations []byte
	)
	err := row.Scan(
		&idStr, &in.Pipeline, &in.WorkUnitID, &in.Repository, &in.BranchRef, &labels,
		&phaseStr, &in.Reason, &deadline, &in.StartedAt, &in.TerminalAt,
		&history, &invocations, &in.ResourceVersion, &in.CreatedAt, &in.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	in.Phase = instance.Phase(phaseStr)
	in.Deadline = fromNullTime(deadline)

	if err := json.Unmarshal(labels, &in.Labels); err != nil {
		return nil, fmt.Errorf("foreman/postgres: decode labels: %w", err)
	}
	if err := json.Unmarshal(history, &in.History); err != nil {
		return nil, fmt.Errorf("foreman/postgres: decode history: %w", err)
	}
	if err := json.Unmarshal(invocations, &in.Invocations); err != nil {
		return nil, fmt.Errorf("foreman/postgres: decode invocations: %w", err)
	}

	parsedID, parseErr := id.ParseInstanceID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("foreman/postgres: parse instance id %q: %w", idStr, parseErr)
	}
	in.ID = parsedID

	return &in, nil
}

// collectInstances collects all instances from query rows.
func collectInstances(rows pgx.Rows) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("foreman/postgres: scan instance row: %w", err)
		}
		instances = append(instances, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("foreman/postgres: iterate instance rows: %w", err)
	}
	return instances, nil
}
