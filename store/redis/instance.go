package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

// casScript conditionally replaces an instance's data if the stored
// version matches. Returns -1 when the key is gone, 0 when the version
// does not match, 1 on success.
var casScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then return -1 end
if v ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[3])
return 1
`)

// CreateInstance stores the instance as a Hash and claims the active
// slot for its (pipeline, work unit) pair via SETNX.
func (s *Store) CreateInstance(ctx context.Context, in *instance.Instance) error {
	iID := in.ID.String()
	key := instanceKey(iID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("foreman/redis: create instance exists: %w", err)
	}
	if exists > 0 {
		return foreman.ErrInstanceExists
	}

	var claimed string
	if in.Phase == instance.PhaseRunning {
		claimed = activeKey(in.Pipeline, in.WorkUnitID)
		ok, nxErr := s.client.SetNX(ctx, claimed, iID, 0).Result()
		if nxErr != nil {
			return fmt.Errorf("foreman/redis: claim active slot: %w", nxErr)
		}
		if !ok {
			return foreman.ErrActiveInstance
		}
	}

	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode instance: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "data", string(data), "version", strconv.FormatInt(in.ResourceVersion, 10))
	pipe.SAdd(ctx, instanceIDsKey, iID)
	if _, err := pipe.Exec(ctx); err != nil {
		if claimed != "" {
			s.client.Del(ctx, claimed)
		}
		return fmt.Errorf("foreman/redis: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	return s.getInstanceByKey(ctx, instanceKey(instanceID.String()))
}

// PatchInstanceLabels atomically merge-patches the instance's labels via
// the compare-and-swap script.
func (s *Store) PatchInstanceLabels(ctx context.Context, instanceID id.InstanceID, expectedVersion int64, patch map[string]string) (*instance.Instance, error) {
	cur, err := s.getInstanceByKey(ctx, instanceKey(instanceID.String()))
	if err != nil {
		return nil, err
	}
	if cur.Phase.Terminal() {
		return nil, foreman.ErrInstanceTerminal
	}

	updated := cur.Clone()
	updated.ResourceVersion = expectedVersion
	for k, v := range patch {
		if v == "" {
			delete(updated.Labels, k)
			continue
		}
		updated.Labels[k] = v
	}
	updated.Touch()

	if err := s.cas(ctx, instanceID, expectedVersion, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateInstance conditionally replaces the instance's mutable fields.
func (s *Store) UpdateInstance(ctx context.Context, in *instance.Instance) error {
	cur, err := s.getInstanceByKey(ctx, instanceKey(in.ID.String()))
	if err != nil {
		return err
	}
	if cur.Phase.Terminal() {
		return foreman.ErrInstanceTerminal
	}

	updated := in.Clone()
	updated.Touch()
	if err := s.cas(ctx, in.ID, in.ResourceVersion, updated); err != nil {
		return err
	}

	// Terminal instances vacate the active slot for their work unit.
	if updated.Phase.Terminal() {
		s.releaseActiveSlot(ctx, updated)
	}

	in.Entity = updated.Entity
	return nil
}

// ListInstances returns instances matching opts, ordered by start time.
func (s *Store) ListInstances(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	ids, err := s.client.SMembers(ctx, instanceIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: list instances smembers: %w", err)
	}

	result := make([]*instance.Instance, 0, len(ids))
	for _, iID := range ids {
		in, getErr := s.getInstanceByKey(ctx, instanceKey(iID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Phase != "" && in.Phase != opts.Phase {
			continue
		}
		if opts.WorkUnitID != "" && in.WorkUnitID != opts.WorkUnitID {
			continue
		}
		if opts.Selector != nil && !opts.Selector.Matches(in.Labels) {
			continue
		}
		if !opts.Since.IsZero() && in.StartedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && in.StartedAt.After(opts.Until) {
			continue
		}
		result = append(result, in)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountInstances returns the number of instances matching opts.
func (s *Store) CountInstances(ctx context.Context, opts instance.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, instanceIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("foreman/redis: count instances smembers: %w", err)
	}

	var count int64
	for _, iID := range ids {
		in, getErr := s.getInstanceByKey(ctx, instanceKey(iID))
		if getErr != nil {
			continue
		}
		if opts.Pipeline != "" && in.Pipeline != opts.Pipeline {
			continue
		}
		if opts.Phase != "" && in.Phase != opts.Phase {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteInstance removes an instance by ID.
func (s *Store) DeleteInstance(ctx context.Context, instanceID id.InstanceID) error {
	iID := instanceID.String()
	key := instanceKey(iID)

	in, err := s.getInstanceByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, instanceIDsKey, iID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("foreman/redis: delete instance: %w", err)
	}
	if in.Phase == instance.PhaseRunning {
		s.releaseActiveSlot(ctx, in)
	}
	return nil
}

// ── helpers ──

func (s *Store) cas(ctx context.Context, instanceID id.InstanceID, expectedVersion int64, updated *instance.Instance) error {
	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode instance: %w", err)
	}

	res, err := casScript.Run(ctx, s.client,
		[]string{instanceKey(instanceID.String())},
		strconv.FormatInt(expectedVersion, 10),
		string(data),
		strconv.FormatInt(updated.ResourceVersion, 10),
	).Int()
	if err != nil {
		return fmt.Errorf("foreman/redis: instance cas: %w", err)
	}
	switch res {
	case -1:
		return foreman.ErrInstanceNotFound
	case 0:
		return foreman.ErrTransitionConflict
	}
	return nil
}

// releaseActiveSlot frees the (pipeline, work unit) guard if this
// instance still owns it.
func (s *Store) releaseActiveSlot(ctx context.Context, in *instance.Instance) {
	key := activeKey(in.Pipeline, in.WorkUnitID)
	cur, err := s.client.Get(ctx, key).Result()
	if err != nil || cur != in.ID.String() {
		return
	}
	s.client.Del(ctx, key)
}

func (s *Store) getInstanceByKey(ctx context.Context, key string) (*instance.Instance, error) {
	data, err := s.client.HGet(ctx, key, "data").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, foreman.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("foreman/redis: get instance: %w", err)
	}

	var in instance.Instance
	if err := json.Unmarshal([]byte(data), &in); err != nil {
		return nil, fmt.Errorf("foreman/redis: decode instance: %w", err)
	}
	return &in, nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
