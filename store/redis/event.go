package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/event"
)

// RecordDelivery persists a new audit record via SETNX on the delivery
// ID, so a webhook redelivery fails before any processing happens.
func (s *Store) RecordDelivery(ctx context.Context, rec *event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode delivery: %w", err)
	}

	ok, err := s.client.SetNX(ctx, deliveryKey(rec.DeliveryID), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("foreman/redis: record delivery: %w", err)
	}
	if !ok {
		return foreman.ErrDuplicateDelivery
	}
	if err := s.client.SAdd(ctx, deliveryIDsKey, rec.DeliveryID).Err(); err != nil {
		return fmt.Errorf("foreman/redis: index delivery: %w", err)
	}
	return nil
}

// SetDisposition updates the record's disposition.
func (s *Store) SetDisposition(ctx context.Context, deliveryID string, d event.Disposition, note string) error {
	rec, err := s.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	rec.Disposition = d
	rec.Note = note

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode delivery: %w", err)
	}
	if err := s.client.Set(ctx, deliveryKey(deliveryID), string(data), 0).Err(); err != nil {
		return fmt.Errorf("foreman/redis: set disposition: %w", err)
	}
	return nil
}

// GetDelivery retrieves an audit record by delivery ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (*event.Record, error) {
	data, err := s.client.Get(ctx, deliveryKey(deliveryID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, foreman.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("foreman/redis: get delivery: %w", err)
	}

	var rec event.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("foreman/redis: decode delivery: %w", err)
	}
	return &rec, nil
}

// ListDeliveries returns audit records, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	ids, err := s.client.SMembers(ctx, deliveryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: list deliveries smembers: %w", err)
	}

	result := make([]*event.Record, 0, len(ids))
	for _, dID := range ids {
		rec, getErr := s.GetDelivery(ctx, dID)
		if getErr != nil {
			continue
		}
		if opts.Kind != "" && rec.Kind != opts.Kind {
			continue
		}
		if opts.WorkUnitID != "" && rec.WorkUnitID != opts.WorkUnitID {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ReceivedAt.After(result[k].ReceivedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// PurgeDeliveries removes audit records received before the given time.
func (s *Store) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, deliveryIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("foreman/redis: purge deliveries smembers: %w", err)
	}

	var n int64
	for _, dID := range ids {
		rec, getErr := s.GetDelivery(ctx, dID)
		if getErr != nil {
			continue
		}
		if !rec.ReceivedAt.Before(before) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, deliveryKey(dID))
		pipe.SRem(ctx, deliveryIDsKey, dID)
		if _, err := pipe.Exec(ctx); err != nil {
			return n, fmt.Errorf("foreman/redis: purge delivery: %w", err)
		}
		n++
	}
	return n, nil
}
