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
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/id"
)

// CreateArchive persists a new record.
func (s *Store) CreateArchive(ctx context.Context, rec *archive.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("foreman/redis: encode archive: %w", err)
	}

	ok, err := s.client.SetNX(ctx, archiveKey(rec.ID.String()), string(data), 0).Result()
	if err != nil {
		return fmt.Errorf("foreman/redis: create archive: %w", err)
	}
	if !ok {
		return foreman.ErrArchiveExists
	}
	if err := s.client.SAdd(ctx, archiveIDsKey, rec.ID.String()).Err(); err != nil {
		return fmt.Errorf("foreman/redis: index archive: %w", err)
	}
	return nil
}

// GetArchive returns the record or foreman.ErrArchiveNotFound.
func (s *Store) GetArchive(ctx context.Context, archiveID id.ArchiveID) (*archive.Record, error) {
	data, err := s.client.Get(ctx, archiveKey(archiveID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, foreman.ErrArchiveNotFound
		}
		return nil, fmt.Errorf("foreman/redis: get archive: %w", err)
	}

	var rec archive.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("foreman/redis: decode archive: %w", err)
	}
	return &rec, nil
}

// ListArchives returns records matching opts, newest first.
func (s *Store) ListArchives(ctx context.Context, opts archive.ListOpts) ([]*archive.Record, error) {
	records, err := s.allArchives(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*archive.Record, 0, len(records))
	for _, rec := range records {
		if opts.Pipeline != "" && rec.Pipeline != opts.Pipeline {
			continue
		}
		if opts.WorkUnitID != "" && rec.WorkUnitID != opts.WorkUnitID {
			continue
		}
		if len(opts.Selector) > 0 && !opts.Selector.Matches(rec.Labels) {
			continue
		}
		if !opts.Since.IsZero() && rec.ArchivedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && rec.ArchivedAt.After(opts.Until) {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ArchivedAt.After(result[k].ArchivedAt)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// ListExpiredArchives returns records whose retention window passed
// before now.
func (s *Store) ListExpiredArchives(ctx context.Context, now time.Time) ([]*archive.Record, error) {
	records, err := s.allArchives(ctx)
	if err != nil {
		return nil, err
	}

	var expired []*archive.Record
	for _, rec := range records {
		if rec.Expired(now) {
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

// DeleteArchive removes the record.
func (s *Store) DeleteArchive(ctx context.Context, archiveID id.ArchiveID) error {
	if _, err := s.GetArchive(ctx, archiveID); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, archiveKey(archiveID.String()))
	pipe.SRem(ctx, archiveIDsKey, archiveID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("foreman/redis: delete archive: %w", err)
	}
	return nil
}

func (s *Store) allArchives(ctx context.Context) ([]*archive.Record, error) {
	ids, err := s.client.SMembers(ctx, archiveIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("foreman/redis: list archives smembers: %w", err)
	}

	records := make([]*archive.Record, 0, len(ids))
	for _, raw := range ids {
		archiveID, parseErr := id.ParseArchiveID(raw)
		if parseErr != nil {
			continue
		}
		rec, getErr := s.GetArchive(ctx, archiveID)
		if getErr != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
