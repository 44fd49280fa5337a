package archive

import (
	"context"
	"time"

	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

// ListOpts filters archive record listings. Zero-value fields are
// ignored. Archives stay searchable by work unit, label selector, and
// time range (over ArchivedAt).
type ListOpts struct {
	Pipeline   string
	WorkUnitID string
	Selector   instance.Selector
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Store persists archive records. The compressed payloads live in
// BlobStorage; this store is the searchable index over them.
type Store interface {
	// CreateArchive persists a new record.
	CreateArchive(ctx context.Context, rec *Record) error

	// GetArchive returns the record or foreman.ErrArchiveNotFound.
	GetArchive(ctx context.Context, archiveID id.ArchiveID) (*Record, error)

	// ListArchives returns records matching opts, newest first.
	ListArchives(ctx context.Context, opts ListOpts) ([]*Record, error)

	// ListExpiredArchives returns records whose retention window passed
	// before now.
	ListExpiredArchives(ctx context.Context, now time.Time) ([]*Record, error)

	// DeleteArchive removes the record. The caller deletes the blob
	// first; a record without a blob is recoverable noise, a blob
	// without a record is an orphan nothing can find.
	DeleteArchive(ctx context.Context, archiveID id.ArchiveID) error
}
