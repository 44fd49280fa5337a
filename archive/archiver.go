package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

// Emitter receives archival lifecycle notifications. It is implemented
// by ext.Registry; a nil emitter disables notifications.
type Emitter interface {
	EmitInstanceArchived(ctx context.Context, rec *Record)
	EmitArchivePurged(ctx context.Context, rec *Record)
}

// Archiver runs the retention lifecycle: terminal instances wait out
// their retention window in active storage, get compressed into blob
// storage with a checksummed index record, and are deleted from the
// active store only after the archive write is durable. Expired
// archives are later purged for good.
type Archiver struct {
	instances instance.Store
	records   Store
	blobs     BlobStorage
	resolver  *Resolver
	emitter   Emitter
	logger    *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// ArchiverOption customizes an Archiver.
type ArchiverOption func(*Archiver)

// WithEmitter attaches a lifecycle emitter.
func WithEmitter(e Emitter) ArchiverOption {
	return func(a *Archiver) { a.emitter = e }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver creates an archiver. A nil resolver uses DefaultPolicies.
func NewArchiver(instances instance.Store, records Store, blobs BlobStorage, resolver *Resolver, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	if resolver == nil {
		resolver = DefaultPolicies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		instances: instances,
		records:   records,
		blobs:     blobs,
		resolver:  resolver,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// terminalPhases are scanned by EvaluateAndArchive.
var terminalPhases = []instance.Phase{
	instance.PhaseSucceeded,
	instance.PhaseFailed,
	instance.PhaseError,
	instance.PhaseCancelled,
}

// EvaluateAndArchive scans terminal instances, resolves each one's
// retention policy, and archives those whose window has elapsed. A
// failed archive write leaves the active instance untouched; the next
// scheduled run retries it. Returns the number archived this pass.
func (a *Archiver) EvaluateAndArchive(ctx context.Context) (int, error) {
	now := a.now()
	archived := 0

	for _, phase := range terminalPhases {
		list, err := a.instances.ListInstances(ctx, instance.ListOpts{Phase: phase})
		if err != nil {
			return archived, fmt.Errorf("list %s instances: %w", phase, err)
		}

		for _, in := range list {
			if in.TerminalAt == nil {
				continue
			}
			policy := a.resolver.Resolve(in)
			if now.Before(policy.EligibleAt(*in.TerminalAt)) {
				continue
			}
			if err := a.archiveOne(ctx, in, policy, now); err != nil {
				a.logger.Error("archive failed, instance left in active storage",
					slog.String("instance_id", in.ID.String()),
					slog.String("work_unit", in.WorkUnitID),
					slog.String("error", err.Error()),
				)
				continue
			}
			archived++
		}
	}
	return archived, nil
}

// archiveOne performs the archive-then-delete sequence for a single
// instance. The active instance is deleted only after both the blob
// and the index record are durably written.
func (a *Archiver) archiveOne(ctx context.Context, in *instance.Instance, policy Policy, now time.Time) error {
	payload, checksum, err := EncodeSnapshot(in)
	if err != nil {
		return err
	}

	archiveID := id.NewArchiveID()
	location := fmt.Sprintf("%s/%s.json.gz", in.Pipeline, archiveID)

	if err := a.blobs.Put(ctx, location, payload); err != nil {
		return fmt.Errorf("%w: %w", foreman.ErrArchiveWriteFailed, err)
	}

	rec := &Record{
		ID:               archiveID,
		SourceInstanceID: in.ID,
		Pipeline:         in.Pipeline,
		WorkUnitID:       in.WorkUnitID,
		Labels:           in.Labels,
		Phase:            in.Phase,
		PolicyName:       policy.Name,
		StorageLocation:  location,
		Checksum:         checksum,
		Size:             int64(len(payload)),
		TerminalAt:       *in.TerminalAt,
		ArchivedAt:       now,
	}
	if policy.ArchiveRetention > 0 {
		rec.RetentionExpiresAt = now.Add(policy.ArchiveRetention)
	}

	if err := a.records.CreateArchive(ctx, rec); err != nil {
		// Remove the orphaned blob so a retry starts clean.
		if derr := a.blobs.Delete(ctx, location); derr != nil {
			a.logger.Warn("orphaned archive blob left behind",
				slog.String("location", location),
				slog.String("error", derr.Error()),
			)
		}
		return fmt.Errorf("%w: %w", foreman.ErrArchiveWriteFailed, err)
	}

	if err := a.instances.DeleteInstance(ctx, in.ID); err != nil {
		// Both copies exist now. Leave the archive in place; the next
		// pass will archive the instance again and this record becomes
		// a duplicate an operator can purge.
		return fmt.Errorf("delete archived instance: %w", err)
	}

	a.logger.Info("instance archived",
		slog.String("instance_id", in.ID.String()),
		slog.String("archive_id", archiveID.String()),
		slog.String("work_unit", in.WorkUnitID),
		slog.String("policy", policy.Name),
		slog.Int64("size_bytes", rec.Size),
	)
	if a.emitter != nil {
		a.emitter.EmitInstanceArchived(ctx, rec)
	}
	return nil
}

// Restore reconstructs a read-only snapshot of an archived instance.
// The payload checksum is re-validated before decoding; a mismatch
// returns foreman.ErrIntegrityCheck and leaves the archive untouched.
func (a *Archiver) Restore(ctx context.Context, archiveID id.ArchiveID) (*instance.Instance, error) {
	rec, err := a.records.GetArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	payload, err := a.blobs.Get(ctx, rec.StorageLocation)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", archiveID, err)
	}
	in, err := DecodeSnapshot(payload, rec.Checksum)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", archiveID, err)
	}
	return in, nil
}

// PurgeExpired permanently removes archives whose retention window has
// passed. This is a hard delete with no recovery path; every purge
// attempt is logged for compliance audit whether it succeeds or not.
// Returns the number purged.
func (a *Archiver) PurgeExpired(ctx context.Context) (int, error) {
	now := a.now()
	expired, err := a.records.ListExpiredArchives(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired archives: %w", err)
	}

	purged := 0
	for _, rec := range expired {
		if err := a.purgeOne(ctx, rec); err != nil {
			a.logger.Error("archive purge failed",
				slog.String("archive_id", rec.ID.String()),
				slog.String("instance_id", rec.SourceInstanceID.String()),
				slog.String("work_unit", rec.WorkUnitID),
				slog.Time("retention_expired_at", rec.RetentionExpiresAt),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.Info("archive purged",
			slog.String("archive_id", rec.ID.String()),
			slog.String("instance_id", rec.SourceInstanceID.String()),
			slog.String("work_unit", rec.WorkUnitID),
			slog.Time("retention_expired_at", rec.RetentionExpiresAt),
		)
		if a.emitter != nil {
			a.emitter.EmitArchivePurged(ctx, rec)
		}
		purged++
	}
	return purged, nil
}

// purgeOne deletes the blob before the index record so a partial
// failure leaves a record pointing at a missing blob, which the next
// purge pass retries, rather than an unfindable orphan blob.
func (a *Archiver) purgeOne(ctx context.Context, rec *Record) error {
	if err := a.blobs.Delete(ctx, rec.StorageLocation); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := a.records.DeleteArchive(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
