package archive_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/store/memory"
)

func terminalInstance(workUnit string, phase instance.Phase, terminalAt time.Time, labels map[string]string) *instance.Instance {
	all := map[string]string{
		instance.LabelPipeline: "coding",
		instance.LabelWorkUnit: workUnit,
		instance.LabelStage:    "completed",
	}
	for k, v := range labels {
		all[k] = v
	}
	return &instance.Instance{
		Entity:     foreman.NewEntity(),
		ID:         id.NewInstanceID(),
		Pipeline:   "coding",
		WorkUnitID: workUnit,
		Labels:     all,
		Phase:      phase,
		StartedAt:  terminalAt.Add(-time.Hour),
		TerminalAt: &terminalAt,
	}
}

func TestEncodeSnapshot_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	in := terminalInstance("work-1", instance.PhaseSucceeded, now, nil)

	payload, checksum, err := archive.EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if checksum == "" {
		t.Fatal("empty checksum")
	}

	out, err := archive.DecodeSnapshot(payload, checksum)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if out.ID != in.ID || out.WorkUnitID != in.WorkUnitID || out.Phase != in.Phase {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
}

func TestDecodeSnapshot_ChecksumMismatch(t *testing.T) {
	in := terminalInstance("work-2", instance.PhaseSucceeded, time.Now().UTC(), nil)
	payload, _, err := archive.EncodeSnapshot(in)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	_, err = archive.DecodeSnapshot(payload, "deadbeef")
	if !errors.Is(err, foreman.ErrIntegrityCheck) {
		t.Fatalf("err = %v, want ErrIntegrityCheck", err)
	}
}

func TestResolver_ErrorClassOutlivesDefault(t *testing.T) {
	r := archive.DefaultPolicies()

	succeeded := terminalInstance("work-3", instance.PhaseSucceeded, time.Now().UTC(), nil)
	if p := r.Resolve(succeeded); p.Name != "default" {
		t.Fatalf("policy = %q, want default", p.Name)
	}

	errored := terminalInstance("work-4", instance.PhaseError, time.Now().UTC(), map[string]string{
		instance.LabelRetentionClass: "error",
	})
	p := r.Resolve(errored)
	if p.Name != "error" {
		t.Fatalf("policy = %q, want error", p.Name)
	}
	if p.Retention <= r.Default().Retention {
		t.Fatalf("error retention %v not longer than default %v", p.Retention, r.Default().Retention)
	}
}

func TestResolver_ImmediateOverrides(t *testing.T) {
	r := archive.NewResolver(
		archive.Policy{Name: "default", Retention: time.Hour},
		archive.Policy{
			Name:      "discard-bots",
			Selector:  instance.Selector{"actor": "bot"},
			Immediate: true,
		},
		archive.Policy{
			Name:      "specific",
			Selector:  instance.Selector{"actor": "bot", "team": "infra"},
			Retention: 2 * time.Hour,
		},
	)

	in := terminalInstance("work-5", instance.PhaseSucceeded, time.Now().UTC(), map[string]string{
		"actor": "bot", "team": "infra",
	})
	if p := r.Resolve(in); p.Name != "discard-bots" {
		t.Fatalf("policy = %q, want immediate override", p.Name)
	}
}

func TestEvaluateAndArchive_RespectsRetentionWindow(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	blobs := archive.NewMemoryStorage()

	now := time.Now().UTC()
	fresh := terminalInstance("work-6", instance.PhaseSucceeded, now.Add(-time.Hour), nil)
	aged := terminalInstance("work-7", instance.PhaseSucceeded, now.Add(-31*24*time.Hour), nil)
	for _, in := range []*instance.Instance{fresh, aged} {
		if err := st.CreateInstance(ctx, in); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	a := archive.NewArchiver(st, st, blobs, nil, nil, archive.WithClock(func() time.Time { return now }))
	n, err := a.EvaluateAndArchive(ctx)
	if err != nil {
		t.Fatalf("EvaluateAndArchive: %v", err)
	}
	if n != 1 {
		t.Fatalf("archived = %d, want 1", n)
	}

	// The aged instance left active storage; the fresh one is untouched.
	if _, err := st.GetInstance(ctx, aged.ID); !errors.Is(err, foreman.ErrInstanceNotFound) {
		t.Fatalf("aged instance still active: %v", err)
	}
	if _, err := st.GetInstance(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh instance: %v", err)
	}

	recs, err := st.ListArchives(ctx, archive.ListOpts{WorkUnitID: "work-7"})
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("archive records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SourceInstanceID != aged.ID {
		t.Fatalf("source = %s, want %s", rec.SourceInstanceID, aged.ID)
	}
	if rec.PolicyName != "default" {
		t.Fatalf("policy = %q, want default", rec.PolicyName)
	}
	if blobs.Len() != 1 {
		t.Fatalf("blobs = %d, want 1", blobs.Len())
	}
}

func TestEvaluateAndArchive_SecondPassIsIdempotent(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	blobs := archive.NewMemoryStorage()

	now := time.Now().UTC()
	in := terminalInstance("work-8", instance.PhaseSucceeded, now.Add(-31*24*time.Hour), nil)
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	a := archive.NewArchiver(st, st, blobs, nil, nil, archive.WithClock(func() time.Time { return now }))
	if _, err := a.EvaluateAndArchive(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	n, err := a.EvaluateAndArchive(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pass archived %d, want 0", n)
	}
}

// failingStorage rejects every write.
type failingStorage struct{}

func (failingStorage) Put(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingStorage) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk full")
}
func (failingStorage) Delete(context.Context, string) error { return errors.New("disk full") }

func TestEvaluateAndArchive_WriteFailureLeavesInstanceActive(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	now := time.Now().UTC()
	in := terminalInstance("work-9", instance.PhaseSucceeded, now.Add(-31*24*time.Hour), nil)
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	a := archive.NewArchiver(st, st, failingStorage{}, nil, nil, archive.WithClock(func() time.Time { return now }))
	n, err := a.EvaluateAndArchive(ctx)
	if err != nil {
		t.Fatalf("EvaluateAndArchive: %v", err)
	}
	if n != 0 {
		t.Fatalf("archived = %d, want 0 on write failure", n)
	}

	// Still in active storage, no index record written.
	if _, err := st.GetInstance(ctx, in.ID); err != nil {
		t.Fatalf("instance missing after failed archive: %v", err)
	}
	recs, _ := st.ListArchives(ctx, archive.ListOpts{})
	if len(recs) != 0 {
		t.Fatalf("archive records = %d, want 0", len(recs))
	}
}

func TestRestore_ReturnsSnapshot(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	blobs := archive.NewMemoryStorage()

	now := time.Now().UTC()
	in := terminalInstance("work-10", instance.PhaseFailed, now.Add(-31*24*time.Hour), map[string]string{
		instance.LabelRetentionClass: "error",
	})
	// Under the error policy the instance is not yet eligible; age the
	// clock past 90 days instead.
	in.TerminalAt = ptrTime(now.Add(-91 * 24 * time.Hour))
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	a := archive.NewArchiver(st, st, blobs, nil, nil, archive.WithClock(func() time.Time { return now }))
	if _, err := a.EvaluateAndArchive(ctx); err != nil {
		t.Fatalf("EvaluateAndArchive: %v", err)
	}

	recs, _ := st.ListArchives(ctx, archive.ListOpts{WorkUnitID: "work-10"})
	if len(recs) != 1 {
		t.Fatalf("archive records = %d, want 1", len(recs))
	}
	if recs[0].PolicyName != "error" {
		t.Fatalf("policy = %q, want error", recs[0].PolicyName)
	}

	restored, err := a.Restore(ctx, recs[0].ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.ID != in.ID || restored.Phase != instance.PhaseFailed {
		t.Fatalf("restored = %+v, want original snapshot", restored)
	}
}

func TestPurgeExpired_HardDeletesBlobAndRecord(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	blobs := archive.NewMemoryStorage()

	now := time.Now().UTC()
	in := terminalInstance("work-11", instance.PhaseSucceeded, now.Add(-31*24*time.Hour), nil)
	if err := st.CreateInstance(ctx, in); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	a := archive.NewArchiver(st, st, blobs, nil, nil, archive.WithClock(func() time.Time { return now }))
	if _, err := a.EvaluateAndArchive(ctx); err != nil {
		t.Fatalf("EvaluateAndArchive: %v", err)
	}

	// Nothing expires yet.
	n, err := a.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged = %d before retention elapsed, want 0", n)
	}

	// Jump past the archive retention window.
	later := archive.NewArchiver(st, st, blobs, nil, nil,
		archive.WithClock(func() time.Time { return now.Add(366 * 24 * time.Hour) }))
	n, err = later.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if blobs.Len() != 0 {
		t.Fatalf("blobs = %d after purge, want 0", blobs.Len())
	}
	recs, _ := st.ListArchives(ctx, archive.ListOpts{})
	if len(recs) != 0 {
		t.Fatalf("archive records = %d after purge, want 0", len(recs))
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
