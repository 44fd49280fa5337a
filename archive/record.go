// Package archive moves terminal workflow instances out of active
// storage into compressed long-term storage under a retention policy,
// and restores read-only snapshots from it on demand.
package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
)

// Record is the durable index entry for an archived instance. The
// compressed snapshot itself lives in blob storage at StorageLocation;
// the record carries enough metadata to keep archives searchable by
// work unit, label, and time range without touching the payload.
type Record struct {
	ID               id.ArchiveID      `json:"id"`
	SourceInstanceID id.InstanceID     `json:"source_instance_id"`
	Pipeline         string            `json:"pipeline"`
	WorkUnitID       string            `json:"work_unit_id"`
	Labels           map[string]string `json:"labels,omitempty"`
	Phase            instance.Phase    `json:"phase"`
	PolicyName       string            `json:"policy_name"`

	// StorageLocation points at the compressed payload in blob storage.
	StorageLocation string `json:"storage_location"`
	// Checksum is the hex SHA-256 of the compressed payload.
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`

	TerminalAt         time.Time `json:"terminal_at"`
	ArchivedAt         time.Time `json:"archived_at"`
	RetentionExpiresAt time.Time `json:"retention_expires_at"`
}

// Expired reports whether the record's own retention window has passed
// and the archive is eligible for permanent deletion.
func (r *Record) Expired(now time.Time) bool {
	return !r.RetentionExpiresAt.IsZero() && now.After(r.RetentionExpiresAt)
}

// EncodeSnapshot serializes an instance to a gzip-compressed JSON
// payload and returns the payload with its hex SHA-256 checksum.
func EncodeSnapshot(in *instance.Instance) ([]byte, string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("compress snapshot: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

// DecodeSnapshot verifies the payload against the expected checksum and
// reconstructs the archived instance. A checksum mismatch returns
// ErrIntegrityCheck without attempting decompression. The restored
// snapshot is read-only: its resource version is cleared so it can
// never be written back through a conditional update.
func DecodeSnapshot(payload []byte, checksum string) (*instance.Instance, error) {
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, fmt.Errorf("snapshot checksum mismatch: %w", foreman.ErrIntegrityCheck)
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var in instance.Instance
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	in.ResourceVersion = 0
	return &in, nil
}
