package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/foreman/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"InstanceID", id.NewInstanceID, "inst_"},
		{"LockID", id.NewLockID, "lock_"},
		{"EventID", id.NewEventID, "evt_"},
		{"InvocationID", id.NewInvocationID, "inv_"},
		{"ArchiveID", id.NewArchiveID, "arc_"},
		{"PolicyID", id.NewPolicyID, "pol_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixInstance)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixInstance {
		t.Errorf("expected prefix %q, got %q", id.PrefixInstance, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"InstanceID", id.NewInstanceID, id.ParseInstanceID},
		{"LockID", id.NewLockID, id.ParseLockID},
		{"EventID", id.NewEventID, id.ParseEventID},
		{"InvocationID", id.NewInvocationID, id.ParseInvocationID},
		{"ArchiveID", id.NewArchiveID, id.ParseArchiveID},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := tt.newFn()
			parsed, err := tt.parseFn(orig.String())
			if err != nil {
				t.Fatalf("parse %q: %v", orig, err)
			}
			if parsed.String() != orig.String() {
				t.Errorf("round trip: got %q, want %q", parsed, orig)
			}
		})
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	inst := id.NewInstanceID()
	if _, err := id.ParseLockID(inst.String()); err == nil {
		t.Errorf("expected error parsing %q as lock ID", inst)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, s := range []string{"", "not a typeid", "inst_"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
}

func TestMarshalText_RoundTrip(t *testing.T) {
	orig := id.NewArchiveID()
	data, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}

	var parsed id.ID
	if err := parsed.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip: got %q, want %q", parsed, orig)
	}
}
