package id_test

import (
	"encoding/json"
	"testing"

	"github.com/fannyfinal/antares/id"
)

func TestNewCarriesPrefix(t *testing.T) {
	inst := id.NewInstanceID()
	if inst.Prefix() != id.PrefixInstance {
		t.Fatalf("expected prefix %q, got %q", id.PrefixInstance, inst.Prefix())
	}
	if inst.IsNil() {
		t.Fatal("new ID should not be nil")
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewShardID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Fatalf("round trip mismatch: %q != %q", parsed.String(), orig.String())
	}
}

func TestParseWithPrefixRejectsWrongType(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParseInstanceID(jobID.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestParseEmptyString(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestNilIDString(t *testing.T) {
	if id.Nil.String() != "" {
		t.Fatalf("nil ID should render empty, got %q", id.Nil.String())
	}
	if !id.Nil.IsNil() {
		t.Fatal("Nil should report IsNil")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}

	w := wrapper{ID: id.NewWorkerID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var back wrapper
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if back.ID.String() != w.ID.String() {
		t.Fatalf("json round trip mismatch: %q != %q", back.ID.String(), w.ID.String())
	}
}

func TestSQLValueAndScan(t *testing.T) {
	orig := id.NewTriggerID()

	v, err := orig.Value()
	if err != nil {
		t.Fatalf("value error: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Fatalf("sql round trip mismatch: %q != %q", scanned.String(), orig.String())
	}

	var null id.ID
	if err := null.Scan(nil); err != nil {
		t.Fatalf("scan nil error: %v", err)
	}
	if !null.IsNil() {
		t.Fatal("scanning NULL should produce the Nil ID")
	}
}
