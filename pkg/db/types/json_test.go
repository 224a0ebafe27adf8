package dbtypes

import "testing"

func TestJSONScan(t *testing.T) {
	var j JSON
	if err := j.Scan(`{"a":1}`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	if string(j) != `{"a":1}` {
		t.Fatalf("unexpected value %s", j)
	}
	if err := j.Scan([]byte(`[1]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if string(j) != `[1]` {
		t.Fatalf("unexpected value %s", j)
	}
	if err := j.Scan(nil); err != nil || j != nil {
		t.Fatalf("expected nil after NULL scan, got %s (%v)", j, err)
	}
	if err := j.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestJSONValue(t *testing.T) {
	v, err := JSON(`{"ok":true}`).Value()
	if err != nil || v != `{"ok":true}` {
		t.Fatalf("unexpected value %v (%v)", v, err)
	}
	if v, err := JSON(nil).Value(); err != nil || v != nil {
		t.Fatalf("empty json should be NULL, got %v (%v)", v, err)
	}
	if _, err := JSON(`{broken`).Value(); err == nil {
		t.Fatalf("expected invalid json error")
	}
}
