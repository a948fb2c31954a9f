package problem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeProblemFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirStoreLoadsProblem(t *testing.T) {
	dir := t.TempDir()
	writeProblemFile(t, dir, "p1.json", `{
		"id": "p1",
		"sources": [{"bucket": "datasets", "key": "orders.csv", "table_name": "orders"}],
		"test_cases": [{
			"name": "basic",
			"expected": {"columns": ["total"], "rows": [[3]]}
		}]
	}`)

	store := NewDirStore(dir)
	p, err := store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.ID != "p1" {
		t.Errorf("ID = %q, want p1", p.ID)
	}
	if len(p.Sources) != 1 || p.Sources[0].TableName != "orders" {
		t.Errorf("Sources = %+v, want one orders source", p.Sources)
	}
	if len(p.TestCases) != 1 {
		t.Fatalf("got %d test cases, want 1", len(p.TestCases))
	}
}

func TestDirStoreCachesAfterFirstLoad(t *testing.T) {
	dir := t.TempDir()
	writeProblemFile(t, dir, "p1.json", `{
		"id": "p1",
		"test_cases": [{"name": "basic", "expected": {"columns": ["n"], "rows": [[1]]}}]
	}`)

	store := NewDirStore(dir)
	if _, err := store.Get(context.Background(), "p1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Removing the file must not evict the cached definition.
	if err := os.Remove(filepath.Join(dir, "p1.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), "p1"); err != nil {
		t.Errorf("Get() after file removal error = %v, want cache hit", err)
	}
}

func TestDirStoreRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	writeProblemFile(t, dir, "mismatch.json", `{
		"id": "other",
		"test_cases": [{"name": "basic", "expected": {"columns": ["n"], "rows": [[1]]}}]
	}`)
	writeProblemFile(t, dir, "empty.json", `{"id": "empty", "test_cases": []}`)
	writeProblemFile(t, dir, "garbage.json", `{not json`)

	store := NewDirStore(dir)
	tests := []struct {
		name string
		id   string
	}{
		{"path traversal", "../secrets"},
		{"missing file", "nope"},
		{"ID mismatch", "mismatch"},
		{"no test cases", "empty"},
		{"malformed JSON", "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Get(context.Background(), tt.id); err == nil {
				t.Errorf("Get(%q) succeeded, want error", tt.id)
			}
		})
	}
}
