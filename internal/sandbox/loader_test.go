package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"sqljudge/internal/problem"
)

// writeDataset stages a CSV under <root>/<bucket>/<key>.
func writeDataset(t *testing.T, root, bucket, key, content string) {
	t.Helper()
	path := filepath.Join(root, bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTablesCSV(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, "datasets", "orders.csv",
		"id,region,amount\n1,North,500.25\n2,North,300\n3,South,\n")

	s := newTestSandbox(t, testOptions())
	report, err := s.LoadTables(context.Background(), problem.NewDirResolver(root),
		[]problem.DatasetSource{{Bucket: "datasets", Key: "orders.csv", TableName: "orders"}})
	if err != nil {
		t.Fatalf("LoadTables() error = %v", err)
	}
	if !report.Success || len(report.Loaded) != 1 {
		t.Fatalf("report = %+v, want one loaded table", report)
	}
	if got := report.Loaded[0]; got.Rows != 3 || got.Columns != 3 {
		t.Errorf("loaded = %+v, want 3 rows, 3 columns", got)
	}

	// Type inference: id INTEGER, amount REAL, empty cell NULL.
	res, err := s.Execute(context.Background(),
		"SELECT id, amount FROM orders WHERE amount IS NULL")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("NULL rows = %d, want 1", len(res.Rows))
	}
	if id, ok := res.Rows[0][0].(int64); !ok || id != 3 {
		t.Errorf("id = %v (%T), want int64 3", res.Rows[0][0], res.Rows[0][0])
	}
}

func TestLoadTablesPartialFailure(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, "datasets", "a.csv", "x\n1\n")
	writeDataset(t, root, "datasets", "b.csv", "y\n2\n")
	writeDataset(t, root, "datasets", "c.csv", "z\n3\n")

	s := newTestSandbox(t, testOptions())
	sources := []problem.DatasetSource{
		{Bucket: "datasets", Key: "a.csv", TableName: "a"},
		{Bucket: "datasets", Key: "b.csv", TableName: "b"},
		{Bucket: "datasets", Key: "missing.csv", TableName: "broken"},
		{Bucket: "datasets", Key: "c.csv", TableName: "c"},
	}
	report, err := s.LoadTables(context.Background(), problem.NewDirResolver(root), sources)
	if err != nil {
		t.Fatalf("LoadTables() error = %v, want partial success", err)
	}
	if !report.Success {
		t.Error("Success = false with 3 of 4 tables loaded")
	}
	if len(report.Loaded) != 3 {
		t.Errorf("loaded = %d, want 3", len(report.Loaded))
	}
	if _, ok := report.Errors["broken"]; !ok {
		t.Errorf("Errors = %v, want entry for broken", report.Errors)
	}

	// The three good tables are queryable.
	res, err := s.Execute(context.Background(), "SELECT x FROM a UNION ALL SELECT y FROM b UNION ALL SELECT z FROM c")
	if err != nil {
		t.Fatalf("Execute() across loaded tables error = %v", err)
	}
	if len(res.Rows) != 3 {
		t.Errorf("rows = %d, want 3", len(res.Rows))
	}
}

func TestLoadTablesAllFail(t *testing.T) {
	root := t.TempDir()
	s := newTestSandbox(t, testOptions())

	report, err := s.LoadTables(context.Background(), problem.NewDirResolver(root),
		[]problem.DatasetSource{{Bucket: "datasets", Key: "nope.csv", TableName: "t"}})
	if err == nil {
		t.Fatal("LoadTables() with zero successes returned nil error")
	}
	if report == nil || report.Success {
		t.Errorf("report = %+v, want Success=false", report)
	}
}

func TestLoadTablesSkipsUnchangedSource(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, "datasets", "a.csv", "x\n1\n2\n")

	s := newTestSandbox(t, testOptions())
	resolver := problem.NewDirResolver(root)
	sources := []problem.DatasetSource{{Bucket: "datasets", Key: "a.csv", TableName: "a"}}

	if _, err := s.LoadTables(context.Background(), resolver, sources); err != nil {
		t.Fatalf("first LoadTables() error = %v", err)
	}
	report, err := s.LoadTables(context.Background(), resolver, sources)
	if err != nil {
		t.Fatalf("second LoadTables() error = %v", err)
	}
	// Unchanged tag: reported but not re-materialized.
	if got := report.Loaded[0].Rows; got != 0 {
		t.Errorf("second load materialized %d rows, want skip", got)
	}

	// A content change flips the tag and forces a reload.
	writeDataset(t, root, "datasets", "a.csv", "x\n1\n2\n3\n")
	report, err = s.LoadTables(context.Background(), resolver, sources)
	if err != nil {
		t.Fatalf("third LoadTables() error = %v", err)
	}
	if got := report.Loaded[0].Rows; got != 3 {
		t.Errorf("reload rows = %d, want 3", got)
	}
	res, err := s.Execute(context.Background(), "SELECT COUNT(*) FROM a")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if n := res.Rows[0][0].(int64); n != 3 {
		t.Errorf("COUNT(*) = %d, want 3 after reload", n)
	}
}

func TestLoadTablesRejectsBadTableName(t *testing.T) {
	root := t.TempDir()
	writeDataset(t, root, "datasets", "a.csv", "x\n1\n")

	s := newTestSandbox(t, testOptions())
	report, err := s.LoadTables(context.Background(), problem.NewDirResolver(root),
		[]problem.DatasetSource{{Bucket: "datasets", Key: "a.csv", TableName: "a; DROP TABLE b"}})
	if err == nil {
		t.Fatal("LoadTables() accepted a hostile table name")
	}
	if report.Success {
		t.Error("Success = true for rejected table name")
	}
}

func TestLoadTablesCeiling(t *testing.T) {
	opts := testOptions()
	opts.MaxTables = 2
	s := newTestSandbox(t, opts)

	sources := []problem.DatasetSource{
		{Bucket: "d", Key: "a.csv", TableName: "a"},
		{Bucket: "d", Key: "b.csv", TableName: "b"},
		{Bucket: "d", Key: "c.csv", TableName: "c"},
	}
	if _, err := s.LoadTables(context.Background(), problem.NewDirResolver(t.TempDir()), sources); err == nil {
		t.Fatal("LoadTables() over the table ceiling succeeded")
	}
}
