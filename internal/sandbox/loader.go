package sandbox

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"sqljudge/internal/problem"
)

// TableInfo describes one materialized table.
type TableInfo struct {
	Name     string `json:"name"`
	Columns  int    `json:"columns"`
	Rows     int    `json:"rows"`
	Source   string `json:"source"`
	Tag      string `json:"integrity_tag"`
	Reloaded bool   `json:"reloaded"`
}

// LoadReport summarizes a dataset load. Failures are isolated per table: one
// bad source never aborts the others, and Success is false only when zero
// tables loaded.
type LoadReport struct {
	Loaded  []TableInfo       `json:"loaded"`
	Errors  map[string]string `json:"errors,omitempty"`
	Success bool              `json:"success"`
}

// LoadTables stages and materializes each dataset source as a table. Sources
// whose integrity tag matches an already-loaded table are skipped, so
// repeated Acquire+LoadTables cycles for the same problem do no duplicate
// work.
func (s *Sandbox) LoadTables(ctx context.Context, resolver problem.SourceResolver, sources []problem.DatasetSource) (*LoadReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &Error{Key: s.key, Op: "load", Err: ErrSandboxClosed}
	}
	if len(sources) > s.opts.MaxTables {
		return nil, &Error{Key: s.key, Op: "load",
			Err: fmt.Errorf("%w: %d sources exceeds the %d table ceiling", ErrDatasetLoad, len(sources), s.opts.MaxTables)}
	}

	report := &LoadReport{Errors: make(map[string]string)}

	for _, src := range sources {
		info, err := s.loadOneLocked(ctx, resolver, src)
		if err != nil {
			log.Warn().Err(err).
				Str("sandbox", s.key.String()).
				Str("table", src.TableName).
				Msg("dataset load failed for table")
			report.Errors[src.TableName] = err.Error()
			continue
		}
		report.Loaded = append(report.Loaded, *info)
	}

	report.Success = len(report.Loaded) > 0 || len(sources) == 0
	if !report.Success {
		return report, &Error{Key: s.key, Op: "load",
			Err: fmt.Errorf("%w: all %d dataset sources failed", ErrDatasetLoad, len(sources))}
	}
	return report, nil
}

func (s *Sandbox) loadOneLocked(ctx context.Context, resolver problem.SourceResolver, src problem.DatasetSource) (*TableInfo, error) {
	if err := validateIdentifier(src.TableName); err != nil {
		return nil, err
	}

	path, tag, err := resolver.Resolve(ctx, src.Bucket, src.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatasetLoad, err)
	}

	if loadedTag, ok := s.tables[src.TableName]; ok && loadedTag == tag {
		return &TableInfo{
			Name:   src.TableName,
			Source: src.Bucket + "/" + src.Key,
			Tag:    tag,
		}, nil
	}

	info, err := s.materializeCSVLocked(ctx, src.TableName, path)
	if err != nil {
		return nil, err
	}

	s.tables[src.TableName] = tag
	info.Source = src.Bucket + "/" + src.Key
	info.Tag = tag
	info.Reloaded = true
	return info, nil
}

// materializeCSVLocked reads a staged CSV file and creates the table inside
// one transaction: either the table and all its rows commit, or nothing
// does.
func (s *Sandbox) materializeCSVLocked(ctx context.Context, table, path string) (*TableInfo, error) {
	f, err := os.Open(path) // #nosec G304 -- path was staged by the resolver
	if err != nil {
		return nil, fmt.Errorf("%w: opening staged file: %v", ErrDatasetLoad, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.ReuseRecord = false
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrDatasetLoad, err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: dataset has no columns", ErrDatasetLoad)
	}
	for _, col := range header {
		if err := validateIdentifier(col); err != nil {
			return nil, err
		}
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading rows: %v", ErrDatasetLoad, err)
		}
		records = append(records, record)
	}

	types := inferColumnTypes(header, records)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	ddl := buildCreateTable(table, header, types)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("%w: creating table: %v", ErrEngine, err)
	}

	if len(records) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(header)), ",")
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, table, placeholders))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngine, err)
		}
		defer stmt.Close()

		for _, record := range records {
			args := make([]any, len(header))
			for i := range header {
				if i < len(record) {
					args[i] = convertCSVValue(record[i], types[i])
				}
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return nil, fmt.Errorf("%w: inserting row: %v", ErrEngine, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, err)
	}

	return &TableInfo{Name: table, Columns: len(header), Rows: len(records)}, nil
}

// Column declares one column of a hand-authored dataset.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateTableFromSchema materializes a hand-authored (non-file) dataset.
// Identifiers and types pass through the same validation as file loads;
// both originate from admin input and neither is safe to interpolate
// unchecked.
func (s *Sandbox) CreateTableFromSchema(ctx context.Context, table string, columns []Column, sampleRows [][]any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	if len(columns) == 0 {
		return &Error{Key: s.key, Op: "create_table",
			Err: fmt.Errorf("%w: no columns declared", ErrInvalidTable)}
	}

	names := make([]string, len(columns))
	types := make([]string, len(columns))
	for i, col := range columns {
		if err := validateIdentifier(col.Name); err != nil {
			return err
		}
		storage, err := resolveColumnType(col.Type)
		if err != nil {
			return err
		}
		names[i] = col.Name
		types[i] = storage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Key: s.key, Op: "create_table", Err: ErrSandboxClosed}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Key: s.key, Op: "create_table", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, buildCreateTable(table, names, types)); err != nil {
		return &Error{Key: s.key, Op: "create_table", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	if len(sampleRows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, table, placeholders))
		if err != nil {
			return &Error{Key: s.key, Op: "create_table", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
		}
		defer stmt.Close()

		for _, row := range sampleRows {
			if len(row) != len(names) {
				return &Error{Key: s.key, Op: "create_table",
					Err: fmt.Errorf("%w: row has %d values, table has %d columns", ErrInvalidTable, len(row), len(names))}
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return &Error{Key: s.key, Op: "create_table", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Key: s.key, Op: "create_table", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	s.tables[table] = "schema"
	return nil
}

func buildCreateTable(table string, names, types []string) string {
	cols := make([]string, len(names))
	for i := range names {
		cols[i] = fmt.Sprintf(`"%s" %s`, names[i], types[i])
	}
	return fmt.Sprintf(`CREATE TABLE "%s" (%s)`, table, strings.Join(cols, ", "))
}

// inferColumnTypes scans up to 100 records per column: a column is INTEGER
// when every non-empty value parses as an integer, REAL when every value is
// numeric, TEXT otherwise.
func inferColumnTypes(header []string, records [][]string) []string {
	types := make([]string, len(header))
	for col := range header {
		allInt, allNum, sawValue := true, true, false
		for i, record := range records {
			if i >= 100 {
				break
			}
			if col >= len(record) || record[col] == "" {
				continue
			}
			sawValue = true
			v := record[col]
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allNum = false
			}
		}
		switch {
		case !sawValue:
			types[col] = "TEXT"
		case allInt:
			types[col] = "INTEGER"
		case allNum:
			types[col] = "REAL"
		default:
			types[col] = "TEXT"
		}
	}
	return types
}

// convertCSVValue turns a CSV cell into a typed insert argument. Empty cells
// become NULL.
func convertCSVValue(v, colType string) any {
	if v == "" {
		return nil
	}
	switch colType {
	case "INTEGER":
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

