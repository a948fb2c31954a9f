package sandbox

import (
	"context"
	"fmt"
	"strings"
)

// TableRows returns the complete contents of a loaded table. It serves the
// grading side's data-variant check and bypasses the statement validator;
// never route user input through it.
func (s *Sandbox) TableRows(ctx context.Context, table string) ([]string, [][]any, error) {
	if err := validateIdentifier(table); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, &Error{Key: s.key, Op: "table_rows", Err: ErrSandboxClosed}
	}
	if _, ok := s.tables[table]; !ok {
		return nil, nil, &Error{Key: s.key, Op: "table_rows",
			Err: fmt.Errorf("%w: table %q is not loaded", ErrInvalidTable, table)}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s"`, table))
	if err != nil {
		return nil, nil, s.classifyLocked(ctx, "table_rows", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, s.classifyLocked(ctx, "table_rows", err)
	}

	var data [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, s.classifyLocked(ctx, "table_rows", err)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, s.classifyLocked(ctx, "table_rows", err)
	}
	return columns, data, nil
}

// ReplaceTableRows swaps a loaded table's rows inside one transaction. The
// table's integrity tag is dropped afterwards, so the next dataset load
// re-materializes the original contents instead of trusting the variant.
func (s *Sandbox) ReplaceTableRows(ctx context.Context, table string, rows [][]any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Key: s.key, Op: "replace_rows", Err: ErrSandboxClosed}
	}
	if _, ok := s.tables[table]; !ok {
		return &Error{Key: s.key, Op: "replace_rows",
			Err: fmt.Errorf("%w: table %q is not loaded", ErrInvalidTable, table)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Key: s.key, Op: "replace_rows", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s"`, table)); err != nil {
		return &Error{Key: s.key, Op: "replace_rows", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	if len(rows) > 0 {
		width := len(rows[0])
		placeholders := strings.TrimSuffix(strings.Repeat("?,", width), ",")
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf(`INSERT INTO "%s" VALUES (%s)`, table, placeholders))
		if err != nil {
			return &Error{Key: s.key, Op: "replace_rows", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
		}
		defer stmt.Close()

		for _, row := range rows {
			if len(row) != width {
				return &Error{Key: s.key, Op: "replace_rows",
					Err: fmt.Errorf("%w: ragged variant row", ErrInvalidTable)}
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return &Error{Key: s.key, Op: "replace_rows", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &Error{Key: s.key, Op: "replace_rows", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	s.tables[table] = "variant"
	return nil
}
