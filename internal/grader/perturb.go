package grader

import (
	"fmt"
	"math/rand"
)

// Perturb returns a copy of the dataset with a small, deterministic fraction
// of rows modified in one column. Re-running a submission against the
// variant and getting byte-identical output is a strong signal the query
// never reads the data (a hardcoded answer like SELECT 42). The same seed
// always selects the same rows, so the check is reproducible.
func Perturb(rs ResultSet, fraction float64, seed int64) ResultSet {
	if fraction <= 0 || fraction >= 1 {
		fraction = 0.015
	}
	out := ResultSet{
		Columns: append([]string(nil), rs.Columns...),
		Rows:    make([][]any, len(rs.Rows)),
	}
	for i, row := range rs.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	if len(out.Rows) == 0 || len(out.Columns) == 0 {
		return out
	}

	col := pickTargetColumn(out.Rows)
	if col < 0 {
		return out
	}

	count := int(float64(len(out.Rows)) * fraction)
	if count < 1 {
		count = 1
	}

	rng := rand.New(rand.NewSource(seed)) // #nosec G404 -- reproducibility is the point, not secrecy
	picked := rng.Perm(len(out.Rows))[:count]
	for _, idx := range picked {
		out.Rows[idx][col] = flipValue(out.Rows[idx][col], idx)
	}
	return out
}

// pickTargetColumn prefers the first numeric column, falling back to the
// first text column. Returns -1 when every column is NULL-only.
func pickTargetColumn(rows [][]any) int {
	firstText := -1
	for col := 0; col < len(rows[0]); col++ {
		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			switch normalizeValue(row[col]).(type) {
			case int64, float64:
				return col
			case string:
				if firstText < 0 {
					firstText = col
				}
			}
		}
	}
	return firstText
}

func flipValue(v any, rowIdx int) any {
	switch x := normalizeValue(v).(type) {
	case int64:
		return x + int64(rowIdx%7) + 1
	case float64:
		return x * 1.37
	case string:
		return x + fmt.Sprintf("_v%d", rowIdx%9)
	default:
		return fmt.Sprintf("perturbed_%d", rowIdx)
	}
}
