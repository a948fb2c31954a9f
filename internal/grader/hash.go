package grader

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HashRows produces a stable digest of a result set. Columns are compared
// case-insensitively and rows as an unordered multiset unless ordered is
// set, so the digest an author computes at publish time matches the digest
// of any equivalent sandbox output. Large expected sets are stored as this
// digest alone, trading row-level diff feedback for O(1) comparison.
func HashRows(rs ResultSet, ordered bool) string {
	cols := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		cols[i] = strings.ToLower(c)
	}

	// Reorder each row by sorted column name so SELECT column order does
	// not change the digest.
	order := make([]int, len(cols))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return cols[order[i]] < cols[order[j]] })

	keys := make([]string, len(rs.Rows))
	for i, row := range rs.Rows {
		reordered := make([]any, 0, len(order))
		for _, idx := range order {
			if idx < len(row) {
				reordered = append(reordered, row[idx])
			} else {
				reordered = append(reordered, nil)
			}
		}
		keys[i] = canonicalRow(reordered)
	}
	if !ordered {
		sort.Strings(keys)
	}

	h := sha256.New()
	sortedCols := make([]string, len(cols))
	copy(sortedCols, cols)
	sort.Strings(sortedCols)
	h.Write([]byte(strings.Join(sortedCols, "\x1f")))
	h.Write([]byte{'\x1e'})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'\x1e'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CompareDigest hashes the actual rows and compares by digest equality.
func (g *Grader) CompareDigest(actual ResultSet, rules Rules) Outcome {
	digest := HashRows(actual, rules.StrictOrdering)
	if digest == rules.ExpectedDigest {
		return Outcome{Correct: true, Score: 100}
	}
	return Outcome{
		Score:    0,
		Feedback: []string{"result does not match the expected answer"},
	}
}
