// Package grader compares sandbox query output against expected results. The
// comparison is a fixed pipeline of ordered checks, cheapest first, that
// short-circuits on the first failure so feedback always names the earliest
// structural problem.
package grader

import (
	"fmt"
	"sort"
	"strings"
)

// ResultSet is an ordered relation: column names plus typed rows.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Rules configures how a comparison is performed. Zero value means unordered
// exact comparison.
type Rules struct {
	StrictOrdering   bool    `json:"strict_ordering"`
	NumericTolerance float64 `json:"numeric_tolerance"`
	// ExpectedDigest selects the hash comparison path. When set, the
	// six-step row pipeline is skipped entirely.
	ExpectedDigest string `json:"expected_digest,omitempty"`
}

// RowDiff describes one differing row, column by column.
type RowDiff struct {
	Row      int    `json:"row"`
	Column   string `json:"column"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// Outcome is the result of one comparison. Derived, never stored as the
// source of truth.
type Outcome struct {
	Correct  bool      `json:"correct"`
	Score    int       `json:"score"`
	Feedback []string  `json:"feedback,omitempty"`
	Diffs    []RowDiff `json:"diffs,omitempty"`
}

// Grader holds comparison configuration shared across submissions.
type Grader struct {
	epsilon     float64
	maxDiffRows int
}

// New returns a Grader. epsilon is the default relative tolerance applied
// when a problem's rules do not set their own; maxDiffRows bounds per-row
// feedback.
func New(epsilon float64, maxDiffRows int) *Grader {
	if maxDiffRows < 1 {
		maxDiffRows = 5
	}
	return &Grader{epsilon: epsilon, maxDiffRows: maxDiffRows}
}

// Compare runs the ordered check pipeline: column set, row count, row
// content (multiset unless strict ordering), with type normalization and
// optional numeric tolerance applied during value comparison.
func (g *Grader) Compare(actual, expected ResultSet, rules Rules) Outcome {
	if rules.ExpectedDigest != "" {
		return g.CompareDigest(actual, rules)
	}

	// Step 1: column set, case-insensitive and order-independent.
	mapping, missing, extra := alignColumns(expected.Columns, actual.Columns)
	if len(missing) > 0 || len(extra) > 0 {
		out := Outcome{Score: 0}
		if len(missing) > 0 {
			out.Feedback = append(out.Feedback,
				fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")))
		}
		if len(extra) > 0 {
			out.Feedback = append(out.Feedback,
				fmt.Sprintf("unexpected columns: %s", strings.Join(extra, ", ")))
		}
		return out
	}

	// Step 2: row count.
	if len(actual.Rows) != len(expected.Rows) {
		return Outcome{
			Score: 0,
			Feedback: []string{fmt.Sprintf("expected %d rows, got %d",
				len(expected.Rows), len(actual.Rows))},
		}
	}
	if len(expected.Rows) == 0 {
		return Outcome{Correct: true, Score: 100}
	}

	// Project actual rows into the expected column order so positional
	// comparison lines up regardless of SELECT column order.
	projected := make([][]any, len(actual.Rows))
	for i, row := range actual.Rows {
		p := make([]any, len(mapping))
		for j, idx := range mapping {
			if idx < len(row) {
				p[j] = row[idx]
			}
		}
		projected[i] = p
	}

	epsilon := rules.NumericTolerance
	if epsilon == 0 {
		epsilon = g.epsilon
	}

	expRows := expected.Rows
	actRows := projected
	if !rules.StrictOrdering {
		// Steps 3-5 on an order-independent multiset: sort both sides by
		// canonical key, then compare positionally with tolerance.
		//
		// Known limitation: the sort key uses exact canonical values, so
		// two rows that are equal only within the numeric tolerance can
		// sort into different positions and align against the wrong
		// partners, reporting a mismatch. In practice expected answers
		// carry a distinguishing non-numeric column or values far enough
		// apart that tolerance never decides the sort order.
		expRows = sortedByKey(expRows)
		actRows = sortedByKey(actRows)
	}

	return g.compareAligned(expected.Columns, expRows, actRows, epsilon)
}

func (g *Grader) compareAligned(columns []string, expected, actual [][]any, epsilon float64) Outcome {
	var diffs []RowDiff
	var mismatched int

	for i := range expected {
		rowDiffers := false
		for j := range expected[i] {
			ev := normalizeValue(expected[i][j])
			var av any
			if j < len(actual[i]) {
				av = normalizeValue(actual[i][j])
			}
			if !valueEqual(ev, av, epsilon) {
				rowDiffers = true
				if len(diffs) < g.maxDiffRows {
					diffs = append(diffs, RowDiff{
						Row:      i,
						Column:   columns[j],
						Expected: ev,
						Actual:   av,
					})
				}
			}
		}
		if rowDiffers {
			mismatched++
		}
	}

	if mismatched == 0 {
		return Outcome{Correct: true, Score: 100}
	}

	matched := len(expected) - mismatched
	score := matched * 100 / len(expected)
	if score > 99 {
		score = 99
	}

	out := Outcome{Score: score, Diffs: diffs}
	out.Feedback = append(out.Feedback,
		fmt.Sprintf("%d of %d rows differ from the expected result", mismatched, len(expected)))
	if mismatched > g.maxDiffRows {
		out.Feedback = append(out.Feedback,
			fmt.Sprintf("showing the first %d differences; %d more rows differ",
				g.maxDiffRows, mismatched-g.maxDiffRows))
	}
	return out
}

// alignColumns maps expected column positions onto actual column positions,
// case-insensitively. Returns the mapping plus any missing/extra names.
func alignColumns(expected, actual []string) (mapping []int, missing, extra []string) {
	actualIdx := make(map[string]int, len(actual))
	for i, c := range actual {
		actualIdx[strings.ToLower(c)] = i
	}

	mapping = make([]int, 0, len(expected))
	seen := make(map[string]struct{}, len(expected))
	for _, c := range expected {
		key := strings.ToLower(c)
		seen[key] = struct{}{}
		idx, ok := actualIdx[key]
		if !ok {
			missing = append(missing, c)
			continue
		}
		mapping = append(mapping, idx)
	}

	for _, c := range actual {
		if _, ok := seen[strings.ToLower(c)]; !ok {
			extra = append(extra, c)
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		return nil, missing, extra
	}
	return mapping, nil, nil
}

func sortedByKey(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		return canonicalRow(out[i]) < canonicalRow(out[j])
	})
	return out
}
