package judge

import "sqljudge/internal/grader"

// Confidence qualifies a correct outcome. Low confidence means the answer
// matched but the data-variant check suggests it was hardcoded.
type Confidence string

const (
	ConfidenceNormal Confidence = "normal"
	ConfidenceLow    Confidence = "low"
)

// CaseResult is the graded outcome of one test case.
type CaseResult struct {
	Name     string          `json:"name"`
	Hidden   bool            `json:"hidden"`
	Correct  bool            `json:"correct"`
	Score    int             `json:"score"`
	Feedback []string        `json:"feedback,omitempty"`
	Diffs    []grader.RowDiff `json:"diffs,omitempty"`
}

// Outcome is the full grading verdict for one submission. Correct requires
// every test case to pass; Score averages the per-case scores.
type Outcome struct {
	Correct    bool         `json:"correct"`
	Score      int          `json:"score"`
	Confidence Confidence   `json:"confidence"`
	Cases      []CaseResult `json:"cases"`
	Feedback   []string     `json:"feedback,omitempty"`
	RowCount   int          `json:"row_count"`
	Truncated  bool         `json:"truncated"`
	DurationMS int64        `json:"duration_ms"`
}

// redacted returns a copy with hidden test cases stripped down to their
// pass/fail bit. Practice-mode callers must not see hidden expected data
// leak through diffs or feedback.
func (o *Outcome) redacted() *Outcome {
	out := *o
	out.Cases = make([]CaseResult, len(o.Cases))
	for i, c := range o.Cases {
		if c.Hidden {
			out.Cases[i] = CaseResult{Name: c.Name, Hidden: true, Correct: c.Correct, Score: c.Score}
			continue
		}
		out.Cases[i] = c
	}
	return &out
}
