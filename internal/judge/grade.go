package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"sqljudge/internal/grader"
	"sqljudge/internal/monitor"
	"sqljudge/internal/problem"
	"sqljudge/internal/sandbox"
)

// grade runs the full pipeline for one submission: exhaustive validation,
// sandbox acquisition, dataset load, execution, per-case comparison, and
// the advisory data-variant check.
func (j *Judge) grade(ctx context.Context, userID, problemID, sqlText string) (*Outcome, error) {
	if j.tracer != nil {
		var span trace.Span
		ctx, span = j.tracer.StartSpan(ctx, "grade",
			monitor.AttrUserID.String(userID),
			monitor.AttrProblemID.String(problemID),
			monitor.AttrQueryHash.String(queryHash(sqlText)),
		)
		defer span.End()
	}
	start := time.Now()

	if verdict := j.validator.Validate(sqlText); !verdict.Valid {
		j.recordRejection(userID, problemID, sqlText, verdict)
		return nil, fmt.Errorf("%w: %v", sandbox.ErrSecurityRejected, verdict.Errors)
	}

	prob, err := j.problems.Get(ctx, problemID)
	if err != nil {
		return nil, fmt.Errorf("looking up problem %s: %w", problemID, err)
	}

	sb, err := j.sandboxes.Acquire(ctx, userID, problemID)
	if err != nil {
		return nil, err
	}
	if j.metrics != nil {
		j.metrics.ActiveSandboxes.Set(float64(j.sandboxes.Len()))
	}

	loadStart := time.Now()
	report, err := sb.LoadTables(ctx, j.resolver, prob.Sources)
	if j.metrics != nil {
		j.metrics.DatasetLoadDuration.Observe(time.Since(loadStart).Seconds())
	}
	if err != nil {
		return nil, err
	}
	for table, msg := range report.Errors {
		log.Warn().Str("problem_id", problemID).Str("table", table).Str("error", msg).
			Msg("dataset table unavailable for grading")
	}

	res, err := sb.Execute(ctx, sqlText)
	if err != nil {
		j.observeExecution(err, 0)
		return nil, err
	}
	j.observeExecution(nil, res.Duration)

	actual := grader.ResultSet{Columns: res.Columns, Rows: res.Rows}

	out := &Outcome{
		Confidence: ConfidenceNormal,
		RowCount:   len(res.Rows),
		Truncated:  res.Truncated,
	}
	if res.Truncated {
		out.Feedback = append(out.Feedback,
			"result was truncated at the row limit; aggregate or filter to return fewer rows")
	}

	allCorrect := len(prob.TestCases) > 0
	totalScore := 0
	for _, tc := range prob.TestCases {
		caseOut := j.grader.Compare(actual, tc.Expected, tc.Rules)
		out.Cases = append(out.Cases, CaseResult{
			Name:     tc.Name,
			Hidden:   tc.Hidden,
			Correct:  caseOut.Correct,
			Score:    caseOut.Score,
			Feedback: caseOut.Feedback,
			Diffs:    caseOut.Diffs,
		})
		totalScore += caseOut.Score
		if !caseOut.Correct {
			allCorrect = false
		}
	}
	if len(prob.TestCases) > 0 {
		out.Score = totalScore / len(prob.TestCases)
	}
	out.Correct = allCorrect

	if out.Correct && j.perturbEnabled && prob.CheckVariant {
		j.variantCheck(ctx, sb, prob.Sources, sqlText, actual, prob.VariantSeed, out)
	}

	out.DurationMS = time.Since(start).Milliseconds()
	return out, nil
}

// variantCheck perturbs a small fraction of the first dataset table, reruns
// the query, and flags low confidence when the result did not move. The
// check is advisory: any infrastructure failure here is logged and the
// verdict stands.
func (j *Judge) variantCheck(ctx context.Context, sb *sandbox.Sandbox, sources []problem.DatasetSource, sqlText string, baseline grader.ResultSet, seed int64, out *Outcome) {
	if len(sources) == 0 {
		return
	}
	table := sources[0].TableName

	cols, rows, err := sb.TableRows(ctx, table)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("variant check skipped: reading table")
		return
	}
	if len(rows) == 0 {
		return
	}

	variant := grader.Perturb(grader.ResultSet{Columns: cols, Rows: rows}, j.perturbFraction, seed)
	if err := sb.ReplaceTableRows(ctx, table, variant.Rows); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("variant check skipped: replacing rows")
		return
	}

	res, err := sb.Execute(ctx, sqlText)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("variant check skipped: rerun failed")
		return
	}

	rerun := grader.ResultSet{Columns: res.Columns, Rows: res.Rows}
	if grader.HashRows(baseline, true) == grader.HashRows(rerun, true) {
		out.Confidence = ConfidenceLow
		out.Feedback = append(out.Feedback,
			"answer did not change when the underlying data changed; it may not be derived from the dataset")
	}
}

// observeExecution feeds execution metrics, classifying failures by the
// error taxonomy.
func (j *Judge) observeExecution(err error, d time.Duration) {
	if j.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case sandbox.IsTimeout(err):
		status = "timeout"
		j.metrics.RecordError("timeout")
	case errors.Is(err, sandbox.ErrCanceled):
		status = "canceled"
	case sandbox.IsSecurityRejected(err):
		status = "rejected"
	default:
		status = "error"
		j.metrics.RecordError("engine")
	}
	j.metrics.RecordExecution(status, d.Seconds())
}
