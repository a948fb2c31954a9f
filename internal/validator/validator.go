// Package validator performs static analysis of submitted SQL text. It is
// the first of the two defense layers: anything other than a single
// read-only statement is rejected before it can reach a sandbox.
package validator

import (
	"fmt"
	"strings"
)

// RiskLevel classifies the severity of what was found in a query.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of static analysis. It is produced once per query
// and never mutated.
type Verdict struct {
	Valid      bool      `json:"valid"`
	Risk       RiskLevel `json:"-"`
	RiskLabel  string    `json:"risk_level"`
	Errors     []string  `json:"errors,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	Operations []string  `json:"detected_operations,omitempty"`
}

// denyKeywords covers DML, DDL, and administrative statements. The token
// walk is flat over the full lexed stream, so a keyword buried inside a
// nested subquery or CTE is caught identically to a top-level one.
var denyKeywords = map[string]struct{}{
	// DML
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "MERGE": {}, "REPLACE": {}, "UPSERT": {},
	// DDL
	"CREATE": {}, "ALTER": {}, "DROP": {}, "TRUNCATE": {}, "RENAME": {},
	// administrative
	"GRANT": {}, "REVOKE": {}, "SET": {}, "RESET": {}, "ATTACH": {}, "DETACH": {},
	"COPY": {}, "EXPORT": {}, "IMPORT": {}, "PRAGMA": {}, "INSTALL": {}, "LOAD": {},
	"CALL": {}, "EXEC": {}, "EXECUTE": {}, "VACUUM": {}, "REINDEX": {},
	"BEGIN": {}, "COMMIT": {}, "ROLLBACK": {}, "SAVEPOINT": {},
}

// Validator applies the full rule set to submitted SQL text. Validation is a
// pure function of the input; a Validator carries only configuration.
type Validator struct {
	maxLength int
	patterns  []denyPattern
}

// New returns a Validator with the given maximum query length.
func New(maxLength int) *Validator {
	if maxLength < 1 {
		maxLength = 10000
	}
	return &Validator{
		maxLength: maxLength,
		patterns:  denyPatterns(),
	}
}

// Validate runs the exhaustive rule set: length, control characters,
// statement count, recursion-complete keyword walk, leading keyword,
// deny-pattern regexes, and advisory complexity signals.
func (v *Validator) Validate(sql string) Verdict {
	verdict := v.check(sql, true)
	verdict.RiskLabel = verdict.Risk.String()
	return verdict
}

// QuickCheck runs only the cheap rules (length, statement count, keyword
// walk, leading keyword). It exists for fast rejection at submission time;
// the exhaustive pass still runs inside the sandbox engine before every
// execution.
func (v *Validator) QuickCheck(sql string) Verdict {
	verdict := v.check(sql, false)
	verdict.RiskLabel = verdict.Risk.String()
	return verdict
}

func (v *Validator) check(sql string, exhaustive bool) Verdict {
	verdict := Verdict{Valid: true, Risk: RiskSafe}

	fail := func(risk RiskLevel, format string, args ...any) {
		verdict.Valid = false
		if risk > verdict.Risk {
			verdict.Risk = risk
		}
		verdict.Errors = append(verdict.Errors, fmt.Sprintf(format, args...))
	}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		fail(RiskLow, "query is empty")
		return verdict
	}
	if len(sql) > v.maxLength {
		fail(RiskMedium, "query exceeds maximum length of %d characters", v.maxLength)
		return verdict
	}

	cleaned := stripControl(trimmed)

	tokens, err := lex(cleaned)
	if err != nil {
		fail(RiskHigh, "query could not be parsed: %v", err)
		return verdict
	}
	if len(tokens) == 0 {
		fail(RiskLow, "query contains no statements")
		return verdict
	}

	stmts := splitStatements(tokens)
	if len(stmts) > 1 {
		fail(RiskHigh, "multiple statements are not allowed (%d found)", len(stmts))
	}
	if len(stmts) == 0 {
		fail(RiskLow, "query contains no statements")
		return verdict
	}

	// Walk every word token in the complete stream, not just the first
	// statement: a smuggled second statement must be reported too.
	seen := map[string]struct{}{}
	for _, t := range tokens {
		if t.kind != tokenWord {
			continue
		}
		upper := strings.ToUpper(t.text)
		if _, denied := denyKeywords[upper]; denied {
			if _, dup := seen[upper]; !dup {
				seen[upper] = struct{}{}
				verdict.Operations = append(verdict.Operations, upper)
				fail(RiskCritical, "forbidden operation %s", upper)
			}
		}
	}

	first := firstWord(stmts[0])
	if first != "SELECT" && first != "WITH" {
		fail(RiskHigh, "only SELECT queries are allowed (statement starts with %s)", first)
	}

	if exhaustive {
		for _, p := range v.patterns {
			if p.regex.MatchString(cleaned) {
				verdict.Operations = append(verdict.Operations, p.name)
				fail(p.risk, "%s", p.desc)
			}
		}
	}

	if verdict.Valid {
		v.complexityWarnings(tokens, &verdict)
	}

	return verdict
}

func firstWord(stmt []token) string {
	for _, t := range stmt {
		if t.kind == tokenWord {
			return strings.ToUpper(t.text)
		}
	}
	return ""
}

// complexityWarnings computes advisory signals. They never fail validation.
func (v *Validator) complexityWarnings(tokens []token, verdict *Verdict) {
	var tables, joins, funcs int
	for i, t := range tokens {
		if t.kind != tokenWord {
			continue
		}
		switch strings.ToUpper(t.text) {
		case "FROM":
			tables++
		case "JOIN":
			joins++
		default:
			if i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "(" {
				funcs++
			}
		}
	}

	if joins > 5 {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("query uses %d joins; consider simplifying", joins))
		if verdict.Risk < RiskLow {
			verdict.Risk = RiskLow
		}
	}
	if tables > 8 {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("query references %d table expressions", tables))
	}
	if funcs > 20 {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("query calls %d functions", funcs))
	}
}

// Normalize collapses whitespace and lowercases SQL text. Used for
// cache keys, never for validation.
func Normalize(sql string) string {
	return strings.ToLower(strings.Join(strings.Fields(sql), " "))
}
