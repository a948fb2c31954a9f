package validator

import (
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	v := New(10000)

	tests := []struct {
		name string
		sql  string
	}{
		{"simple select", "SELECT * FROM orders"},
		{"aggregate", "SELECT region, SUM(amount) FROM orders GROUP BY region"},
		{"cte", "WITH top AS (SELECT * FROM orders LIMIT 10) SELECT * FROM top"},
		{"nested subquery", "SELECT * FROM (SELECT id FROM orders WHERE amount > (SELECT AVG(amount) FROM orders))"},
		{"trailing semicolon", "SELECT 1;"},
		{"string containing keyword", "SELECT * FROM logs WHERE message = 'DROP TABLE users'"},
		{"comment containing keyword", "SELECT 1 -- DELETE everything\n"},
		{"quoted identifier", `SELECT "from" FROM t`},
		{"case expression", "SELECT CASE WHEN a > 1 THEN 'big' ELSE 'small' END FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			if !verdict.Valid {
				t.Errorf("Validate(%q) rejected: %v", tt.sql, verdict.Errors)
			}
		})
	}
}

func TestValidateRejectsDenyKeywords(t *testing.T) {
	v := New(10000)

	tests := []struct {
		name string
		sql  string
		op   string
	}{
		{"top-level drop", "DROP TABLE orders", "DROP"},
		{"top-level insert", "INSERT INTO orders VALUES (1)", "INSERT"},
		{"update", "UPDATE orders SET amount = 0", "UPDATE"},
		{"delete", "DELETE FROM orders", "DELETE"},
		{"pragma", "PRAGMA table_info(orders)", "PRAGMA"},
		{"attach", "ATTACH DATABASE '/etc/passwd' AS pwned", "ATTACH"},
		{"nested one level", "SELECT * FROM (SELECT * FROM t WHERE EXISTS (DELETE FROM orders))", "DELETE"},
		{"nested three levels", "SELECT (SELECT (SELECT (INSERT INTO t VALUES (1))))", "INSERT"},
		{"cte hiding ddl", "WITH x AS (DROP TABLE orders) SELECT * FROM x", "DROP"},
		{"grant", "GRANT ALL ON orders TO intruder", "GRANT"},
		{"install extension", "INSTALL httpfs", "INSTALL"},
		{"copy out", "COPY orders TO '/tmp/out.csv'", "COPY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.sql)
			if verdict.Valid {
				t.Fatalf("Validate(%q) accepted, want rejection", tt.sql)
			}
			if verdict.Risk != RiskCritical && verdict.Risk != RiskHigh {
				t.Errorf("Risk = %s, want high or critical", verdict.Risk)
			}
			found := false
			for _, op := range verdict.Operations {
				if op == tt.op {
					found = true
				}
			}
			if !found {
				t.Errorf("Operations = %v, want to contain %s", verdict.Operations, tt.op)
			}
		})
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	v := New(10000)

	verdict := v.Validate("SELECT * FROM orders; DROP TABLE orders;")
	if verdict.Valid {
		t.Fatal("multi-statement query accepted, want rejection")
	}

	foundMulti := false
	for _, e := range verdict.Errors {
		if strings.Contains(e, "multiple statements") {
			foundMulti = true
		}
	}
	if !foundMulti {
		t.Errorf("Errors = %v, want a multiple statements error", verdict.Errors)
	}

	// Two benign statements are still two statements.
	verdict = v.Validate("SELECT 1; SELECT 2")
	if verdict.Valid {
		t.Error("two SELECT statements accepted, want rejection")
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	v := New(10000)

	tests := []string{
		"EXPLAIN SELECT * FROM orders",
		"SHOW TABLES",
		"DESCRIBE orders",
	}

	for _, sql := range tests {
		if verdict := v.Validate(sql); verdict.Valid {
			t.Errorf("Validate(%q) accepted, want rejection (not SELECT/WITH)", sql)
		}
	}
}

func TestValidateDenyPatterns(t *testing.T) {
	v := New(10000)

	tests := []struct {
		name string
		sql  string
	}{
		{"load_file", "SELECT LOAD_FILE('/etc/passwd')"},
		{"into outfile", "SELECT * FROM orders INTO OUTFILE '/tmp/x'"},
		{"xp_cmdshell", "SELECT xp_cmdshell('rm -rf /')"},
		{"http url", "SELECT * FROM 'http://evil.example.com/data.csv'"},
		{"s3 url", "SELECT * FROM 's3://bucket/key.parquet'"},
		{"read_csv", "SELECT * FROM read_csv('secrets.csv')"},
		{"read_parquet", "SELECT * FROM read_parquet('data.parquet')"},
		{"parquet_scan", "SELECT * FROM parquet_scan('data.parquet')"},
		{"quoted path from", "SELECT * FROM '/var/data/users.csv'"},
		{"unquoted path join", "SELECT * FROM t JOIN /etc/secrets.csv ON 1=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verdict := v.Validate(tt.sql); verdict.Valid {
				t.Errorf("Validate(%q) accepted, want pattern rejection", tt.sql)
			}
		})
	}
}

func TestValidateEmptyAndLength(t *testing.T) {
	v := New(100)

	if verdict := v.Validate(""); verdict.Valid {
		t.Error("empty query accepted")
	}
	if verdict := v.Validate("   \n\t  "); verdict.Valid {
		t.Error("whitespace-only query accepted")
	}
	long := "SELECT " + strings.Repeat("1,", 100) + "1"
	if verdict := v.Validate(long); verdict.Valid {
		t.Error("over-length query accepted")
	}
}

func TestValidateStripsControlCharacters(t *testing.T) {
	v := New(10000)

	verdict := v.Validate("SELECT\x00 1\x07")
	if !verdict.Valid {
		t.Errorf("query with control chars rejected: %v", verdict.Errors)
	}
}

func TestValidateComplexityWarnings(t *testing.T) {
	v := New(10000)

	sql := "SELECT * FROM a " +
		"JOIN b ON 1=1 JOIN c ON 1=1 JOIN d ON 1=1 " +
		"JOIN e ON 1=1 JOIN f ON 1=1 JOIN g ON 1=1"
	verdict := v.Validate(sql)
	if !verdict.Valid {
		t.Fatalf("complex but legal query rejected: %v", verdict.Errors)
	}
	if len(verdict.Warnings) == 0 {
		t.Error("want join-count warning, got none")
	}
}

func TestQuickCheckSkipsPatterns(t *testing.T) {
	v := New(10000)

	// Pattern-only violation: keyword walk alone cannot catch it.
	sql := "SELECT LOAD_FILE('/etc/passwd')"
	if verdict := v.QuickCheck(sql); !verdict.Valid {
		t.Errorf("QuickCheck rejected pattern-only violation: %v (exhaustive pass owns this)", verdict.Errors)
	}
	if verdict := v.Validate(sql); verdict.Valid {
		t.Error("Validate accepted pattern-only violation")
	}

	// Keyword violations fail both paths.
	if verdict := v.QuickCheck("DROP TABLE orders"); verdict.Valid {
		t.Error("QuickCheck accepted DROP")
	}
}

func TestValidateUnterminatedString(t *testing.T) {
	v := New(10000)

	if verdict := v.Validate("SELECT 'unclosed"); verdict.Valid {
		t.Error("unterminated string accepted")
	}
}

func TestNormalize(t *testing.T) {
	a := Normalize("SELECT   *\nFROM  orders")
	b := Normalize("select * from orders")
	if a != b {
		t.Errorf("Normalize mismatch: %q vs %q", a, b)
	}
}
