package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Table and column names arrive from instructor input and are interpolated
// into DDL, so they go through a strict identifier grammar rather than
// being trusted. Types are checked against a closed allow-list for the same
// reason.

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// reservedIdentifiers are words that would make generated DDL ambiguous.
var reservedIdentifiers = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "TABLE": {}, "INDEX": {},
	"CREATE": {}, "DROP": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {},
	"GROUP": {}, "ORDER": {}, "BY": {}, "JOIN": {}, "UNION": {},
	"PRIMARY": {}, "KEY": {}, "NULL": {}, "DEFAULT": {}, "VALUES": {},
}

// validateIdentifier checks a table or column name against the identifier
// grammar.
func validateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return fmt.Errorf("%w: identifier %q must match [A-Za-z_][A-Za-z0-9_]* and be at most 64 characters",
			ErrInvalidTable, name)
	}
	if _, reserved := reservedIdentifiers[strings.ToUpper(name)]; reserved {
		return fmt.Errorf("%w: identifier %q is a reserved word", ErrInvalidTable, name)
	}
	return nil
}

// columnTypes maps every allowed admin-facing column type to the storage
// type used in DDL. Anything absent from this map is rejected.
var columnTypes = map[string]string{
	"INTEGER":   "INTEGER",
	"INT":       "INTEGER",
	"BIGINT":    "INTEGER",
	"SMALLINT":  "INTEGER",
	"BOOLEAN":   "INTEGER",
	"BOOL":      "INTEGER",
	"REAL":      "REAL",
	"DOUBLE":    "REAL",
	"FLOAT":     "REAL",
	"DECIMAL":   "REAL",
	"NUMERIC":   "REAL",
	"TEXT":      "TEXT",
	"VARCHAR":   "TEXT",
	"CHAR":      "TEXT",
	"STRING":    "TEXT",
	"DATE":      "TEXT",
	"DATETIME":  "TEXT",
	"TIMESTAMP": "TEXT",
}

// resolveColumnType maps a declared type to its storage type, rejecting
// anything outside the allow-list. Parameterized forms like VARCHAR(50) and
// DECIMAL(10,2) are accepted and reduced to their base type.
func resolveColumnType(declared string) (string, error) {
	base := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(base, '('); i > 0 && strings.HasSuffix(base, ")") {
		base = strings.TrimSpace(base[:i])
	}
	storage, ok := columnTypes[base]
	if !ok {
		return "", fmt.Errorf("%w: column type %q is not allowed", ErrInvalidTable, declared)
	}
	return storage, nil
}
