package grader

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// normalizeValue reduces driver- and author-specific value representations to
// a small comparable set: nil, int64, float64, string. Byte slices become
// strings, all integer widths become int64, and numeric strings are coerced
// so an admin-authored "800.25" matches the engine's 800.25.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		// JSON decoding turns every number into float64; fold exact
		// integers back so 800 and 800.0 compare equal by type too.
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case []byte:
		return coerceString(string(x))
	case string:
		return coerceString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func coerceString(s string) any {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	}
	return s
}

// valueEqual compares two normalized values. An integer and the
// mathematically-equal float are equal; NULL equals NULL; a non-zero epsilon
// permits relative numeric drift (absolute when the expected value is zero).
// String comparison is the fallback only when types genuinely differ.
func valueEqual(expected, actual any, epsilon float64) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	ef, eIsNum := asFloat(expected)
	af, aIsNum := asFloat(actual)
	if eIsNum && aIsNum {
		if ef == af {
			return true
		}
		if epsilon > 0 {
			if ef == 0 {
				return math.Abs(af) <= epsilon
			}
			return math.Abs(af-ef)/math.Abs(ef) <= epsilon
		}
		return false
	}

	es, eIsStr := expected.(string)
	as, aIsStr := actual.(string)
	if eIsStr && aIsStr {
		return es == as
	}

	// Genuinely different types: last-resort string comparison.
	return fmt.Sprint(expected) == fmt.Sprint(actual)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// canonicalValue renders a normalized value into a stable string used for
// multiset keys and digests. Floats are formatted with enough precision to
// round-trip.
func canonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', 15, 64)
	case string:
		return "s:" + x
	default:
		return fmt.Sprint(x)
	}
}

// canonicalRow joins a row's canonical values in the given column order.
func canonicalRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = canonicalValue(normalizeValue(v))
	}
	return strings.Join(parts, "\x1f")
}
