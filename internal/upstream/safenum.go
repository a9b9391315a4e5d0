package upstream

import (
	"math"
	"strconv"
)

// SafeNumber parses a numeric field that may arrive as a JSON number, a
// JSON string, or be entirely absent. It returns nil on NaN/Infinity or an
// unparseable value rather than coercing to zero (spec.md §9 "Numeric
// parsing"): callers decide per-contract whether a nil means zero.
func SafeNumber(v interface{}) *float64 {
	var f float64
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		f = val
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil
		}
		f = parsed
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// SafeNumberOrZero is SafeNumber with a zero fallback, for contracts that
// explicitly treat a missing/invalid value as zero (the active-position
// filter, weighted sums).
func SafeNumberOrZero(v interface{}) float64 {
	if n := SafeNumber(v); n != nil {
		return *n
	}
	return 0
}

// SafeString reads a string field from an opaque map, returning "" when
// absent or not a string.
func SafeString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// SafeBool reads a bool field from an opaque map.
func SafeBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// SafeMap reads a nested object field from an opaque map.
func SafeMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// SafeSlice reads an array field from an opaque map.
func SafeSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}
