package agents

import "encoding/json"

// coerceInt64 converts the numeric shapes a JSON context can carry
// (float64 from encoding/json, json.Number, native ints from in-process
// callers) into an int64.
func coerceInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// coerceInt64Slice converts a []any of numeric values into []int64.
func coerceInt64Slice(v any) ([]int64, bool) {
	switch s := v.(type) {
	case []int64:
		return s, true
	case []any:
		out := make([]int64, 0, len(s))
		for _, e := range s {
			n, ok := coerceInt64(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}
