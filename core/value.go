package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ToFloat converts any Go numeric value to float64. Strings are not coerced.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// FormatValue renders a scalar the way it should appear in store keys and members.
// Integral floats print without a fractional part so 1111.0 and 1111 produce the
// same key.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	case json.Number:
		return x.String()
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	}
	if f, ok := ToFloat(v); ok {
		return formatFloat(f)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Compare applies op to (left, right). Numbers compare numerically, strings
// lexicographically, booleans by equality only. Any other pairing returns
// ErrTypeMismatch.
func Compare(left interface{}, op Operator, right interface{}) (bool, error) {
	if lf, ok := ToFloat(left); ok {
		rf, ok := ToFloat(right)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrTypeMismatch, left, op, right)
		}
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return false, nil
		}
		return compareOrdered(lf, op, rf), nil
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrTypeMismatch, left, op, right)
		}
		return compareOrdered(l, op, r), nil
	case bool:
		r, ok := right.(bool)
		if !ok {
			return false, fmt.Errorf("%w: %T %s %T", ErrTypeMismatch, left, op, right)
		}
		switch op {
		case OpEqual:
			return l == r, nil
		case OpNotEqual:
			return l != r, nil
		}
	}
	return false, fmt.Errorf("%w: %T %s %T", ErrTypeMismatch, left, op, right)
}

func compareOrdered[T float64 | string](l T, op Operator, r T) bool {
	switch op {
	case OpEqual:
		return l == r
	case OpNotEqual:
		return l != r
	case OpGreater:
		return l > r
	case OpGreaterEqual:
		return l >= r
	case OpLess:
		return l < r
	case OpLessEqual:
		return l <= r
	}
	return false
}
