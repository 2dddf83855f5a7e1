package evaluator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CoerceToNumber converts JSON and Go numeric values (and numeric strings) to float64.
// Booleans are not numbers.
func CoerceToNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to number", v)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// AreEqual compares two values, numerically when both are numbers
func AreEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	if _, ok := b.(bool); ok {
		return false
	}

	numA, errA := CoerceToNumber(a)
	numB, errB := CoerceToNumber(b)
	if errA == nil && errB == nil {
		return numA == numB
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// CompareNumbers compares two values as numbers
func CompareNumbers(a, b any) (int, error) {
	numA, err := CoerceToNumber(a)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: left value - %w", err)
	}

	numB, err := CoerceToNumber(b)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: right value - %w", err)
	}

	switch {
	case numA < numB:
		return -1, nil
	case numA > numB:
		return 1, nil
	}
	return 0, nil
}
