package evaluator

import (
	"fmt"
	"strings"
)

// Compare applies a threshold operator to the actual and expected values
func Compare(op string, actual, expected any) (bool, error) {
	switch op {
	case "==":
		return AreEqual(actual, expected), nil
	case "!=":
		return !AreEqual(actual, expected), nil
	case "<", "<=", ">", ">=":
		cmp, err := compareOrdered(actual, expected)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// compareOrdered compares numbers numerically and strings lexically; other pairs are not ordered
func compareOrdered(a, b any) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("cannot order %v and %v", a, b)
	}
	if cmp, err := CompareNumbers(a, b); err == nil {
		return cmp, nil
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("cannot order %T and %T", a, b)
}
