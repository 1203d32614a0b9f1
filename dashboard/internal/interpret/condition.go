package interpret

import (
	"math"
	"strconv"
	"strings"
)

// scope is the set of change summaries a rule selected, reduced to the
// aggregates a condition may reference.
type scope struct {
	avg, min, max float64
	count         int
}

// evalCondition evaluates a rule condition string against a scope.
//
// Supported expressions (field operator value):
//
//	avg_change_pct < -10
//	max_change_pct > 25
//	min_change_pct <= -30
//	count >= 2
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, sc scope) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, sc)
	if !ok || math.IsNaN(v) {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the scope.
func numericField(field string, sc scope) (float64, bool) {
	switch field {
	case "avg_change_pct":
		return sc.avg, true
	case "min_change_pct":
		return sc.min, true
	case "max_change_pct":
		return sc.max, true
	case "count":
		return float64(sc.count), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
