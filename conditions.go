package authz

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Condition operators. The set is fixed: conditions are structured records,
// not a policy language.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpContains    = "contains"
	OpNotContains = "notContains"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpBetween     = "between"
	OpIn          = "in"
	OpNotIn       = "notIn"
)

// EvaluateCondition evaluates one condition against the attribute map.
// A missing attribute satisfies only the negated operators; an unknown
// operator or malformed condition value evaluates to false rather than
// aborting the surrounding policy evaluation.
func EvaluateCondition(cond Condition, attrs map[string]any) bool {
	val, ok := LookupAttribute(attrs, cond.Attribute)
	if !ok {
		switch cond.Operator {
		case OpNotEquals, OpNotContains, OpNotIn:
			return true
		}
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return valuesEqual(val, cond.Value)
	case OpNotEquals:
		return !valuesEqual(val, cond.Value)
	case OpContains:
		return valueContains(val, cond.Value)
	case OpNotContains:
		return !valueContains(val, cond.Value)
	case OpGreaterThan:
		c, ok := compareOrdered(val, cond.Value)
		return ok && c > 0
	case OpLessThan:
		c, ok := compareOrdered(val, cond.Value)
		return ok && c < 0
	case OpBetween:
		bounds, ok := asSlice(cond.Value)
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, okLo := compareOrdered(val, bounds[0])
		hi, okHi := compareOrdered(val, bounds[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case OpIn:
		return valueIn(val, cond.Value)
	case OpNotIn:
		return !valueIn(val, cond.Value)
	}
	return false
}

// EvaluateConditionSet applies the all/any semantics: every All condition
// must hold, and when Any is non-empty at least one of its conditions must
// hold. Empty lists are vacuously satisfied.
func EvaluateConditionSet(set ConditionSet, attrs map[string]any) bool {
	for _, c := range set.All {
		if !EvaluateCondition(c, attrs) {
			return false
		}
	}
	if len(set.Any) == 0 {
		return true
	}
	for _, c := range set.Any {
		if EvaluateCondition(c, attrs) {
			return true
		}
	}
	return false
}

// valuesEqual is exact equality with explicit numeric cross-type handling.
// Slices and maps fall back to deep equality.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Equal(bv)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// valueContains string-coerces both sides and does a substring test, except
// when the attribute is a slice, in which case it tests membership.
func valueContains(val, want any) bool {
	if items, ok := asSlice(val); ok {
		for _, it := range items {
			if valuesEqual(it, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(stringify(val), stringify(want))
}

func valueIn(val, set any) bool {
	items, ok := asSlice(set)
	if !ok {
		return false
	}
	for _, it := range items {
		if valuesEqual(val, it) {
			return true
		}
	}
	return false
}

// compareOrdered orders two values: numerics numerically, strings
// lexicographically, timestamps chronologically. ok is false when the pair
// is incomparable.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			// allow numeric strings on the condition side
			if bs, ok := b.(string); ok {
				if parsed, err := parseNumber(bs); err == nil {
					bf, bok = parsed, true
				}
			}
		}
		if bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func parseNumber(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// asSlice normalizes the slice shapes that arrive from yaml/json decoding.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, it := range s {
			out[i] = it
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, it := range s {
			out[i] = it
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, it := range s {
			out[i] = it
		}
		return out, true
	}
	return nil, false
}
