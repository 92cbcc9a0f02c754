package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// maxDepth bounds recursion. Anything nested deeper is treated as non-matching.
const maxDepth = 64

// EvaluateCondition reports whether a single leaf matches the profile.
// Missing profile values, unknown operators and unparsable numeric operands
// never match.
func EvaluateCondition(c Condition, p Profile) bool {
	actual, ok := p[c.Field]
	if !ok || isEmpty(actual) {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return toString(actual) == toString(c.Value)
	case OpNotEquals:
		return toString(actual) != toString(c.Value)
	case OpIncludes:
		return includes(actual, c.Value)
	case OpGreaterThan:
		a, b, ok := numericPair(actual, c.Value)
		return ok && a > b
	case OpLessThan:
		a, b, ok := numericPair(actual, c.Value)
		return ok && a < b
	case OpBetween:
		return between(actual, c.Value)
	default:
		return false
	}
}

// EvaluateGroup folds a group recursively. Every visited leaf adds its weight
// to TotalWeight and, when it matched, to MatchedWeight, whatever the AND/OR
// verdict of the enclosing group.
func EvaluateGroup(g Group, p Profile) GroupResult {
	return evaluateGroup(g, p, 0)
}

func evaluateGroup(g Group, p Profile, depth int) GroupResult {
	var res GroupResult
	if depth > maxDepth {
		return res
	}

	matched := 0
	for _, child := range g.Children {
		var ok bool
		switch {
		case child.Rule != nil && child.Group == nil:
			w := child.Rule.weight()
			ok = EvaluateCondition(*child.Rule, p)
			res.TotalWeight += w
			if ok {
				res.MatchedWeight += w
			}
		case child.Group != nil && child.Rule == nil:
			sub := evaluateGroup(*child.Group, p, depth+1)
			ok = sub.Matched
			res.TotalWeight += sub.TotalWeight
			res.MatchedWeight += sub.MatchedWeight
		}
		if ok {
			matched++
		}
	}

	if strings.EqualFold(string(g.Logic), string(LogicOr)) {
		res.Matched = matched > 0
	} else {
		res.Matched = matched == len(g.Children)
	}
	return res
}

func includes(actual, want any) bool {
	if list, ok := asList(actual); ok {
		wanted, isList := asList(want)
		if !isList {
			wanted = []any{want}
		}
		for _, a := range list {
			for _, w := range wanted {
				if toString(a) == toString(w) {
					return true
				}
			}
		}
		return false
	}

	if wanted, ok := asList(want); ok {
		s := toString(actual)
		for _, w := range wanted {
			if toString(w) == s {
				return true
			}
		}
		return false
	}

	return strings.Contains(toString(actual), toString(want))
}

func between(actual, bounds any) bool {
	list, ok := asList(bounds)
	if !ok || len(list) != 2 {
		return false
	}
	v, err := toFloat(actual)
	if err != nil {
		return false
	}
	lo, err := toFloat(list[0])
	if err != nil {
		return false
	}
	hi, err := toFloat(list[1])
	if err != nil || lo > hi {
		return false
	}
	return v >= lo && v <= hi
}

func numericPair(a, b any) (float64, float64, bool) {
	x, err := toFloat(a)
	if err != nil {
		return 0, 0, false
	}
	y, err := toFloat(b)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	if list, ok := asList(v); ok {
		return len(list) == 0
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i, f := range t {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
