package rules

import "math"

// Score returns the applicability of target to the profile for category.
// A category mismatch scores 0. A target without rule groups scores 1.
// Otherwise the score is the matched weight over the total weight summed
// across every top-level group.
func Score(t Target, category string, p Profile) float64 {
	if !inCategory(t.Categories, category) {
		return 0
	}
	if len(t.Groups) == 0 {
		return 1
	}

	var matched, total float64
	for _, g := range t.Groups {
		res := EvaluateGroup(g, p)
		matched += res.MatchedWeight
		total += res.TotalWeight
	}
	if total == 0 {
		return 1
	}
	return clamp(matched / total)
}

// Matcher gates scores with a minimum threshold.
type Matcher struct {
	MinScore float64
}

// Matches reports whether target scores above zero and at least MinScore.
func (m Matcher) Matches(t Target, category string, p Profile) (float64, bool) {
	s := Score(t, category, p)
	return s, s > 0 && s >= m.MinScore
}

func inCategory(categories []string, category string) bool {
	if category == "" || len(categories) == 0 {
		return true
	}
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// MatchesAny evaluates simple OR-style tag conditions: it reports whether any
// key in conditions has a profile value equal to, or a list containing, one of
// the listed values.
func MatchesAny(conditions map[string][]string, p Profile) bool {
	for key, values := range conditions {
		actual, ok := p[key]
		if !ok || isEmpty(actual) {
			continue
		}
		for _, v := range values {
			if includes(actual, []any{v}) {
				return true
			}
		}
	}
	return false
}
