package rules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	cityGroup := Group{Logic: LogicAnd, Children: []Node{
		Leaf(Condition{Field: "city", Operator: OpEquals, Value: "Toronto"}),
	}}
	budgetGroup := Group{Logic: LogicAnd, Children: []Node{
		Leaf(Condition{Field: "budget", Operator: OpGreaterThan, Value: 1000000, Weight: 3}),
	}}
	p := Profile{"city": "Toronto", "budget": "500000"}

	tests := []struct {
		name     string
		target   Target
		category string
		want     float64
	}{
		{"no groups is universal", Target{Categories: []string{"faq"}}, "faq", 1},
		{"no categories applies everywhere", Target{}, "objection", 1},
		{"category mismatch is zero", Target{Categories: []string{"faq"}}, "objection", 0},
		{"category mismatch beats full rule match", Target{Categories: []string{"faq"}, Groups: []Group{cityGroup}}, "pricing", 0},
		{"empty request category", Target{Categories: []string{"faq"}, Groups: []Group{cityGroup}}, "", 1},
		{"weights summed across groups", Target{Groups: []Group{cityGroup, budgetGroup}}, "", 0.25},
		{"empty groups are universal", Target{Groups: []Group{{Logic: LogicAnd}}}, "", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.target, tt.category, p), 1e-9)
		})
	}
}

func TestMatcher_Threshold(t *testing.T) {
	target := Target{Groups: []Group{twoOfThree(LogicOr)}}
	p := Profile{"city": "Toronto"}

	score, ok := Matcher{}.Matches(target, "", p)
	assert.True(t, ok)
	assert.InDelta(t, 1.0/3.0, score, 1e-9)

	_, ok = Matcher{MinScore: 0.5}.Matches(target, "", p)
	assert.False(t, ok)

	_, ok = Matcher{}.Matches(target, "", Profile{})
	assert.False(t, ok, "zero score never matches")
}

func TestScore_AlwaysWithinUnitInterval(t *testing.T) {
	g := Group{Logic: LogicOr, Children: []Node{
		Leaf(Condition{Field: "a", Operator: OpEquals, Value: "1", Weight: 1e9}),
		Leaf(Condition{Field: "b", Operator: OpEquals, Value: "2", Weight: -5}),
	}}
	s := Score(Target{Groups: []Group{g}}, "", Profile{"a": "1", "b": "2"})
	assert.GreaterOrEqual(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)

	tests := []struct {
		name   string
		logic  Logic
		weight float64
		want   float64
	}{
		{"inf weight on matching leaf", LogicAnd, math.Inf(1), 0.5},
		{"negative inf weight", LogicAnd, math.Inf(-1), 0.5},
		{"nan weight", LogicOr, math.NaN(), 0.5},
		{"overflowing sum", LogicOr, math.MaxFloat64, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Group{Logic: tt.logic, Children: []Node{
				Leaf(Condition{Field: "a", Operator: OpEquals, Value: "1", Weight: tt.weight}),
				Leaf(Condition{Field: "b", Operator: OpEquals, Value: "2", Weight: tt.weight}),
			}}
			s := Score(Target{Groups: []Group{g}}, "", Profile{"a": "1", "b": "nope"})
			assert.False(t, math.IsNaN(s))
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
			if tt.weight != math.MaxFloat64 {
				assert.InDelta(t, tt.want, s, 1e-9)
			}
		})
	}
}

func TestClamp_NaN(t *testing.T) {
	assert.Zero(t, clamp(math.NaN()))
	assert.Equal(t, 1.0, clamp(math.Inf(1)))
}

func TestMatchesAny(t *testing.T) {
	conds := map[string][]string{
		"city":      {"Toronto", "Ottawa"},
		"interests": {"pool"},
	}

	assert.True(t, MatchesAny(conds, Profile{"city": "Ottawa"}))
	assert.True(t, MatchesAny(conds, Profile{"interests": []string{"gym", "pool"}}))
	assert.False(t, MatchesAny(conds, Profile{"city": "Montreal"}))
	assert.False(t, MatchesAny(conds, Profile{}))
	assert.False(t, MatchesAny(nil, Profile{"city": "Toronto"}))
}
