// Package rules scores knowledge items against a user profile using weighted
// boolean rule trees.
package rules

import "math"

// Operator is a leaf comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIncludes    Operator = "includes"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
)

// Logic combines the children of a group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Profile is the user data rules are evaluated against. Values are strings,
// numbers or lists of either.
type Profile map[string]any

// Condition is a leaf rule. A zero, negative or non-finite Weight counts as 1.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
	Weight   float64  `json:"weight,omitempty" yaml:"weight,omitempty"`
}

func (c Condition) weight() float64 {
	if c.Weight <= 0 || math.IsInf(c.Weight, 0) || math.IsNaN(c.Weight) {
		return 1
	}
	return c.Weight
}

// Node is one child of a group: exactly one of Rule or Group is set.
type Node struct {
	Rule  *Condition `json:"rule,omitempty" yaml:"rule,omitempty"`
	Group *Group     `json:"group,omitempty" yaml:"group,omitempty"`
}

// Group is a weighted AND/OR over its children.
type Group struct {
	Logic    Logic  `json:"logic" yaml:"logic"`
	Children []Node `json:"children" yaml:"children"`
}

// Leaf wraps a condition as a node.
func Leaf(c Condition) Node {
	return Node{Rule: &c}
}

// Nested wraps a group as a node.
func Nested(g Group) Node {
	return Node{Group: &g}
}

// GroupResult is the outcome of evaluating one group.
type GroupResult struct {
	Matched       bool
	MatchedWeight float64
	TotalWeight   float64
}

// Target is the rule-relevant part of a knowledge item.
type Target struct {
	Categories []string
	Groups     []Group
}
