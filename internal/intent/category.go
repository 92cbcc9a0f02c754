// Package intent defines the closed set of turn categories, the classifier
// contract, and the guard that keeps classification failures from reaching
// the caller.
package intent

import (
	"fmt"
	"strings"
)

// Category is the primary intent of an utterance. The set is closed: values
// are only produced by the constants below or by ParseCategory.
type Category uint8

const (
	categoryInvalid Category = iota
	DirectAnswer
	MultiAnswer
	ClarificationQuestion
	Objection
	Chitchat
	EscalationRequest
	OffTopic
	AttemptedAnswerButUnclear
	ChangePreviousAnswer
)

var categoryNames = [...]string{
	categoryInvalid:           "",
	DirectAnswer:              "direct_answer",
	MultiAnswer:               "multi_answer",
	ClarificationQuestion:     "clarification_question",
	Objection:                 "objection",
	Chitchat:                  "chitchat",
	EscalationRequest:         "escalation_request",
	OffTopic:                  "off_topic",
	AttemptedAnswerButUnclear: "attempted_answer_but_unclear",
	ChangePreviousAnswer:      "change_previous_answer",
}

// AllCategories lists every valid category in declaration order.
func AllCategories() []Category {
	out := make([]Category, 0, len(categoryNames)-1)
	for c := DirectAnswer; int(c) < len(categoryNames); c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory maps a wire name to its category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if i > 0 && name == s {
			return Category(i), nil
		}
	}
	return categoryInvalid, fmt.Errorf("unknown intent category %q", s)
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c > categoryInvalid && int(c) < len(categoryNames)
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
	return categoryNames[c]
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal invalid category %d", uint8(c))
	}
	return []byte(categoryNames[c]), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Route is the branch a turn takes after classification.
type Route uint8

const (
	// RouteAnswer sends the utterance to field extraction.
	RouteAnswer Route = iota + 1
	// RouteObjection sends the turn to the objection resolver. State is unchanged.
	RouteObjection
	// RouteKnowledge retrieves knowledge snippets. State is unchanged.
	RouteKnowledge
	// RouteEscalation hands the session to a human. State is unchanged.
	RouteEscalation
)

func (r Route) String() string {
	switch r {
	case RouteAnswer:
		return "answer"
	case RouteObjection:
		return "objection"
	case RouteKnowledge:
		return "knowledge"
	case RouteEscalation:
		return "escalation"
	}
	return fmt.Sprintf("Route(%d)", uint8(r))
}

// Route maps every category to its branch. Adding a category without
// extending this switch panics in TestRouteCoversEveryCategory.
func (c Category) Route() Route {
	switch c {
	case DirectAnswer, MultiAnswer, ChangePreviousAnswer, AttemptedAnswerButUnclear:
		return RouteAnswer
	case Objection:
		return RouteObjection
	case ClarificationQuestion, OffTopic, Chitchat:
		return RouteKnowledge
	case EscalationRequest:
		return RouteEscalation
	case categoryInvalid:
	}
	panic(fmt.Sprintf("intent: unrouted category %s", c))
}
