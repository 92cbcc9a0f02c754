package flow

import (
	"sort"
)

// FieldDescriptor is metadata for a collectable field.
type FieldDescriptor struct {
	Key   string `yaml:"key" json:"key" validate:"required"`
	Label string `yaml:"label" json:"label" validate:"required"`
	Hint  string `yaml:"hint" json:"hint,omitempty"`
}

// State is one step of the intake conversation. It is rebuilt from the offer
// definition on every turn and never persisted.
type State struct {
	ID        string            `yaml:"id" json:"id" validate:"required"`
	Goal      string            `yaml:"goal" json:"goal"`
	Prompt    string            `yaml:"prompt" json:"prompt" validate:"required"`
	Placement string            `yaml:"placement" json:"placement,omitempty"`
	Fields    []FieldDescriptor `yaml:"fields" json:"fields" validate:"dive"`
}

// Keys returns the mapping keys the state asks about, in order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// PlacementTag returns the knowledge placement tag for the state. States
// without an explicit placement use their id.
func (s State) PlacementTag() string {
	if s.Placement != "" {
		return s.Placement
	}
	return s.ID
}

// Satisfied reports whether every field of the state has an answer.
func (s State) Satisfied(answers Answers) bool {
	for _, f := range s.Fields {
		if !answers.Has(f.Key) {
			return false
		}
	}
	return true
}

// Answers maps mapping key to the collected value for one session.
type Answers map[string]string

// Has reports whether key has been collected.
func (a Answers) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Clone returns an independent copy. A nil receiver yields an empty map.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the collected mapping keys sorted alphabetically.
func (a Answers) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Profile converts the answers into a rule-evaluation profile.
func (a Answers) Profile() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Extraction is one value pulled out of an utterance.
type Extraction struct {
	Key        string  `json:"mapping_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Universe is the complete, ordered set of fields for one offer.
type Universe struct {
	fields []FieldDescriptor
	index  map[string]int
}

// NewUniverse builds a universe from fields. Later duplicates of a key are ignored.
func NewUniverse(fields ...FieldDescriptor) *Universe {
	u := &Universe{index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if _, dup := u.index[f.Key]; dup {
			continue
		}
		u.index[f.Key] = len(u.fields)
		u.fields = append(u.fields, f)
	}
	return u
}

// Contains reports whether key belongs to the universe.
func (u *Universe) Contains(key string) bool {
	_, ok := u.index[key]
	return ok
}

// Field returns the descriptor for key.
func (u *Universe) Field(key string) (FieldDescriptor, bool) {
	i, ok := u.index[key]
	if !ok {
		return FieldDescriptor{}, false
	}
	return u.fields[i], true
}

// Fields returns a copy of every descriptor in declaration order.
func (u *Universe) Fields() []FieldDescriptor {
	out := make([]FieldDescriptor, len(u.fields))
	copy(out, u.fields)
	return out
}

// Len returns the number of fields.
func (u *Universe) Len() int {
	return len(u.fields)
}
