package flow

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownState is returned when a state id is not part of the flow.
var ErrUnknownState = errors.New("unknown state")

// Transition is the outcome of NextState.
type Transition struct {
	// Next is nil when the conversation is complete.
	Next      *State
	Completed bool
	// Skipped lists states after the current one that were already satisfied.
	Skipped []string
}

// Engine owns the ordered list of states for one offer and decides where a
// conversation goes after each turn. It holds no per-session data.
type Engine struct {
	states   []State
	byID     map[string]int
	universe *Universe
	logger   *slog.Logger
}

// NewEngine builds an engine over states. extra adds fields that can be
// extracted but are never asked about directly.
func NewEngine(states []State, extra []FieldDescriptor, logger *slog.Logger) (*Engine, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("flow has no states")
	}

	byID := make(map[string]int, len(states))
	var fields []FieldDescriptor
	seen := make(map[string]string)
	for i, st := range states {
		if st.ID == "" {
			return nil, fmt.Errorf("state %d has no id", i)
		}
		if _, dup := byID[st.ID]; dup {
			return nil, fmt.Errorf("duplicate state id %q", st.ID)
		}
		byID[st.ID] = i
		for _, f := range st.Fields {
			if owner, dup := seen[f.Key]; dup {
				return nil, fmt.Errorf("mapping key %q used by states %q and %q", f.Key, owner, st.ID)
			}
			seen[f.Key] = st.ID
			fields = append(fields, f)
		}
	}
	for _, f := range extra {
		if owner, dup := seen[f.Key]; dup {
			return nil, fmt.Errorf("extra mapping key %q already used by state %q", f.Key, owner)
		}
		seen[f.Key] = ""
		fields = append(fields, f)
	}

	return &Engine{
		states:   states,
		byID:     byID,
		universe: NewUniverse(fields...),
		logger:   logger,
	}, nil
}

// Universe returns the full field universe of the flow.
func (e *Engine) Universe() *Universe {
	return e.universe
}

// States returns the ordered states.
func (e *Engine) States() []State {
	out := make([]State, len(e.states))
	copy(out, e.states)
	return out
}

// State looks up a state by id.
func (e *Engine) State(id string) (State, error) {
	i, ok := e.byID[id]
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownState, id)
	}
	return e.states[i], nil
}

// ApplyExtractions merges extractions into a copy of answers and returns it
// together with the extractions that were discarded. Keys outside the
// universe are discarded with a warning and returned; empty values are
// ignored and not reported. A key that is already collected is overwritten.
// The input map is never mutated.
func (e *Engine) ApplyExtractions(extractions []Extraction, answers Answers) (Answers, []Extraction) {
	updated := answers.Clone()
	var discarded []Extraction

	for _, ex := range extractions {
		if !e.universe.Contains(ex.Key) {
			e.logger.Warn("discarding extraction outside field universe",
				"mapping_key", ex.Key,
				"value", ex.Value,
			)
			discarded = append(discarded, ex)
			continue
		}
		if ex.Value == "" {
			e.logger.Debug("ignoring empty extraction", "mapping_key", ex.Key)
			continue
		}

		if prev, ok := updated[ex.Key]; ok && prev != ex.Value {
			e.logger.Info("answer corrected",
				"mapping_key", ex.Key,
				"previous", prev,
				"value", ex.Value,
			)
		}
		updated[ex.Key] = ex.Value
	}

	return updated, discarded
}

// NextState returns the first state in order whose fields are not all
// collected. currentID may be empty at the start of a conversation.
func (e *Engine) NextState(currentID string, answers Answers) Transition {
	next := -1
	for i, st := range e.states {
		if !st.Satisfied(answers) {
			next = i
			break
		}
	}

	from := 0
	if i, ok := e.byID[currentID]; ok {
		from = i + 1
	}

	end := len(e.states)
	if next >= 0 {
		end = next
	}

	var skipped []string
	for i := from; i < end; i++ {
		skipped = append(skipped, e.states[i].ID)
	}

	if next < 0 {
		return Transition{Completed: true, Skipped: skipped}
	}

	st := e.states[next]
	return Transition{Next: &st, Skipped: skipped}
}
