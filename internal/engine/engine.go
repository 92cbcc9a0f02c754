// Package engine runs one conversational turn: classify, branch, extract or
// resolve, and decide the next state.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/intake/internal/enrichment"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/intent"
	"github.com/MikeSquared-Agency/intake/internal/knowledge"
	"github.com/MikeSquared-Agency/intake/internal/objection"
)

// ErrMissingState is the only error ProcessTurn returns: there is no
// conversation state to process the turn against.
var ErrMissingState = errors.New("missing conversation state")

// IntentSource classifies utterances and never fails (see intent.Guarded).
type IntentSource interface {
	Classify(ctx context.Context, req intent.ClassifyRequest) intent.Result
}

// FieldSource extracts field values and never fails (see extractor.Guarded).
type FieldSource interface {
	Extract(ctx context.Context, req extractor.Request) []flow.Extraction
}

// Enqueuer accepts enrichment events without blocking.
type Enqueuer interface {
	Add(ev enrichment.Event)
}

// Components are the collaborators of an Engine. Knowledge and Enrichment
// may be nil.
type Components struct {
	Flow       *flow.Engine
	Classifier IntentSource
	Extractor  FieldSource
	Resolver   *objection.Resolver
	Knowledge  objection.Snippets
	Enrichment Enqueuer

	OfferType      string
	HistorySize    int
	RetrievalLimit int
}

// Engine processes turns. It holds no session data: answers and history
// come in with TurnInput and go back out in TurnResult.
type Engine struct {
	c      Components
	logger *slog.Logger
}

func New(c Components, logger *slog.Logger) *Engine {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return &Engine{c: c, logger: logger}
}

// Flow returns the transition engine.
func (e *Engine) Flow() *flow.Engine {
	return e.c.Flow
}

// TurnInput is everything one turn is evaluated against.
type TurnInput struct {
	SessionID string
	State     *flow.State
	Answers   flow.Answers
	History   []intent.Turn
	Utterance string
	// Selection is a discrete button value. When set it bypasses
	// classification and answers the state's first field.
	Selection string
}

// TurnResult is what the turn produced for persistence and reply composition.
type TurnResult struct {
	TurnID      uuid.UUID           `json:"turn_id"`
	Intent      intent.Result       `json:"intent"`
	Route       string              `json:"route"`
	Extractions []flow.Extraction   `json:"extractions"`
	Discarded   []flow.Extraction   `json:"discarded,omitempty"`
	Answers     flow.Answers        `json:"answers"`
	StateID     string              `json:"state_id"`
	NextStateID string              `json:"next_state_id,omitempty"`
	Completed   bool                `json:"completed"`
	Skipped     []string            `json:"skipped,omitempty"`
	Rebuttal    *objection.Rebuttal `json:"rebuttal,omitempty"`
	Snippets    []knowledge.Result  `json:"snippets,omitempty"`
	Escalate    bool                `json:"escalate"`
	History     []intent.Turn       `json:"-"`
}

// ProcessTurn evaluates one turn. Capability failures degrade inside the
// turn; only a missing state is returned as an error.
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.State == nil {
		return nil, ErrMissingState
	}
	state := *in.State
	answers := in.Answers.Clone()
	utterance := strings.TrimSpace(in.Utterance)
	selection := strings.TrimSpace(in.Selection)

	res := &TurnResult{
		TurnID:      uuid.New(),
		Answers:     answers,
		StateID:     state.ID,
		NextStateID: state.ID,
	}

	var selected []flow.Extraction
	switch {
	case selection != "":
		res.Intent = intent.Result{Category: intent.DirectAnswer, Confidence: 1}
		if keys := state.Keys(); len(keys) > 0 {
			selected = []flow.Extraction{{Key: keys[0], Value: selection, Confidence: 1}}
		}
		utterance = selection
	case utterance == "":
		res.Intent = intent.Fallback()
	default:
		res.Intent = e.c.Classifier.Classify(ctx, intent.ClassifyRequest{
			Utterance: utterance,
			State:     state,
			History:   in.History,
			Fields:    e.c.Flow.Universe().Fields(),
		})
	}
	if !res.Intent.Category.Valid() {
		e.logger.Warn("classifier returned an invalid category, using fallback",
			"session_id", in.SessionID,
			"category", int(res.Intent.Category),
		)
		res.Intent = intent.Fallback()
	}

	route := res.Intent.Category.Route()
	res.Route = route.String()

	switch route {
	case intent.RouteAnswer:
		extractions := selected
		if selection == "" {
			extractions = e.c.Extractor.Extract(ctx, extractor.Request{
				Utterance: utterance,
				Offered:   state.Fields,
				Collected: answers,
				Universe:  e.c.Flow.Universe(),
			})
		}
		res.Extractions = extractions
		res.Answers, res.Discarded = e.c.Flow.ApplyExtractions(extractions, answers)

		tr := e.c.Flow.NextState(state.ID, res.Answers)
		res.Completed = tr.Completed
		res.Skipped = tr.Skipped
		res.NextStateID = ""
		if tr.Next != nil {
			res.NextStateID = tr.Next.ID
		}

	case intent.RouteObjection:
		rebuttal := e.c.Resolver.Resolve(ctx, objection.Request{
			Subtype:   res.Intent.Subcategory,
			Tone:      res.Intent.Tone,
			Utterance: utterance,
			Pending:   state,
			Profile:   answers.Profile(),
			OfferType: e.c.OfferType,
		})
		res.Rebuttal = &rebuttal

	case intent.RouteKnowledge:
		if e.c.Knowledge != nil {
			res.Snippets = e.c.Knowledge.Search(ctx, utterance, knowledge.Query{
				Category:  res.Intent.Category.String(),
				Profile:   answers.Profile(),
				OfferType: e.c.OfferType,
				Placement: state.PlacementTag(),
				Limit:     e.c.RetrievalLimit,
			})
		}

	case intent.RouteEscalation:
		res.Escalate = true
	}

	res.History = appendHistory(in.History, e.c.HistorySize,
		intent.Turn{Role: "assistant", Text: state.Prompt},
		intent.Turn{Role: "user", Text: utterance},
	)

	e.capture(in.SessionID, state.ID, utterance, res)

	e.logger.Info("turn processed",
		"session_id", in.SessionID,
		"state_id", state.ID,
		"category", res.Intent.Category.String(),
		"confidence", res.Intent.Confidence,
		"route", res.Route,
		"extractions", len(res.Extractions),
		"discarded", len(res.Discarded),
		"next_state_id", res.NextStateID,
		"completed", res.Completed,
	)
	return res, nil
}

func (e *Engine) capture(sessionID, stateID, utterance string, res *TurnResult) {
	if e.c.Enrichment == nil {
		return
	}
	reason := enrichment.Reason(res.Intent, res.Discarded)
	if reason == "" {
		return
	}
	e.c.Enrichment.Add(enrichment.Event{
		SessionID:   sessionID,
		StateID:     stateID,
		Reason:      reason,
		Category:    res.Intent.Category,
		Subcategory: res.Intent.Subcategory,
		Confidence:  res.Intent.Confidence,
		Utterance:   utterance,
		Discarded:   res.Discarded,
	})
}
