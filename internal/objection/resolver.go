// Package objection answers objections without consuming a field slot.
package objection

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/knowledge"
	"github.com/MikeSquared-Agency/intake/internal/rules"
)

// Rebuttal sources.
const (
	SourceTable     = "table"
	SourceKnowledge = "knowledge"
	SourceNone      = "none"
)

// CategoryObjection is the knowledge category queried for fallbacks.
const CategoryObjection = "objection"

const snippetLimit = 3

// Snippets finds knowledge items for free text.
type Snippets interface {
	Search(ctx context.Context, text string, q knowledge.Query) []knowledge.Result
}

// Request describes one objection turn.
type Request struct {
	Subtype   string
	Tone      string
	Utterance string
	Pending   flow.State
	Profile   rules.Profile
	OfferType string
}

// Rebuttal is the content handed to reply composition. PendingStateID always
// equals the pending state of the request.
type Rebuttal struct {
	Text           string             `json:"text,omitempty"`
	Tone           string             `json:"tone,omitempty"`
	Source         string             `json:"source"`
	Snippets       []knowledge.Result `json:"snippets,omitempty"`
	PendingStateID string             `json:"pending_state_id"`
}

type tableKey struct {
	subtype string
	field   string
}

// Resolver looks up precomputed rebuttals by (subtype, pending field) and
// falls back to knowledge retrieval.
type Resolver struct {
	table    map[tableKey]flow.ObjectionEntry
	snippets Snippets
	logger   *slog.Logger
}

// NewResolver indexes entries. Later entries for the same key win.
// snippets may be nil, which disables the knowledge fallback.
func NewResolver(entries []flow.ObjectionEntry, snippets Snippets, logger *slog.Logger) *Resolver {
	table := make(map[tableKey]flow.ObjectionEntry, len(entries))
	for _, e := range entries {
		table[tableKey{normalize(e.Subtype), e.Field}] = e
	}
	return &Resolver{table: table, snippets: snippets, logger: logger}
}

// Resolve never modifies answers or state; the caller keeps the pending state.
func (r *Resolver) Resolve(ctx context.Context, req Request) Rebuttal {
	out := Rebuttal{
		Tone:           req.Tone,
		Source:         SourceNone,
		PendingStateID: req.Pending.ID,
	}
	subtype := normalize(req.Subtype)

	if entry, ok := r.lookup(subtype, req.Pending); ok {
		out.Text = entry.Text
		if variant, ok := entry.Tones[normalize(req.Tone)]; ok && variant != "" {
			out.Text = variant
		}
		out.Source = SourceTable
		r.logger.Debug("objection answered from table",
			"subtype", subtype,
			"state_id", req.Pending.ID,
			"tone", req.Tone,
		)
		return out
	}

	if r.snippets == nil {
		return out
	}

	query := strings.TrimSpace(strings.Join([]string{subtype, req.Utterance}, " "))
	results := r.snippets.Search(ctx, query, knowledge.Query{
		Category:  CategoryObjection,
		Profile:   req.Profile,
		OfferType: req.OfferType,
		Placement: req.Pending.PlacementTag(),
		Limit:     snippetLimit,
	})
	if len(results) == 0 {
		r.logger.Info("no rebuttal available", "subtype", subtype, "state_id", req.Pending.ID)
		return out
	}

	out.Text = results[0].Item.Text
	out.Snippets = results
	out.Source = SourceKnowledge
	return out
}

// lookup tries each pending field in order, then the subtype wildcard.
func (r *Resolver) lookup(subtype string, pending flow.State) (flow.ObjectionEntry, bool) {
	if subtype == "" {
		return flow.ObjectionEntry{}, false
	}
	for _, key := range pending.Keys() {
		if e, ok := r.table[tableKey{subtype, key}]; ok {
			return e, true
		}
	}
	e, ok := r.table[tableKey{subtype, ""}]
	return e, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
