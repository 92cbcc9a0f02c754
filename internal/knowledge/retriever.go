package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/intake/internal/rules"
)

const (
	defaultLimit = 5
	overFetch    = 3
)

// Retriever ranks knowledge items for a query. It never returns an error:
// any failure yields an empty result, meaning no personalisation is available.
type Retriever struct {
	index   Index
	matcher rules.Matcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewRetriever creates a retriever over index. minScore gates rule-group
// scores; timeout bounds each similarity search (zero disables it).
func NewRetriever(index Index, minScore float64, timeout time.Duration, logger *slog.Logger) *Retriever {
	return &Retriever{
		index:   index,
		matcher: rules.Matcher{MinScore: minScore},
		timeout: timeout,
		logger:  logger,
	}
}

// Retrieve returns at most q.Limit items ordered by similarity, with the rule
// score breaking ties.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (results []Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("knowledge retrieval panicked", "panic", rec)
			results = nil
		}
	}()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if len(q.Embedding) == 0 {
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	candidates, err := r.index.Search(ctx, q.Embedding, limit*overFetch)
	if err != nil {
		r.logger.Warn("similarity search failed", "category", q.Category, "error", err)
		return nil
	}

	for _, c := range candidates {
		if !r.admissible(c.Item, q) {
			continue
		}
		score, ok := r.applicable(c.Item, q)
		if !ok {
			continue
		}
		results = append(results, Result{
			Item:       c.Item,
			Similarity: c.Similarity,
			RuleScore:  score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].RuleScore > results[j].RuleScore
	})

	if len(results) > limit {
		results = results[:limit]
	}

	r.logger.Debug("knowledge retrieved",
		"category", q.Category,
		"candidates", len(candidates),
		"results", len(results),
	)
	return results
}

// admissible applies the category, offer and placement filters.
func (r *Retriever) admissible(item Item, q Query) bool {
	return intersects(item.Categories, q.Category) &&
		intersects(item.Offers, q.OfferType) &&
		intersects(item.Placements, q.Placement)
}

// applicable applies the rule layer: rule groups must score above zero,
// simple conditions must intersect the profile, anything else is universal.
func (r *Retriever) applicable(item Item, q Query) (float64, bool) {
	switch {
	case len(item.RuleGroups) > 0:
		return r.matcher.Matches(item.target(), q.Category, q.Profile)
	case len(item.Conditions) > 0:
		return 1, rules.MatchesAny(item.Conditions, q.Profile)
	default:
		return 1, true
	}
}

// intersects treats an empty item tag list or an empty request value as a wildcard.
func intersects(tags []string, want string) bool {
	if want == "" || len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
