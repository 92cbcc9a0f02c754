package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/intake/internal/rules"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIndex struct {
	candidates []Candidate
	err        error
	gotK       int
	block      bool
}

func (f *fakeIndex) Search(ctx context.Context, _ []float32, k int) ([]Candidate, error) {
	f.gotK = k
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > k {
		return f.candidates[:k], nil
	}
	return f.candidates, nil
}

func ids(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Item.ID)
	}
	return out
}

var queryEmbedding = []float32{0.1, 0.2, 0.3}

func TestRetrieve_OverFetchesAndTruncates(t *testing.T) {
	idx := &fakeIndex{}
	for i, sim := range []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3} {
		idx.candidates = append(idx.candidates, Candidate{Item: Item{ID: string(rune('a' + i))}, Similarity: sim})
	}

	r := NewRetriever(idx, 0, time.Second, discardLogger())
	results := r.Retrieve(context.Background(), Query{Embedding: queryEmbedding, Limit: 2})

	assert.Equal(t, 6, idx.gotK)
	assert.Equal(t, []string{"a", "b"}, ids(results))
}

func TestRetrieve_DefaultLimit(t *testing.T) {
	idx := &fakeIndex{}
	for i := 0; i < 20; i++ {
		idx.candidates = append(idx.candidates, Candidate{Item: Item{ID: string(rune('a' + i))}, Similarity: 1 - float64(i)/20})
	}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{Embedding: queryEmbedding})
	assert.Len(t, results, defaultLimit)
}

func TestRetrieve_OrdersBySimilarityThenRuleScore(t *testing.T) {
	partial := []rules.Group{{Logic: rules.LogicOr, Children: []rules.Node{
		rules.Leaf(rules.Condition{Field: "city", Operator: rules.OpEquals, Value: "Toronto"}),
		rules.Leaf(rules.Condition{Field: "type", Operator: rules.OpEquals, Value: "loft"}),
	}}}

	idx := &fakeIndex{candidates: []Candidate{
		{Item: Item{ID: "partial", RuleGroups: partial}, Similarity: 0.8},
		{Item: Item{ID: "universal"}, Similarity: 0.8},
		{Item: Item{ID: "top"}, Similarity: 0.95},
		{Item: Item{ID: "low"}, Similarity: 0.2},
	}}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{
		Embedding: queryEmbedding,
		Profile:   rules.Profile{"city": "Toronto"},
		Limit:     10,
	})

	require.Equal(t, []string{"top", "universal", "partial", "low"}, ids(results))
	assert.InDelta(t, 0.5, results[2].RuleScore, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestRetrieve_FiltersByCategoryOfferAndPlacement(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{
		{Item: Item{ID: "match", Categories: []string{"objection"}, Offers: []string{"buyer"}, Placements: []string{"budget"}}, Similarity: 0.9},
		{Item: Item{ID: "wrong-category", Categories: []string{"faq"}}, Similarity: 0.9},
		{Item: Item{ID: "wrong-offer", Offers: []string{"seller"}}, Similarity: 0.9},
		{Item: Item{ID: "wrong-placement", Placements: []string{"timeline"}}, Similarity: 0.9},
		{Item: Item{ID: "untagged"}, Similarity: 0.5},
	}}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{
		Embedding: queryEmbedding,
		Category:  "objection",
		OfferType: "buyer",
		Placement: "budget",
	})

	assert.Equal(t, []string{"match", "untagged"}, ids(results))
}

func TestRetrieve_RuleAndConditionGates(t *testing.T) {
	torontoOnly := []rules.Group{{Logic: rules.LogicAnd, Children: []rules.Node{
		rules.Leaf(rules.Condition{Field: "city", Operator: rules.OpEquals, Value: "Toronto"}),
	}}}

	idx := &fakeIndex{candidates: []Candidate{
		{Item: Item{ID: "rules-hit", RuleGroups: torontoOnly}, Similarity: 0.9},
		{Item: Item{ID: "conditions-hit", Conditions: map[string][]string{"budget": {"500k"}}}, Similarity: 0.8},
		{Item: Item{ID: "conditions-miss", Conditions: map[string][]string{"budget": {"1m"}}}, Similarity: 0.7},
		{Item: Item{ID: "rules-miss", RuleGroups: []rules.Group{{Logic: rules.LogicAnd, Children: []rules.Node{
			rules.Leaf(rules.Condition{Field: "city", Operator: rules.OpEquals, Value: "Ottawa"}),
		}}}}, Similarity: 0.6},
	}}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{
		Embedding: queryEmbedding,
		Profile:   rules.Profile{"city": "Toronto", "budget": "500k"},
	})

	assert.Equal(t, []string{"rules-hit", "conditions-hit"}, ids(results))
}

func TestRetrieve_MinScoreThreshold(t *testing.T) {
	partial := []rules.Group{{Logic: rules.LogicOr, Children: []rules.Node{
		rules.Leaf(rules.Condition{Field: "city", Operator: rules.OpEquals, Value: "Toronto"}),
		rules.Leaf(rules.Condition{Field: "type", Operator: rules.OpEquals, Value: "loft"}),
		rules.Leaf(rules.Condition{Field: "beds", Operator: rules.OpGreaterThan, Value: 3}),
	}}}
	idx := &fakeIndex{candidates: []Candidate{{Item: Item{ID: "partial", RuleGroups: partial}, Similarity: 0.9}}}

	results := NewRetriever(idx, 0.5, 0, discardLogger()).Retrieve(context.Background(), Query{
		Embedding: queryEmbedding,
		Profile:   rules.Profile{"city": "Toronto"},
	})
	assert.Empty(t, results)
}

func TestRetrieve_IndexFailureYieldsEmpty(t *testing.T) {
	idx := &fakeIndex{err: errors.New("connection refused")}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{Embedding: queryEmbedding})
	assert.Empty(t, results)
}

func TestRetrieve_TimeoutYieldsEmpty(t *testing.T) {
	idx := &fakeIndex{block: true}

	results := NewRetriever(idx, 0, 10*time.Millisecond, discardLogger()).Retrieve(context.Background(), Query{Embedding: queryEmbedding})
	assert.Empty(t, results)
}

type panickingIndex struct{}

func (panickingIndex) Search(context.Context, []float32, int) ([]Candidate, error) {
	panic("boom")
}

func TestRetrieve_PanicYieldsEmpty(t *testing.T) {
	results := NewRetriever(panickingIndex{}, 0, 0, discardLogger()).Retrieve(context.Background(), Query{Embedding: queryEmbedding})
	assert.Empty(t, results)
}

func TestRetrieve_NoEmbedding(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Item: Item{ID: "a"}, Similarity: 1}}}

	results := NewRetriever(idx, 0, 0, discardLogger()).Retrieve(context.Background(), Query{})
	assert.Empty(t, results)
	assert.Zero(t, idx.gotK)
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestSearcher(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Item: Item{ID: "a"}, Similarity: 0.9}}}
	retriever := NewRetriever(idx, 0, 0, discardLogger())

	s := NewSearcher(mapEmbedder{"hello": {1, 0}}, retriever, time.Second, discardLogger())
	assert.Equal(t, []string{"a"}, ids(s.Search(context.Background(), "hello", Query{Limit: 1})))
	assert.Equal(t, 3, idx.gotK)

	assert.Empty(t, s.Search(context.Background(), "", Query{}))
	assert.Empty(t, NewSearcher(failingEmbedder{}, retriever, 0, discardLogger()).Search(context.Background(), "hello", Query{}))

	var nilSearcher *Searcher
	assert.Empty(t, nilSearcher.Search(context.Background(), "hello", Query{}))
}
