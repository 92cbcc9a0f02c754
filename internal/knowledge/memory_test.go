package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/intake/internal/rules"
)

func TestMemoryIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx, err := NewMemoryIndex()
	require.NoError(t, err)

	require.NoError(t, idx.Add(ctx, Item{ID: "x", Text: "x axis"}, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(ctx, Item{ID: "y", Text: "y axis"}, []float32{0, 1, 0}))
	require.NoError(t, idx.Add(ctx, Item{ID: "xy", Text: "diagonal"}, []float32{1, 1, 0}))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].Item.ID)
	assert.Equal(t, "xy", hits[1].Item.ID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)

	// k larger than the collection is clamped.
	hits, err = idx.Search(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	assert.Equal(t, "y", hits[0].Item.ID)
}

func TestMemoryIndex_ReplaceAndEmpty(t *testing.T) {
	ctx := context.Background()
	idx, err := NewMemoryIndex()
	require.NoError(t, err)

	hits, err := idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Add(ctx, Item{ID: "a", Title: "old"}, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, Item{ID: "a", Title: "new"}, []float32{0, 1}))
	assert.Equal(t, 1, idx.Len())

	hits, err = idx.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].Item.Title)

	assert.Error(t, idx.Add(ctx, Item{}, []float32{1}))
	assert.Error(t, idx.Add(ctx, Item{ID: "b"}, nil))
}

type mapEmbedder map[string][]float32

func (m mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := m[text]; ok {
		return v, nil
	}
	return nil, errors.New("no embedding")
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	idx, err := NewMemoryIndex()
	require.NoError(t, err)

	items := []Item{{ID: "a", Title: "A", Text: "alpha"}, {ID: "b", Text: "beta"}}
	emb := mapEmbedder{"A\nalpha": {1, 0}, "beta": {0, 1}}

	require.NoError(t, Seed(ctx, idx, emb, items))
	assert.Equal(t, 2, idx.Len())

	err = Seed(ctx, idx, emb, []Item{{ID: "c", Text: "gamma"}})
	assert.Error(t, err)
}

func TestLoadItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
items:
  - id: closing-costs
    title: Closing costs
    text: Budget roughly 1.5 to 4 percent for closing costs.
    categories: [clarification_question]
    placements: [budget]
    rule_groups:
      - logic: AND
        children:
          - rule: {field: budget, operator: greater_than, value: 100000}
  - id: first-time
    text: First-time buyer incentives are available.
    conditions:
      first_time_buyer: ["yes"]
`), 0o644))

	items, err := LoadItems(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"budget"}, items[0].Placements)
	require.Len(t, items[0].RuleGroups, 1)
	assert.Equal(t, []string{"yes"}, items[1].Conditions["first_time_buyer"])

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("items:\n  - id: a\n  - id: a\n"), 0o644))
	_, err = LoadItems(dup)
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	_, err := NewEmbedder("openai", "", "", "")
	assert.Error(t, err)

	e, err := NewEmbedder("openai", "", "sk-test", "")
	require.NoError(t, err)
	assert.NotNil(t, e)

	e, err = NewEmbedder("ollama", "", "", "http://localhost:11434/api")
	require.NoError(t, err)
	assert.NotNil(t, e)

	_, err = NewEmbedder("cohere", "", "", "")
	assert.Error(t, err)
}

func TestLoadItems_SampleBudgetRuleNeedsPlainNumber(t *testing.T) {
	items, err := LoadItems(filepath.Join("..", "..", "knowledge.yaml"))
	require.NoError(t, err)

	var incentives *Item
	for i := range items {
		if items[i].ID == "first-time-buyer-incentives" {
			incentives = &items[i]
		}
	}
	require.NotNil(t, incentives)

	plain := rules.Score(incentives.target(), "objection", rules.Profile{"preapproved": "no", "budget": "500000"})
	assert.Equal(t, 1.0, plain)

	abbreviated := rules.Score(incentives.target(), "objection", rules.Profile{"preapproved": "no", "budget": "500k"})
	assert.InDelta(t, 1.0/3.0, abbreviated, 1e-9)
}
