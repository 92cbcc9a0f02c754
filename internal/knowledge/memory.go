package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

const collectionName = "knowledge"

var errNoEmbedding = errors.New("knowledge embeddings must be precomputed")

// MemoryIndex is an in-process similarity index backed by chromem-go.
type MemoryIndex struct {
	collection *chromem.Collection

	mu    sync.RWMutex
	items map[string]Item
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() (*MemoryIndex, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &MemoryIndex{
		collection: collection,
		items:      make(map[string]Item),
	}, nil
}

// Add stores item with its embedding. Re-adding an id replaces the item.
func (m *MemoryIndex) Add(ctx context.Context, item Item, embedding []float32) error {
	if item.ID == "" {
		return fmt.Errorf("knowledge item has no id")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("item %s: %w", item.ID, errNoEmbedding)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ID]; exists {
		if err := m.collection.Delete(ctx, nil, nil, item.ID); err != nil {
			return fmt.Errorf("replace item %s: %w", item.ID, err)
		}
	}

	err := m.collection.AddDocument(ctx, chromem.Document{
		ID:        item.ID,
		Content:   item.Document(),
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("add item %s: %w", item.ID, err)
	}
	m.items[item.ID] = item
	return nil
}

// Len returns the number of indexed items.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Search returns up to k items most similar to embedding.
func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, k int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(k, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	hits, err := m.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		item, ok := m.items[h.ID]
		if !ok {
			continue
		}
		out = append(out, Candidate{Item: item, Similarity: float64(h.Similarity)})
	}
	return out, nil
}

// Writer stores knowledge items with their embeddings.
type Writer interface {
	Add(ctx context.Context, item Item, embedding []float32) error
}

// Seed embeds and writes every item.
func Seed(ctx context.Context, index Writer, embedder Embedder, items []Item) error {
	for _, item := range items {
		emb, err := embedder.EmbedQuery(ctx, item.Document())
		if err != nil {
			return fmt.Errorf("embed item %s: %w", item.ID, err)
		}
		if err := index.Add(ctx, item, emb); err != nil {
			return err
		}
	}
	return nil
}

// EmbedFunc adapts a chromem embedding function to Embedder.
type EmbedFunc chromem.EmbeddingFunc

// EmbedQuery implements Embedder.
func (f EmbedFunc) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// NewEmbedder returns an embedder for provider ("openai" or "ollama").
func NewEmbedder(provider, model, apiKey, baseURL string) (Embedder, error) {
	switch provider {
	case "", "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai embeddings require an api key")
		}
		if model == "" {
			model = string(chromem.EmbeddingModelOpenAI3Small)
		}
		return EmbedFunc(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))), nil
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return EmbedFunc(chromem.NewEmbeddingFuncOllama(model, baseURL)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
