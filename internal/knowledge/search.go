package knowledge

import (
	"context"
	"log/slog"
	"time"
)

// Searcher embeds free text and runs it through a Retriever.
type Searcher struct {
	embedder  Embedder
	retriever *Retriever
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSearcher creates a searcher. timeout bounds the embedding call.
func NewSearcher(embedder Embedder, retriever *Retriever, timeout time.Duration, logger *slog.Logger) *Searcher {
	return &Searcher{embedder: embedder, retriever: retriever, timeout: timeout, logger: logger}
}

// Search embeds text and retrieves items for q. Like Retrieve it degrades
// to an empty result on any failure.
func (s *Searcher) Search(ctx context.Context, text string, q Query) []Result {
	if s == nil || text == "" {
		return nil
	}

	embedCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	emb, err := s.embedder.EmbedQuery(embedCtx, text)
	if err != nil {
		s.logger.Warn("query embedding failed", "category", q.Category, "error", err)
		return nil
	}

	q.Embedding = emb
	return s.retriever.Retrieve(ctx, q)
}
