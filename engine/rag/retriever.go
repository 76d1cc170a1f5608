package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/semantic"
	"github.com/complimo/complimo/pkg/llm"
)

// ScoredChunk is a stored chunk with its similarity to the query.
type ScoredChunk = semantic.SearchResult

// Retriever answers "which indexed chunks look like this text".
type Retriever struct {
	embed      llm.Embedder
	index      semantic.Index
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRetriever creates a Retriever over one collection.
func NewRetriever(embed llm.Embedder, index semantic.Index, collection string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embed:      embed,
		index:      index,
		collection: collection,
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

// Collection returns the collection searched by r.
func (r *Retriever) Collection() string { return r.collection }

// Search returns at most k chunks ordered by descending similarity. The
// result is shorter than k when the collection holds fewer chunks.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", query, domain.ErrQueryTooShort)
	}
	if k <= 0 {
		return nil, domain.NewValidationError("k", fmt.Sprint(k), domain.ErrInvalidInput)
	}

	vec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, domain.Upstream("rag: embed query", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	hits, err := r.index.Search(searchCtx, r.collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("rag: search %q: %w", r.collection, err)
	}
	r.logger.Info("rag search done", "collection", r.collection, "k", k, "results", len(hits))
	return hits, nil
}

// FormatRegulations renders hits as numbered "Document i:" blocks, the layout
// the evaluation and report prompts expect.
func FormatRegulations(hits []ScoredChunk) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("Document %d:\n%s\n", i+1, h.Chunk.Text)
	}
	return strings.Join(parts, "\n")
}
