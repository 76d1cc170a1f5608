package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/complimo/complimo/engine/domain"
	"github.com/complimo/complimo/engine/semantic"
	"github.com/complimo/complimo/pkg/fn"
	"github.com/complimo/complimo/pkg/llm"
)

// EmbedBatchSize is the default max chunks per embedding request.
const EmbedBatchSize = 64

// Indexer embeds chunks and writes them to the index batch by batch, so a
// failure loses at most the batch in flight. Chunks are never deduplicated:
// every chunk gets a fresh point id.
type Indexer struct {
	embedder  llm.Embedder
	index     semantic.Index
	batchSize int
	log       *slog.Logger
}

// NewIndexer creates an Indexer. batchSize <= 0 means EmbedBatchSize.
func NewIndexer(embedder llm.Embedder, index semantic.Index, batchSize int, log *slog.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = EmbedBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{embedder: embedder, index: index, batchSize: batchSize, log: log}
}

// Upsert embeds and stores chunks in collection, creating it if needed. It
// returns how many chunks were written before any error.
func (ix *Indexer) Upsert(ctx context.Context, collection string, chunks []domain.Chunk) (int, error) {
	written := 0
	for i, batch := range fn.Chunk(chunks, ix.batchSize) {
		texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return written, domain.Upstream(fmt.Sprintf("ingest: embed batch %d", i), err)
		}
		if len(vecs) != len(batch) {
			return written, domain.Upstream("ingest: embed", fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(batch)))
		}
		records := make([]semantic.VectorRecord, len(batch))
		for j, c := range batch {
			records[j] = semantic.VectorRecord{ID: uuid.NewString(), Embedding: vecs[j], Chunk: c}
		}
		if err := ix.index.Upsert(ctx, collection, records); err != nil {
			return written, fmt.Errorf("ingest: upsert batch %d: %w", i, err)
		}
		written += len(batch)
		ix.log.Debug("ingest: batch stored", "collection", collection, "batch", i, "chunks", len(batch))
	}
	return written, nil
}

// DeleteCollection drops every chunk in collection. It cannot be undone.
func (ix *Indexer) DeleteCollection(ctx context.Context, collection string) error {
	if err := ix.index.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("ingest: delete collection %s: %w", collection, err)
	}
	return nil
}
