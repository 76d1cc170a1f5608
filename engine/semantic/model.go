// Package semantic owns the vector index. Two backends implement Index: a
// local SQLite file (the default) and Qdrant over gRPC.
package semantic

import (
	"context"

	"github.com/complimo/complimo/engine/domain"
)

// VectorRecord is a chunk with its embedding, ready to store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Chunk     domain.Chunk
}

// SearchResult is a single similarity hit. Higher Score is more similar.
type SearchResult struct {
	ID    string       `json:"id"`
	Score float32      `json:"score"`
	Chunk domain.Chunk `json:"chunk"`
}

// Index is a persistent, collection-scoped vector store.
//
// Upsert creates the collection on first use and appends otherwise.
// Search and List on a collection that does not exist return an error
// matching domain.ErrIndexUnavailable. DeleteCollection is idempotent.
type Index interface {
	Upsert(ctx context.Context, collection string, records []VectorRecord) error
	Search(ctx context.Context, collection string, embedding []float32, k int) ([]SearchResult, error)
	List(ctx context.Context, collection string, limit int) ([]domain.Chunk, error)
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// Payload keys used by backends that store chunks as flat documents.
const (
	payloadText       = "content"
	payloadSourcePath = "source_path"
	payloadSeq        = "seq"
)
