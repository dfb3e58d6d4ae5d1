// Package retrieval implements the retrieval provider dependency:
// top-K document lookup against a vector index, scoped by user and
// filters. The postgres implementation uses a pgvector column, cosine
// distance via the `<=>` operator, and `1 - distance AS score`.
//
// The RAG agent embeds the query itself via the embeddings provider
// and passes the resulting vector here — Search never embeds text on
// its own, so callers control exactly which embedding model produced
// the query vector.
package retrieval

import "context"

// Document is a single retrieval hit.
type Document struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// SearchOptions scopes a retrieval call.
type SearchOptions struct {
	UserID   string // scope to a single user's documents, when set
	ThreadID string // scope to a single conversation, when set
	Filters  map[string]any
}

// Provider is the retrieval dependency. Implementations never return
// NotFound; an empty slice signals no match.
type Provider interface {
	Search(ctx context.Context, queryVector []float32, k int, opts SearchOptions) ([]Document, error)
}

// DefaultK is the top-K default used when a caller doesn't override it.
const DefaultK = 10
