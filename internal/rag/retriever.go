package rag

import (
	"context"
	"fmt"
)

// Retriever embeds a free-text query and returns the most similar
// stored chunks.
type Retriever struct {
	embedder Embedder
	index    *VectorIndex
}

func NewRetriever(embedder Embedder, index *VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.index.Query(ctx, vector, k)
}
