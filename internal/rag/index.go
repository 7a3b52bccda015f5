package rag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"edgeflow/models"
)

// ChunkStore is the slice of the persistence layer the index needs.
type ChunkStore interface {
	InsertChunk(ctx context.Context, chunk *models.ArticleChunk) error
	ListChunks(ctx context.Context) ([]models.ArticleChunk, error)
}

// ScoredChunk pairs a stored chunk with its cosine distance to the
// query vector. Smaller is more similar.
type ScoredChunk struct {
	Chunk    models.ArticleChunk
	Distance float64
}

// VectorIndex stores chunks with their embeddings and answers
// nearest-neighbor queries. Ranking scans all stored vectors in memory;
// the corpus is small enough that no approximate index is needed.
type VectorIndex struct {
	store ChunkStore
}

func NewVectorIndex(store ChunkStore) *VectorIndex {
	return &VectorIndex{store: store}
}

// Insert stores a chunk. Re-inserting an existing (source_url,
// chunk_index) pair is a no-op.
func (ix *VectorIndex) Insert(ctx context.Context, chunk *models.ArticleChunk) error {
	return ix.store.InsertChunk(ctx, chunk)
}

// Query returns the k chunks closest to the query vector by cosine
// distance, ascending. Ties break toward the most recently published
// chunk. Chunks without an embedding are skipped.
func (ix *VectorIndex) Query(ctx context.Context, query models.Vector, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	chunks, err := ix.store.ListChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != len(query) {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk:    chunk,
			Distance: CosineDistance(query, chunk.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		pi, pj := scored[i].Chunk.PublishedAt, scored[j].Chunk.PublishedAt
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.After(*pj)
		}
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// CosineDistance is 1 minus the cosine similarity of a and b. Vectors
// with zero norm are maximally distant.
func CosineDistance(a, b models.Vector) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
