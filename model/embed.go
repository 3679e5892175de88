package model

import "context"

// Embedder produces vector representations of text. Implementations are
// stateless after construction and safe for concurrent use, so one instance
// serves ingestion and retrieval simultaneously.
type Embedder interface {
	// ModelID identifies the embedding model; it is folded into chunk keys
	// so that switching models invalidates every cached vector.
	ModelID() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scorer rates the relevance of a (query, document) pair. Higher is more
// relevant. Backed by a cross-encoder collaborator.
type Scorer interface {
	ScoreAll(ctx context.Context, query string, documents []string) ([]float64, error)
}
