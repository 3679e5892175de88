package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"compliancerag/model"
	"compliancerag/types"
)

// Index is the read side of the vector index.
type Index interface {
	Query(ctx context.Context, vector []float32, k int) ([]types.RetrievedChunk, error)
}

// Retriever runs the two-stage retrieval: a wide cosine-similarity pass over
// the vector index, then a cross-encoder rerank of the candidate pool. The
// embedder must be the one used at ingestion time; mismatched models degrade
// results silently since the vector spaces differ.
type Retriever struct {
	logger   *slog.Logger
	embedder model.Embedder
	index    Index
	scorer   model.Scorer
}

func NewRetriever(embedder model.Embedder, index Index, scorer model.Scorer) *Retriever {
	return &Retriever{
		logger:   slog.Default(),
		embedder: embedder,
		index:    index,
		scorer:   scorer,
	}
}

// Retrieve returns at most rerankK chunks for the query. Zero candidates
// from the index means "no relevant information" and yields an empty result,
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, topK, rerankK int) ([]types.RetrievedChunk, error) {
	vec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Over-sample so the reranker has a meaningful pool: at least 3x the
	// final count, or topK when the caller wants more raw candidates.
	initialK := rerankK * 3
	if topK > initialK {
		initialK = topK
	}
	r.logger.Info("querying index", "initial_k", initialK, "rerank_k", rerankK)

	candidates, err := r.index.Query(ctx, vec, initialK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []types.RetrievedChunk{}, nil
	}

	if len(candidates) > rerankK && rerankK > 0 && r.scorer != nil {
		return r.rerank(ctx, queryText, candidates, rerankK)
	}

	// Too few candidates to rerank, or reranking disabled: keep the vector
	// similarity order.
	if rerankK < 0 {
		rerankK = 0
	}
	if len(candidates) > rerankK {
		candidates = candidates[:rerankK]
	}
	return candidates, nil
}

func (r *Retriever) rerank(ctx context.Context, queryText string, candidates []types.RetrievedChunk, rerankK int) ([]types.RetrievedChunk, error) {
	r.logger.Info("reranking candidates", "count", len(candidates), "keep", rerankK)

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Document
	}

	scores, err := r.scorer.ScoreAll(ctx, queryText, documents)
	if err != nil {
		return nil, fmt.Errorf("scoring candidates: %w", err)
	}

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	out := make([]types.RetrievedChunk, 0, rerankK)
	for _, i := range idx[:rerankK] {
		out = append(out, candidates[i])
	}
	return out, nil
}
