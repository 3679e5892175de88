package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"compliancerag/model"
	"compliancerag/types"
)

const (
	DefaultBatchSize  = 64
	embedMaxAttempts  = 3
	upsertMaxAttempts = 2
)

// BatchEmbedder resolves embeddings for a document's chunk set: cache hits
// are served from the EmbedCache, misses are embedded in bounded batches with
// retry and written through to the cache before the next batch starts. The
// result preserves chunk order regardless of which vectors were cached.
type BatchEmbedder struct {
	embedder  model.Embedder
	cache     *EmbedCache
	batchSize int

	// retryInterval seeds the exponential backoff; tests shrink it.
	retryInterval time.Duration
}

func NewBatchEmbedder(embedder model.Embedder, cache *EmbedCache, batchSize int) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchEmbedder{
		embedder:      embedder,
		cache:         cache,
		batchSize:     batchSize,
		retryInterval: 500 * time.Millisecond,
	}
}

func (b *BatchEmbedder) ModelID() string {
	return b.embedder.ModelID()
}

// EmbedAll returns one vector per chunk, in chunk order, plus the number of
// newly computed embeddings. A batch that still fails after retries fails the
// whole call: sub-batch partial success is not tracked.
func (b *BatchEmbedder) EmbedAll(ctx context.Context, chunks []types.Chunk) ([][]float32, int, error) {
	byKey := make(map[string][]float32, len(chunks))

	var missKeys []string
	var missTexts []string
	for _, ch := range chunks {
		if _, seen := byKey[ch.Key]; seen {
			continue
		}
		vec, ok, err := b.cache.Get(ch.Key)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			byKey[ch.Key] = vec
			continue
		}
		missKeys = append(missKeys, ch.Key)
		missTexts = append(missTexts, ch.Text)
	}

	newCount := len(missKeys)
	for i := 0; i < len(missTexts); i += b.batchSize {
		end := i + b.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}

		vecs, err := b.embedBatch(ctx, missTexts[i:end])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", types.ErrEmbeddingFailed, err)
		}

		for j, vec := range vecs {
			key := missKeys[i+j]
			if err := b.cache.Put(key, vec); err != nil {
				return nil, 0, fmt.Errorf("caching embedding %s: %w", key, err)
			}
			byKey[key] = vec
		}
	}

	out := make([][]float32, len(chunks))
	for i, ch := range chunks {
		out[i] = byKey[ch.Key]
	}
	return out, newCount, nil
}

func (b *BatchEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	slog.Info("embedding batch", "size", len(texts))

	var vecs [][]float32
	op := func() error {
		var err error
		vecs, err = b.embedder.EmbedBatch(ctx, texts)
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("embedding batch failed, retrying", "error", err, "wait", wait)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.retryInterval
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, embedMaxAttempts-1), ctx), notify); err != nil {
		return nil, err
	}
	return vecs, nil
}
