package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"compliancerag/types"
)

// Upserter is the vector index boundary: one idempotent upsert for a
// document's full chunk set.
type Upserter interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []types.ChunkMetadata, documents []string) error
}

// IndexWriter pushes a document's chunk set into the vector index with
// bounded retry. The whole set goes in one call; after retry exhaustion
// every chunk is reported failed, since the index gives no per-chunk
// feedback post-failure.
type IndexWriter struct {
	index Upserter

	retryInterval time.Duration
}

func NewIndexWriter(index Upserter) *IndexWriter {
	return &IndexWriter{
		index:         index,
		retryInterval: 500 * time.Millisecond,
	}
}

// Write upserts the chunk set and returns a status per chunk. The error, if
// any, wraps ErrIndexUpsertFailed; callers still get the status slice.
func (w *IndexWriter) Write(ctx context.Context, chunks []types.Chunk, vectors [][]float32, metadatas []types.ChunkMetadata) ([]types.ChunkStatus, error) {
	statuses := make([]types.ChunkStatus, len(chunks))
	if len(chunks) == 0 {
		return statuses, nil
	}

	ids := make([]string, len(chunks))
	documents := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.Key
		documents[i] = ch.Text
	}

	slog.Info("upserting chunk set", "size", len(ids))

	op := func() error {
		return w.index.Upsert(ctx, ids, vectors, metadatas, documents)
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("index upsert failed, retrying", "error", err, "wait", wait)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryInterval
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, upsertMaxAttempts-1), ctx), notify)
	if err != nil {
		for i := range statuses {
			statuses[i] = types.ChunkUpsertFailed
		}
		return statuses, fmt.Errorf("%w: %v", types.ErrIndexUpsertFailed, err)
	}

	for i := range statuses {
		statuses[i] = types.ChunkCompleted
	}
	return statuses, nil
}
