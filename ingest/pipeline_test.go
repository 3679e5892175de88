package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancerag/types"
)

type fakeParser struct {
	text  string
	err   error
	calls int
}

func (f *fakeParser) Parse(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

// pipelineEnv holds the durable pieces so tests can re-run ingestion against
// the same cache, manifest and index.
type pipelineEnv struct {
	cacheDir    string
	manifestDir string
	index       *fakeIndex
	manifest    *FileManifestStore
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	root := t.TempDir()
	manifest, err := NewFileManifestStore(filepath.Join(root, "manifest"))
	require.NoError(t, err)
	return &pipelineEnv{
		cacheDir:    filepath.Join(root, "cache"),
		manifestDir: filepath.Join(root, "manifest"),
		index:       newFakeIndex(),
		manifest:    manifest,
	}
}

func (e *pipelineEnv) newPipeline(t *testing.T, parser DocParser, embedder *fakeEmbedder) *Pipeline {
	t.Helper()
	cache, err := NewEmbedCache(e.cacheDir)
	require.NoError(t, err)

	batcher := NewBatchEmbedder(embedder, cache, 2)
	batcher.retryInterval = time.Millisecond
	writer := NewIndexWriter(e.index)
	writer.retryInterval = time.Millisecond

	chunker := NewChunker(embedder.ModelID(), 0, 0, 16, 4)
	return NewPipeline(parser, chunker, batcher, writer, e.manifest)
}

const sampleText = "Appeals for financial penalties must be submitted within 30 days of the notice date."

func TestIngestFirstRun(t *testing.T) {
	env := newPipelineEnv(t)
	embedder := &fakeEmbedder{}
	p := env.newPipeline(t, &fakeParser{text: sampleText}, embedder)

	report, err := p.Ingest(context.Background(), "/docs/appeals.txt", "appeals")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, report.Status)
	assert.Equal(t, "appeals", report.DocID)
	assert.NotEmpty(t, report.IngestRunID)
	assert.Greater(t, report.TotalChunks, 1)
	assert.Equal(t, report.TotalChunks, report.NewEmbeddings)
	assert.Zero(t, report.CachedEmbeddings)
	assert.Zero(t, report.FailedUpserts)
	assert.Len(t, env.index.records, report.TotalChunks)

	entry, err := env.manifest.Load(context.Background(), "appeals")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.StatusCompleted, entry.Status)
	assert.Len(t, entry.Chunks, report.TotalChunks)
	for _, rec := range entry.Chunks {
		assert.Equal(t, types.ChunkCompleted, rec.Status)
		assert.Equal(t, "appeals", rec.Metadata.DocID)
	}
}

func TestIngestIdempotentReingestion(t *testing.T) {
	env := newPipelineEnv(t)
	embedder := &fakeEmbedder{}
	p := env.newPipeline(t, &fakeParser{text: sampleText}, embedder)
	ctx := context.Background()

	first, err := p.Ingest(ctx, "/docs/appeals.txt", "appeals")
	require.NoError(t, err)
	recordsAfterFirst := len(env.index.records)
	callsAfterFirst := len(embedder.calls)

	second, err := p.Ingest(ctx, "/docs/appeals.txt", "appeals")
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, second.Status)
	assert.Equal(t, first.TotalChunks, second.TotalChunks)
	assert.Zero(t, second.NewEmbeddings)
	assert.Equal(t, second.TotalChunks, second.CachedEmbeddings)
	assert.Len(t, embedder.calls, callsAfterFirst, "no recomputation on re-ingestion")
	assert.Len(t, env.index.records, recordsAfterFirst, "index record count unchanged")
}

func TestIngestEmptyDocument(t *testing.T) {
	env := newPipelineEnv(t)
	embedder := &fakeEmbedder{}
	p := env.newPipeline(t, &fakeParser{text: "   \n\t  "}, embedder)

	report, err := p.Ingest(context.Background(), "/docs/blank.txt", "blank")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmptyDocument)

	assert.Equal(t, types.StatusFailedEmpty, report.Status)
	assert.Zero(t, report.TotalChunks)
	assert.Zero(t, report.NewEmbeddings)
	assert.Empty(t, embedder.calls, "no embedding for empty documents")
	assert.Zero(t, env.index.attempts, "no upsert for empty documents")

	entry, err := env.manifest.Load(context.Background(), "blank")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, types.StatusFailedEmpty, entry.Status)
}

func TestIngestModelChangeForcesReembedding(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	first, err := env.newPipeline(t, &fakeParser{text: sampleText}, &fakeEmbedder{modelID: "model-a"}).
		Ingest(ctx, "/docs/appeals.txt", "appeals")
	require.NoError(t, err)

	entryA, err := env.manifest.Load(ctx, "appeals")
	require.NoError(t, err)
	keysA := make(map[string]struct{}, len(entryA.Chunks))
	for key := range entryA.Chunks {
		keysA[key] = struct{}{}
	}

	second, err := env.newPipeline(t, &fakeParser{text: sampleText}, &fakeEmbedder{modelID: "model-b"}).
		Ingest(ctx, "/docs/appeals.txt", "appeals")
	require.NoError(t, err)

	assert.Equal(t, second.TotalChunks, second.NewEmbeddings, "different model must miss the cache entirely")
	assert.Equal(t, first.TotalChunks, second.TotalChunks)

	entryB, err := env.manifest.Load(ctx, "appeals")
	require.NoError(t, err)
	disjoint := 0
	for key := range entryB.Chunks {
		if _, ok := keysA[key]; !ok {
			disjoint++
		}
	}
	assert.GreaterOrEqual(t, disjoint, second.TotalChunks, "model change must produce a disjoint key set")
}

func TestIngestUpsertRetryExhaustion(t *testing.T) {
	env := newPipelineEnv(t)
	env.index.failures = 10
	embedder := &fakeEmbedder{}
	p := env.newPipeline(t, &fakeParser{text: sampleText}, embedder)

	report, err := p.Ingest(context.Background(), "/docs/appeals.txt", "appeals")
	require.NoError(t, err, "upsert failure degrades the status, it does not abort the run")

	assert.Equal(t, types.StatusCompletedWithErrors, report.Status)
	assert.Equal(t, report.TotalChunks, report.FailedUpserts)
	assert.Equal(t, 2, env.index.attempts, "exactly two upsert attempts")

	entry, lerr := env.manifest.Load(context.Background(), "appeals")
	require.NoError(t, lerr)
	for _, rec := range entry.Chunks {
		assert.Equal(t, types.ChunkUpsertFailed, rec.Status)
	}
}

func TestIngestParseFailure(t *testing.T) {
	env := newPipelineEnv(t)
	parseErr := errors.New("converter exploded")
	p := env.newPipeline(t, &fakeParser{err: parseErr}, &fakeEmbedder{})

	report, err := p.Ingest(context.Background(), "/docs/bad.pdf", "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, parseErr)
	assert.Equal(t, types.StatusFailed, report.Status)

	entry, lerr := env.manifest.Load(context.Background(), "bad")
	require.NoError(t, lerr)
	assert.Equal(t, types.StatusFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "converter exploded")
}

func TestIngestEmbeddingFailure(t *testing.T) {
	env := newPipelineEnv(t)
	embedder := &fakeEmbedder{failures: 100}
	p := env.newPipeline(t, &fakeParser{text: sampleText}, embedder)

	report, err := p.Ingest(context.Background(), "/docs/appeals.txt", "appeals")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmbeddingFailed)
	assert.Equal(t, types.StatusFailed, report.Status)
	assert.Zero(t, env.index.attempts, "nothing reaches the index when embedding fails")

	entry, lerr := env.manifest.Load(context.Background(), "appeals")
	require.NoError(t, lerr)
	assert.Equal(t, types.StatusFailed, entry.Status)
	assert.NotEmpty(t, entry.ErrorMessage)
}
