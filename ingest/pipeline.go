package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"compliancerag/types"
)

// DocParser is the document parsing boundary: path in, plain text out.
type DocParser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// Pipeline ingests one document end to end: parse, chunk, resolve embeddings
// through the cache, upsert the chunk set, and persist the manifest entry.
// The manifest is written before every return, success or failure.
type Pipeline struct {
	logger   *slog.Logger
	parser   DocParser
	chunker  *Chunker
	embedder *BatchEmbedder
	writer   *IndexWriter
	manifest ManifestStore
}

func NewPipeline(parser DocParser, chunker *Chunker, embedder *BatchEmbedder, writer *IndexWriter, manifest ManifestStore) *Pipeline {
	return &Pipeline{
		logger:   slog.Default(),
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		writer:   writer,
		manifest: manifest,
	}
}

// Ingest runs the pipeline for one document. The returned report is valid
// even when err is non-nil; its Status tells the caller how far the run got.
func (p *Pipeline) Ingest(ctx context.Context, filePath, docID string) (*types.Report, error) {
	u := uuid.New()
	runID := fmt.Sprintf("run_%x", u[:4])
	start := time.Now()
	log := p.logger.With("run_id", runID, "doc_id", docID)
	log.Info("starting ingestion", "file", filePath)

	entry, err := p.manifest.Load(ctx, docID)
	if err != nil {
		return p.report(runID, docID, types.StatusFailed, 0, 0, 0, start), err
	}
	if entry == nil {
		entry = types.NewManifestEntry(docID)
	}
	entry.Status = types.StatusProcessing
	entry.ErrorMessage = ""

	text, err := p.parser.Parse(ctx, filePath)
	if err != nil {
		return p.fail(ctx, log, entry, runID, start, err)
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("document has no extractable text")
		entry.Status = types.StatusFailedEmpty
		if serr := p.manifest.Save(ctx, entry); serr != nil {
			log.Error("failed to persist manifest", "error", serr)
		}
		return p.report(runID, docID, types.StatusFailedEmpty, 0, 0, 0, start),
			fmt.Errorf("%w: %s", types.ErrEmptyDocument, docID)
	}

	chunks := p.chunker.Chunk(docID, p.embedder.ModelID(), text)
	log.Info("document chunked", "chunks", len(chunks))

	metadatas := make([]types.ChunkMetadata, len(chunks))
	for i, ch := range chunks {
		metadatas[i] = types.ChunkMetadata{
			DocID:     docID,
			FilePath:  filePath,
			StartChar: ch.Start,
			EndChar:   ch.End,
			ChunkKey:  ch.Key,
		}
	}

	vectors, newCount, err := p.embedder.EmbedAll(ctx, chunks)
	if err != nil {
		return p.fail(ctx, log, entry, runID, start, err)
	}

	statuses, werr := p.writer.Write(ctx, chunks, vectors, metadatas)
	if werr != nil {
		log.Error("failed to upsert chunk set after retries", "error", werr)
	}

	failedUpserts := 0
	for i, ch := range chunks {
		if statuses[i] == types.ChunkUpsertFailed {
			failedUpserts++
		}
		entry.Chunks[ch.Key] = types.ChunkRecord{
			Status:   statuses[i],
			Metadata: metadatas[i],
		}
	}

	finalStatus := types.StatusCompleted
	if failedUpserts > 0 {
		finalStatus = types.StatusCompletedWithErrors
	}
	entry.Status = finalStatus
	if err := p.manifest.Save(ctx, entry); err != nil {
		return p.report(runID, docID, finalStatus, len(chunks), newCount, failedUpserts, start),
			fmt.Errorf("persisting manifest: %w", err)
	}

	report := p.report(runID, docID, finalStatus, len(chunks), newCount, failedUpserts, start)
	log.Info("ingestion finished",
		"status", report.Status,
		"total_chunks", report.TotalChunks,
		"new_embeddings", report.NewEmbeddings,
		"cached_embeddings", report.CachedEmbeddings,
		"failed_upserts", report.FailedUpserts,
		"elapsed", report.ElapsedSeconds)
	return report, nil
}

// fail records a terminal failure in the manifest before returning.
func (p *Pipeline) fail(ctx context.Context, log *slog.Logger, entry *types.ManifestEntry, runID string, start time.Time, cause error) (*types.Report, error) {
	log.Error("ingestion failed", "error", cause)
	entry.Status = types.StatusFailed
	entry.ErrorMessage = cause.Error()
	if serr := p.manifest.Save(ctx, entry); serr != nil {
		log.Error("failed to persist manifest", "error", serr)
	}
	return p.report(runID, entry.DocID, types.StatusFailed, 0, 0, 0, start), cause
}

func (p *Pipeline) report(runID, docID string, status types.DocStatus, total, created, failed int, start time.Time) *types.Report {
	return &types.Report{
		IngestRunID:      runID,
		DocID:            docID,
		Status:           status,
		TotalChunks:      total,
		NewEmbeddings:    created,
		CachedEmbeddings: total - created,
		ElapsedSeconds:   time.Since(start).Seconds(),
		FailedUpserts:    failed,
	}
}
