package api

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"compliancerag/types"
)

// Ingestor runs the ingestion pipeline for one uploaded document.
type Ingestor interface {
	Ingest(ctx context.Context, filePath, docID string) (*types.Report, error)
}

// Retriever runs the two-stage retrieval for a query.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, topK, rerankK int) ([]types.RetrievedChunk, error)
}

// Generator produces an answer from retrieved chunks.
type Generator interface {
	Generate(ctx context.Context, chunks []types.RetrievedChunk, question string) (string, error)
}

// DocReader serves document status lookups: the manifest ledger plus the
// number of chunks actually present in the index.
type DocReader interface {
	Load(ctx context.Context, docID string) (*types.ManifestEntry, error)
}

// ChunkCounter reports how many chunks the vector index holds for a document.
type ChunkCounter interface {
	CountByDoc(ctx context.Context, docID string) (int, error)
}

type RequestHandler struct {
	ingestor  Ingestor
	retriever Retriever
	generator Generator
	manifest  DocReader
	counter   ChunkCounter
	uploadDir string
}

func NewRequestHandler(ingestor Ingestor, retriever Retriever, generator Generator, manifest DocReader, counter ChunkCounter, uploadDir string) *RequestHandler {
	return &RequestHandler{
		ingestor:  ingestor,
		retriever: retriever,
		generator: generator,
		manifest:  manifest,
		counter:   counter,
		uploadDir: uploadDir,
	}
}

// HandleIngest receives a document, saves it to the upload dir and runs the
// ingestion pipeline. The doc_id defaults to the file stem. The upload is
// removed after the run; the manifest and index keep the durable state.
func (h *RequestHandler) HandleIngest(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	params := types.IngestParams{DocID: c.FormValue("doc_id")}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	docID := params.DocID
	if docID == "" {
		docID = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	tempPath := filepath.Join(h.uploadDir, uuid.NewString()+"_"+filepath.Base(file.Filename))
	if err := c.SaveFile(file, tempPath); err != nil {
		return err
	}
	defer os.Remove(tempPath)

	report, err := h.ingestor.Ingest(c.Context(), tempPath, docID)
	if err != nil {
		// The report still tells the caller how far the run got; terminal
		// statuses like failed_empty carry it in the error payload.
		apiErr := fromDomainError(err)
		return c.Status(apiErr.Code).JSON(fiber.Map{
			"error":  apiErr.Message,
			"report": report,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Successfully ingested " + file.Filename,
		"report":  report,
	})
}

// HandleQuery embeds the query, retrieves and reranks chunks, and generates
// an answer grounded in them.
func (h *RequestHandler) HandleQuery(c *fiber.Ctx) error {
	params := types.QueryParams{TopK: 5, RerankK: 3}
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	chunks, err := h.retriever.Retrieve(c.Context(), params.QueryText, params.TopK, params.RerankK)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "No relevant documents found for retrieval.",
		})
	}

	answer, err := h.generator.Generate(c.Context(), chunks, params.QueryText)
	if err != nil {
		return err
	}

	return c.JSON(types.QueryResponse{
		Query:   params.QueryText,
		Answer:  answer,
		Sources: chunks,
	})
}

// HandleDocStatus reports the ingestion ledger for one document together with
// the number of chunks the index currently holds for it.
func (h *RequestHandler) HandleDocStatus(c *fiber.Ctx) error {
	docID := c.Params("doc_id")

	entry, err := h.manifest.Load(c.Context(), docID)
	if err != nil {
		return err
	}
	if entry == nil {
		return NewError(fiber.StatusNotFound, "unknown document: "+docID)
	}

	indexed, err := h.counter.CountByDoc(c.Context(), docID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"doc_id":         entry.DocID,
		"status":         entry.Status,
		"error_message":  entry.ErrorMessage,
		"total_chunks":   len(entry.Chunks),
		"indexed_chunks": indexed,
	})
}
