package types

import "errors"

// Error kinds surfaced by the pipeline and retrieval path. Collaborator
// failures are wrapped around these sentinels so callers can branch with
// errors.Is.
var (
	ErrNotFound             = errors.New("source file not found")
	ErrUnsupportedFormat    = errors.New("unsupported document format")
	ErrEmptyDocument        = errors.New("no extractable text")
	ErrEmbeddingUnavailable = errors.New("embedding model unavailable")
	ErrEmbeddingFailed      = errors.New("embedding failed after retries")
	ErrIndexUpsertFailed    = errors.New("index upsert failed after retries")
	ErrIndexUnavailable     = errors.New("vector index unavailable")
	ErrGenerationFailed     = errors.New("answer generation failed")
)
