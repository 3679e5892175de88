package types

// DocStatus is the terminal (or in-flight) ingestion status of a document.
type DocStatus string

const (
	StatusProcessing          DocStatus = "processing"
	StatusCompleted           DocStatus = "completed"
	StatusCompletedWithErrors DocStatus = "completed_with_errors"
	StatusFailed              DocStatus = "failed"
	StatusFailedEmpty         DocStatus = "failed_empty"
)

// ChunkStatus is the per-chunk outcome recorded in the manifest.
type ChunkStatus string

const (
	ChunkCompleted    ChunkStatus = "completed"
	ChunkUpsertFailed ChunkStatus = "upsert_failed"
)

// Chunk is a contiguous text window of a source document. Offsets are
// character positions into the parsed text; under token-based chunking they
// are advisory when the tokenizer normalizes the decoded text.
type Chunk struct {
	DocID   string
	Text    string
	Start   int
	End     int
	ModelID string
	Key     string
}

// ChunkMetadata travels with a chunk into the vector index and the manifest.
type ChunkMetadata struct {
	DocID     string `json:"doc_id"`
	FilePath  string `json:"file_path"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	ChunkKey  string `json:"chunk_key"`
}

// ChunkRecord is one manifest row: what happened to a single chunk.
type ChunkRecord struct {
	Status   ChunkStatus   `json:"status"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ManifestEntry is the durable per-document ingestion ledger. One storage
// unit per doc_id, so concurrent ingestion of different documents never
// shares a write.
type ManifestEntry struct {
	DocID        string                 `json:"doc_id"`
	Status       DocStatus              `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Chunks       map[string]ChunkRecord `json:"chunks"`
}

// NewManifestEntry returns a fresh entry in the processing state.
func NewManifestEntry(docID string) *ManifestEntry {
	return &ManifestEntry{
		DocID:  docID,
		Status: StatusProcessing,
		Chunks: make(map[string]ChunkRecord),
	}
}

// RetrievedChunk is a query-scoped result: id is the chunk key, distance is
// the cosine distance reported by the vector index (lower is closer).
type RetrievedChunk struct {
	ID       string        `json:"id"`
	Distance float64       `json:"distance"`
	Document string        `json:"document"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Report summarizes one ingestion run.
type Report struct {
	IngestRunID      string    `json:"ingest_run_id"`
	DocID            string    `json:"doc_id"`
	Status           DocStatus `json:"status"`
	TotalChunks      int       `json:"total_chunks"`
	NewEmbeddings    int       `json:"new_embeddings"`
	CachedEmbeddings int       `json:"cached_embeddings"`
	ElapsedSeconds   float64   `json:"elapsed_time_seconds"`
	FailedUpserts    int       `json:"failed_upserts"`
}
