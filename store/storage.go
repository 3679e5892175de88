package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"compliancerag/types"
)

// VectorIndexer is the vector index boundary: idempotent upsert keyed by
// chunk key, and nearest-neighbour query by cosine distance.
type VectorIndexer interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []types.ChunkMetadata, documents []string) error
	Query(ctx context.Context, vector []float32, k int) ([]types.RetrievedChunk, error)
	CountByDoc(ctx context.Context, docID string) (int, error)
}

// PostgresStore backs the vector index with Postgres + pgvector.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

var _ VectorIndexer = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connStr string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, dim: dim}, nil
}

// Pool exposes the underlying connection pool so sibling stores can share it.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStore) Init(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_key TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		embedding vector(%d)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`, p.dim)

	_, err := p.pool.Exec(ctx, query)
	return err
}

// Upsert writes a document's chunk set. Re-upserting an existing chunk key
// overwrites the row with identical content, so repeated ingestion leaves the
// index record count unchanged.
func (p *PostgresStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadatas []types.ChunkMetadata, documents []string) error {
	query := `
	INSERT INTO chunks (chunk_key, doc_id, content, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (chunk_key) DO UPDATE SET
		doc_id = EXCLUDED.doc_id,
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding
	`
	for i, id := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return err
		}
		_, err = p.pool.Exec(ctx, query,
			id, metadatas[i].DocID, documents[i], meta, pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Query returns the k nearest chunks by cosine distance, closest first.
func (p *PostgresStore) Query(ctx context.Context, vector []float32, k int) ([]types.RetrievedChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	query := `
	SELECT chunk_key, content, metadata, embedding <=> $1 AS distance
	FROM chunks
	WHERE embedding IS NOT NULL
	ORDER BY embedding <=> $1
	LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
		}
		return nil, err
	}
	defer rows.Close()

	var chunks []types.RetrievedChunk
	for rows.Next() {
		var chunk types.RetrievedChunk
		var meta []byte
		if err := rows.Scan(&chunk.ID, &chunk.Document, &meta, &chunk.Distance); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &chunk.Metadata); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountByDoc reports how many chunks the index holds for a document.
func (p *PostgresStore) CountByDoc(ctx context.Context, docID string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM chunks WHERE doc_id = $1", docID).Scan(&count)
	return count, err
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		slog.Info("postgres connection pool closed")
	}
	return nil
}
