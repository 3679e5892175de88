package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"compliancerag/types"
)

// PostgresManifestStore keeps one manifest row per doc_id, upserted whole.
// Different documents never contend on a shared record, which is what makes
// concurrent ingestion calls safe.
type PostgresManifestStore struct {
	pool *pgxpool.Pool
}

func NewPostgresManifestStore(pool *pgxpool.Pool) *PostgresManifestStore {
	return &PostgresManifestStore{pool: pool}
}

func (s *PostgresManifestStore) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ingestion_manifest (
		doc_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		chunks JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresManifestStore) Load(ctx context.Context, docID string) (*types.ManifestEntry, error) {
	entry := &types.ManifestEntry{DocID: docID}
	var chunks []byte
	err := s.pool.QueryRow(ctx,
		"SELECT status, error_message, chunks FROM ingestion_manifest WHERE doc_id = $1", docID,
	).Scan(&entry.Status, &entry.ErrorMessage, &chunks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(chunks, &entry.Chunks); err != nil {
		return nil, err
	}
	if entry.Chunks == nil {
		entry.Chunks = make(map[string]types.ChunkRecord)
	}
	return entry, nil
}

func (s *PostgresManifestStore) Save(ctx context.Context, entry *types.ManifestEntry) error {
	chunks, err := json.Marshal(entry.Chunks)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO ingestion_manifest (doc_id, status, error_message, chunks, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (doc_id) DO UPDATE SET
		status = EXCLUDED.status,
		error_message = EXCLUDED.error_message,
		chunks = EXCLUDED.chunks,
		updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query, entry.DocID, entry.Status, entry.ErrorMessage, chunks)
	return err
}
