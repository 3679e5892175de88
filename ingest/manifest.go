package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"compliancerag/types"
)

// ManifestStore persists per-document ingestion ledgers. One storage unit per
// doc_id: concurrent ingestion of different documents never read-modify-writes
// a shared record.
type ManifestStore interface {
	// Load returns the entry for docID, or nil when none exists yet.
	Load(ctx context.Context, docID string) (*types.ManifestEntry, error)
	Save(ctx context.Context, entry *types.ManifestEntry) error
}

// FileManifestStore keeps one JSON document per doc_id under dir. Saves go
// through a temp file and rename, so an entry on disk is always complete.
type FileManifestStore struct {
	dir string
}

func NewFileManifestStore(dir string) (*FileManifestStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating manifest dir: %w", err)
	}
	return &FileManifestStore{dir: dir}, nil
}

func (s *FileManifestStore) Load(_ context.Context, docID string) (*types.ManifestEntry, error) {
	data, err := os.ReadFile(s.path(docID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entry types.ManifestEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt manifest entry for %s: %w", docID, err)
	}
	if entry.Chunks == nil {
		entry.Chunks = make(map[string]types.ChunkRecord)
	}
	return &entry, nil
}

func (s *FileManifestStore) Save(_ context.Context, entry *types.ManifestEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "manifest.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(entry.DocID))
}

func (s *FileManifestStore) path(docID string) string {
	return filepath.Join(s.dir, sanitizeDocID(docID)+".json")
}

// sanitizeDocID keeps the filename filesystem-safe. Doc ids are file stems in
// practice, so this rarely rewrites anything.
func sanitizeDocID(docID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, docID)
}
