package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EmbedCache is a content-addressed, file-per-key store of embedding vectors.
// Entries are written once and never updated: the vector for a given chunk
// key is deterministic, so a concurrent duplicate write is benign. Get never
// touches the network. Pruning is an operational concern, not the cache's.
type EmbedCache struct {
	dir string
}

func NewEmbedCache(dir string) (*EmbedCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating embed cache dir: %w", err)
	}
	return &EmbedCache{dir: dir}, nil
}

// Get returns the cached vector for key, or ok=false when absent.
func (c *EmbedCache) Get(key string) ([]float32, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return vec, true, nil
}

// Put stores the vector for key. Writes go through a temp file and rename so
// a reader never observes a partial entry. Re-writing an existing key with
// the same vector is a no-op in effect.
func (c *EmbedCache) Put(key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, key+".tmp")
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
	return os.Rename(tmp.Name(), c.path(key))
}

func (c *EmbedCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
