package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChunkKey derives the content address of a chunk. Only the first 64
// characters of the text enter the digest: two chunks sharing the same
// prefix, offsets, document and model are treated as the same logical unit.
// The model id is part of the input, so changing the embedding model
// invalidates every key for a document.
func ChunkKey(docID, text string, start, end int, modelID string) string {
	prefix := text
	if r := []rune(text); len(r) > 64 {
		prefix = string(r[:64])
	}
	input := fmt.Sprintf("%s:%d:%d:%s:%s", docID, start, end, prefix, modelID)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
