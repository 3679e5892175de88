package ingest

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"compliancerag/types"
)

const (
	DefaultTokenWindow  = 200
	DefaultTokenOverlap = 30
	DefaultCharWindow   = 2800
	DefaultCharOverlap  = 480
)

// Chunker splits raw text into overlapping windows. When a tiktoken encoding
// exists for the embedding model it windows over tokens and decodes each
// window back to text; otherwise it slides directly over characters.
// Chunking is stateless per call, so one Chunker serves all documents.
type Chunker struct {
	enc *tiktoken.Tiktoken

	window  int
	overlap int

	charWindow  int
	charOverlap int
}

// NewChunker selects the strategy once for the given embedding model.
// Zero-valued sizes take the defaults.
func NewChunker(modelID string, window, overlap, charWindow, charOverlap int) *Chunker {
	if window <= 0 {
		window = DefaultTokenWindow
	}
	if overlap < 0 || overlap >= window {
		overlap = DefaultTokenOverlap
	}
	if charWindow <= 0 {
		charWindow = DefaultCharWindow
	}
	if charOverlap < 0 || charOverlap >= charWindow {
		charOverlap = DefaultCharOverlap
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		slog.Warn("no tokenizer for model, falling back to character chunking",
			"model", modelID, "chunk_size", charWindow, "overlap", charOverlap)
		enc = nil
	}

	return &Chunker{
		enc:         enc,
		window:      window,
		overlap:     overlap,
		charWindow:  charWindow,
		charOverlap: charOverlap,
	}
}

// TokenBased reports whether the token-windowed strategy is active.
func (c *Chunker) TokenBased() bool {
	return c.enc != nil
}

// Chunk splits text into ordered windows. Empty or whitespace-only text
// yields no chunks. The last window may be shorter than the configured size.
func (c *Chunker) Chunk(docID, modelID, text string) []types.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.enc == nil {
		return c.chunkByChars(docID, modelID, text)
	}
	return c.chunkByTokens(docID, modelID, text)
}

func (c *Chunker) chunkByChars(docID, modelID, text string) []types.Chunk {
	runes := []rune(text)
	stride := c.charWindow - c.charOverlap

	var chunks []types.Chunk
	for i := 0; i < len(runes); i += stride {
		end := i + c.charWindow
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, newChunk(docID, modelID, string(runes[i:end]), i, end))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func (c *Chunker) chunkByTokens(docID, modelID, text string) []types.Chunk {
	tokens := c.enc.Encode(text, nil, nil)
	stride := c.window - c.overlap
	totalRunes := utf8.RuneCountInString(text)

	var chunks []types.Chunk
	for i := 0; i < len(tokens); i += stride {
		end := i + c.window
		if end > len(tokens) {
			end = len(tokens)
		}
		sub := c.enc.Decode(tokens[i:end])

		// Recover character offsets by locating the decoded window in the
		// source. Tokenizer normalization can make the decoded text differ
		// from the original, in which case the offset is a proportional
		// estimate and advisory only.
		start := 0
		if byteIdx := strings.Index(text, sub); byteIdx >= 0 {
			start = utf8.RuneCountInString(text[:byteIdx])
		} else if len(tokens) > 0 {
			start = int(float64(i) / float64(len(tokens)) * float64(totalRunes))
		}
		chunkEnd := start + utf8.RuneCountInString(sub)

		chunks = append(chunks, newChunk(docID, modelID, sub, start, chunkEnd))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

func newChunk(docID, modelID, text string, start, end int) types.Chunk {
	return types.Chunk{
		DocID:   docID,
		Text:    text,
		Start:   start,
		End:     end,
		ModelID: modelID,
		Key:     ChunkKey(docID, text, start, end, modelID),
	}
}
