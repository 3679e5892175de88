package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is assembled from environment variables once at startup. Every
// collaborator endpoint and tuning knob lives here so nothing reads the
// environment at request time.
type Config struct {
	ServerAddr string `validate:"required"`

	PGHost   string `validate:"required"`
	PGPort   int    `validate:"gt=0"`
	PGUser   string `validate:"required"`
	PGPass   string
	PGDBName string `validate:"required"`

	EmbedURL   string `validate:"required,url"`
	EmbedModel string `validate:"required"`
	EmbedDim   int    `validate:"gt=0"`

	RerankURL string `validate:"omitempty,url"`

	ConverterURL string `validate:"omitempty,url"`

	LLMURL   string `validate:"omitempty,url"`
	LLMModel string

	UploadDir   string `validate:"required"`
	CacheDir    string `validate:"required"`
	ManifestDir string `validate:"required"`

	// ManifestBackend selects where ingestion ledgers live: "postgres" keeps
	// them next to the vectors, "file" writes one JSON per doc_id under
	// ManifestDir.
	ManifestBackend string `validate:"oneof=postgres file"`

	ChunkWindow  int `validate:"gt=0"`
	ChunkOverlap int `validate:"gte=0"`
	CharWindow   int `validate:"gt=0"`
	CharOverlap  int `validate:"gte=0"`
	BatchSize    int `validate:"gt=0"`

	RequestTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:      envOr("SERVER_ADDR", ":8000"),
		PGHost:          envOr("PG_HOST", "localhost"),
		PGPort:          envIntOr("PG_PORT", 5432),
		PGUser:          envOr("PG_USER", "postgres"),
		PGPass:          os.Getenv("PG_PASS"),
		PGDBName:        envOr("PG_DB_NAME", "compliance"),
		EmbedURL:        envOr("OLLAMA_EMBEDDING_URL", "http://localhost:11434"),
		EmbedModel:      envOr("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		EmbedDim:        envIntOr("EMBEDDING_DIM", 768),
		RerankURL:       os.Getenv("RERANK_URL"),
		ConverterURL:    envOr("CONVERTER_URL", "http://localhost:5001/v1/convert/file"),
		LLMURL:          envOr("LLM_URL", "http://localhost:11434"),
		LLMModel:        envOr("LLM_MODEL", "mistral"),
		UploadDir:       envOr("UPLOAD_DIR", "./data/uploads"),
		CacheDir:        envOr("EMBED_CACHE_DIR", "./data/embed_cache"),
		ManifestDir:     envOr("INGESTION_MANIFEST_DIR", "./data/manifest"),
		ManifestBackend: envOr("MANIFEST_BACKEND", "postgres"),
		ChunkWindow:     envIntOr("CHUNK_SIZE_TOKENS", 200),
		ChunkOverlap:    envIntOr("CHUNK_OVERLAP_TOKENS", 30),
		CharWindow:      envIntOr("CHUNK_SIZE_CHARS", 2800),
		CharOverlap:     envIntOr("CHUNK_OVERLAP_CHARS", 480),
		BatchSize:       envIntOr("EMBED_BATCH_SIZE", 64),
		RequestTimeout:  envDurationOr("REQUEST_TIMEOUT", 30*time.Second),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// PostgresDSN builds the keyword/value connection string for pgxpool.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
