package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"

	"compliancerag/app/agent"
	"compliancerag/app/api"
	"compliancerag/config"
	"compliancerag/ingest"
	"compliancerag/model"
	"compliancerag/retrieve"
	"compliancerag/store"
)

var fiberConfig = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	pg *store.PostgresStore
}

func New(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.pg != nil {
		s.pg.Close()
	}
	s.logger.Info("server stopped")
}

// Run wires the stores, collaborator clients and the pipeline, then serves.
func (s *Server) Run() error {
	ctx := context.Background()
	cfg := s.cfg

	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN(), cfg.EmbedDim)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	s.pg = pg
	if err := pg.Init(ctx); err != nil {
		return fmt.Errorf("creating index tables: %w", err)
	}

	var manifest ingest.ManifestStore
	if cfg.ManifestBackend == "file" {
		manifest, err = ingest.NewFileManifestStore(cfg.ManifestDir)
		if err != nil {
			return err
		}
	} else {
		pm := store.NewPostgresManifestStore(pg.Pool())
		if err := pm.Init(ctx); err != nil {
			return fmt.Errorf("creating manifest table: %w", err)
		}
		manifest = pm
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}
	cache, err := ingest.NewEmbedCache(cfg.CacheDir)
	if err != nil {
		return err
	}

	embedder := model.NewOllamaEmbedder(cfg.EmbedURL, cfg.EmbedModel, cfg.RequestTimeout)
	parser := model.NewParser(cfg.ConverterURL, 0)

	chunker := ingest.NewChunker(cfg.EmbedModel, cfg.ChunkWindow, cfg.ChunkOverlap, cfg.CharWindow, cfg.CharOverlap)
	batcher := ingest.NewBatchEmbedder(embedder, cache, cfg.BatchSize)
	writer := ingest.NewIndexWriter(pg)
	pipeline := ingest.NewPipeline(parser, chunker, batcher, writer, manifest)

	var scorer model.Scorer
	if cfg.RerankURL != "" {
		scorer = model.NewCrossEncoderClient(cfg.RerankURL, cfg.RequestTimeout)
	} else {
		s.logger.Warn("no reranker configured, retrieval uses vector order only")
	}
	retriever := retrieve.NewRetriever(embedder, pg, scorer)
	generator := agent.New(cfg.LLMURL, cfg.LLMModel, 0)

	var (
		app            = fiber.New(fiberConfig)
		checkHandler   = api.NewCheckHandler()
		requestHandler = api.NewRequestHandler(pipeline, retriever, generator, manifest, pg, cfg.UploadDir)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/ingest", requestHandler.HandleIngest)
	apiv1.Post("/query", requestHandler.HandleQuery)
	apiv1.Get("/docs/:doc_id", requestHandler.HandleDocStatus)

	s.logger.Info("server listening", "addr", cfg.ServerAddr)
	return app.Listen(cfg.ServerAddr)
}
