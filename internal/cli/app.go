// Package cli holds the tenderd commands and the wiring they share.
package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cloo-solutions/tenderwise/internal/api/handlers"
	"github.com/cloo-solutions/tenderwise/internal/config"
	"github.com/cloo-solutions/tenderwise/internal/database"
	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/embedding"
	"github.com/cloo-solutions/tenderwise/internal/index"
	"github.com/cloo-solutions/tenderwise/internal/jobs"
	"github.com/cloo-solutions/tenderwise/internal/provider"
	"github.com/cloo-solutions/tenderwise/internal/repository"
	"github.com/cloo-solutions/tenderwise/internal/server"
	"github.com/cloo-solutions/tenderwise/internal/service"
	"github.com/cloo-solutions/tenderwise/internal/storage"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
	"github.com/jackc/pgx/v5/pgxpool"
)

// documentStore is satisfied by both the Postgres repository and the
// in-memory store.
type documentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Upsert(ctx context.Context, d *domain.Document) error
	ListIDs(ctx context.Context, publishedOnly bool) ([]string, error)
}

// vectorIndex is the chunk store plus its lock, for either backend.
type vectorIndex interface {
	service.TxRunner
	service.ChunkSearcher
}

// App is every long-lived component, built once per command.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Docs    documentStore
	Index   vectorIndex
	Jobs    *repository.IngestionJobRepository
	Storage *storage.S3Client
	Gateway *provider.Gateway

	Ingestion  *service.IngestionService
	Retrieval  *service.RetrievalService
	Generation *service.GenerationService
	Evaluation *service.EvaluationService
	Drafting   *service.DraftingService
}

// AppOptions adjusts wiring for one command.
type AppOptions struct {
	Migrate       bool
	MigrationsDir string
}

// NewApp connects the configured backends and builds the services.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	app := &App{Config: cfg}

	switch cfg.VectorBackend {
	case config.BackendPgvector:
		if opts.Migrate {
			dir := opts.MigrationsDir
			if dir == "" {
				dir = "migrations"
			}
			if err := database.Migrate(cfg.DatabaseURL, dir); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		log.Println("connected to database")
		app.Pool = pool
		app.Docs = repository.NewDocumentRepository(pool)
		app.Index = &pgIndex{
			TxRunner:        repository.NewTxRunner(pool),
			ChunkRepository: repository.NewChunkRepository(pool),
		}
		app.Jobs = repository.NewIngestionJobRepository(pool)
	case config.BackendMemory:
		var idx *index.MemoryIndex
		var err error
		if cfg.IndexDir != "" {
			idx, err = index.NewPersistentIndex(cfg.IndexDir)
		} else {
			idx, err = index.NewMemoryIndex()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open memory index: %w", err)
		}
		log.Printf("using in-memory similarity index (%d chunks)", idx.Count())
		app.Docs = index.NewDocumentStore()
		app.Index = idx
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}

	var textStorage service.TextStorage
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		app.Storage = s3Client
		textStorage = s3Client
	}

	embedder, err := embedding.New(cfg.EmbeddingMode, cfg.OpenAIAPIKey)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	queryEmbedder := embedding.NewCachedEmbedder(embedder, cfg.QueryCacheSize, cfg.QueryCacheTTL)

	tm := tokens.NewManager(nil)
	app.Gateway = provider.NewGateway(tm, provider.GatewayConfig{
		Timeout:           cfg.ProviderTimeout,
		RequestsPerSecond: cfg.ProviderRPS,
	},
		provider.NewGroqAdapter(cfg.GroqAPIKey),
		provider.NewOpenAIAdapter(cfg.OpenAIAPIKey),
		provider.NewGeminiAdapter(cfg.GeminiAPIKey, "", nil),
		provider.NewHuggingFaceAdapter(cfg.HuggingFaceAPIKey, "", nil),
	)
	if !app.Gateway.Configured() {
		log.Println("no LLM provider configured, generation will use deterministic fallbacks")
	}

	retrievalCfg := service.DefaultRetrievalServiceConfig()
	if cfg.DefaultModel != "" {
		retrievalCfg.DefaultModel = cfg.DefaultModel
	}
	evaluationCfg := service.DefaultEvaluationServiceConfig()
	evaluationCfg.Concurrency = cfg.EvaluationConcurrency

	// Chunk embeddings bypass the query cache.
	app.Ingestion = service.NewIngestionService(app.Docs, textStorage, embedder, app.Index, nil)
	app.Retrieval = service.NewRetrievalServiceWithConfig(app.Index, queryEmbedder, tm, retrievalCfg)
	app.Generation = service.NewGenerationService(app.Gateway, app.Retrieval)
	app.Evaluation = service.NewEvaluationServiceWithConfig(app.Gateway, app.Retrieval, evaluationCfg)
	app.Drafting = service.NewDraftingService(app.Gateway, app.Retrieval)

	return app, nil
}

// Router builds the HTTP API over the app's services. Async ingestion is
// only offered when the Postgres job queue is available.
func (a *App) Router() http.Handler {
	var queue handlers.JobQueue
	if a.Jobs != nil {
		queue = a.Jobs
	}
	return server.NewRouter(server.RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(a.Docs, a.Ingestion, queue),
		AnalysisHandler: handlers.NewAnalysisHandler(a.Retrieval, a.Generation, a.Evaluation, a.Drafting),
	})
}

// IngestionWorker returns the background ingestion worker, or nil when
// there is no job queue.
func (a *App) IngestionWorker() *jobs.Worker {
	if a.Jobs == nil {
		return nil
	}
	processor := jobs.NewIngestionWorker(a.Jobs, a.Ingestion)
	return jobs.NewWorker("ingestion", processor, a.Config.IngestPollInterval)
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// pgIndex joins the advisory-lock runner with pooled nearest-neighbour reads.
type pgIndex struct {
	*repository.TxRunner
	*repository.ChunkRepository
}
