package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramhq/engram/internal/api/handlers"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/database"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/jobs"
	"github.com/engramhq/engram/internal/openai"
	"github.com/engramhq/engram/internal/repository"
	"github.com/engramhq/engram/internal/server"
	"github.com/engramhq/engram/internal/service"
	"github.com/engramhq/engram/internal/storage"
	"github.com/engramhq/engram/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the engram API server and ingestion worker on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-worker", false, "Run the API without the background ingestion worker")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		environment := cfg.SentryEnvironment
		if environment == "" {
			environment = "development"
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      environment,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	if !cfg.HasOpenAI() {
		return fmt.Errorf("ENGRAM_OPENAI_API_KEY is required")
	}
	aiClient := openai.NewClient(cfg.OpenAIAPIKey)

	registry := extractRegistry(aiClient)

	chunker := service.NewChunker(service.ChunkConfig{
		WindowSize: cfg.ChunkSize,
		Overlap:    cfg.ChunkOverlap,
	})

	var coordinatorOpts []service.CoordinatorOption
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
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		coordinatorOpts = append(coordinatorOpts, service.WithPayloadArchive(s3Client))
	}

	coordinator := service.NewIngestionCoordinator(
		docRepo, txRunner, registry, chunker, aiClient, coordinatorOpts...)

	retriever := service.NewHybridRetriever(chunkRepo, aiClient, service.RetrieverConfig{
		TopK:          cfg.SearchTopK,
		TopN:          cfg.SearchTopN,
		BranchTimeout: cfg.SearchBranchTimeout,
	})
	streamer := service.NewSynthesisStreamer(&generationAdapter{client: aiClient})
	querySvc := service.NewQueryService(retriever, streamer)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	var worker *jobs.Worker
	noWorker, _ := cmd.Flags().GetBool("no-worker")
	if !noWorker {
		ingestWorker, err := jobs.NewIngestWorker(docRepo, coordinator, cfg.WorkerPoolSize)
		if err != nil {
			return fmt.Errorf("failed to create ingestion worker: %w", err)
		}
		defer ingestWorker.Release()

		worker = jobs.NewWorker(ingestWorker, cfg.WorkerPollInterval)
		go worker.Start(workerCtx)
		log.Println("ingestion worker started")
	}

	routerCfg := server.RouterConfig{
		APIKey:          cfg.APIKey,
		DocumentHandler: handlers.NewDocumentHandler(coordinator),
		QueryHandler:    handlers.NewQueryHandler(querySvc),
		ChunksHandler:   handlers.NewChunksHandler(chunkRepo),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// extractRegistry wires one extractor per supported source type. Audio and
// image extraction need the OpenAI-backed transcription and vision
// capabilities.
func extractRegistry(aiClient *openai.Client) *extract.Registry {
	registry := extract.NewRegistry()
	registry.Register(domain.SourceTypeDocument, extract.NewTextExtractor())
	registry.Register(domain.SourceTypeWeb, extract.NewWebExtractor())
	registry.Register(domain.SourceTypeAudio, extract.NewAudioExtractor(aiClient))
	registry.Register(domain.SourceTypeImage, extract.NewImageExtractor(aiClient))
	return registry
}

// generationAdapter narrows the OpenAI client to the token-stream capability.
type generationAdapter struct {
	client *openai.Client
}

func (a *generationAdapter) GenerateAnswerStream(ctx context.Context, systemPrompt, userMessage string) (service.TokenStream, error) {
	stream, err := a.client.GenerateAnswerStream(ctx, systemPrompt, userMessage)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && upErr != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", upErr)
	}

	version, dirty, verErr := m.Version()
	if verErr != nil && verErr != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", verErr)
	}

	line, err := migrationOutcome(upErr, verErr, version, dirty)
	if err != nil {
		return err
	}
	log.Println(line)
	return nil
}

// migrationOutcome renders the post-migration log line, or an error when the
// schema version is dirty. upErr distinguishes a no-op run from one that
// applied migrations.
func migrationOutcome(upErr, verErr error, version uint, dirty bool) (string, error) {
	switch {
	case verErr == migrate.ErrNilVersion:
		return "migrations: database is up to date (no migrations applied)", nil
	case dirty:
		return "", fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	case upErr == migrate.ErrNoChange:
		return fmt.Sprintf("migrations: database is up to date (version %d)", version), nil
	default:
		return fmt.Sprintf("migrations: applied successfully (version %d)", version), nil
	}
}
