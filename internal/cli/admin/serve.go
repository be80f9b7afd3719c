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

	"github.com/finclaw/agentd/internal/api/handlers"
	"github.com/finclaw/agentd/internal/api/middleware"
	"github.com/finclaw/agentd/internal/config"
	"github.com/finclaw/agentd/internal/database"
	"github.com/finclaw/agentd/internal/domain"
	"github.com/finclaw/agentd/internal/jobs"
	"github.com/finclaw/agentd/internal/openai"
	"github.com/finclaw/agentd/internal/ratelimit"
	"github.com/finclaw/agentd/internal/repository"
	"github.com/finclaw/agentd/internal/server"
	"github.com/finclaw/agentd/internal/service"
	"github.com/finclaw/agentd/internal/storage"
	"github.com/finclaw/agentd/internal/telemetry"
	"github.com/finclaw/agentd/internal/voyage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// reembedInterval is how often the background worker scans for documents
// whose embedding is missing after a provider outage.
const reembedInterval = time.Minute

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long:  "Start the agentd API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
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

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	knowledgeRepo := repository.NewKnowledgeRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)

	embedder := voyage.NewClientWithConfig(voyage.Config{
		APIKey:     cfg.VoyageAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if !cfg.HasVoyage() {
		log.Println("VOYAGE_API_KEY not set: embeddings degrade to zero vectors")
	}
	if !cfg.HasOpenAI() {
		log.Println("OPENAI_API_KEY not set: chat completions will fail upstream")
	}
	model := openai.NewClient(cfg.OpenAIAPIKey, cfg.DefaultModel)

	uuidGen := &service.DefaultUUIDGenerator{}

	knowledgeSvc := service.NewKnowledgeService(knowledgeRepo, embedder, uuidGen)
	searchSvc := service.NewSearchService(embedder, knowledgeRepo)
	sessionSvc := service.NewSessionService(sessionRepo, uuidGen)

	var identity middleware.IdentityResolver = &NoOpIdentityResolver{}
	if cfg.HasIdentityService() {
		identity = service.NewIdentityService(service.NewHTTPIdentityClient(cfg.IdentityVerifyURL), profileRepo)
	} else {
		log.Println("IDENTITY_VERIFY_URL not set: authenticated endpoints will reject all tokens")
	}

	skills := service.LoadSkills(cfg.SkillsDir, cfg.EnabledSkills)
	if len(skills) > 0 {
		log.Printf("loaded %d skills from %s", len(skills), cfg.SkillsDir)
	}

	chatSvc := service.NewChatService(model, searchSvc, sessionSvc, service.ChatConfig{
		AgentName:        cfg.Name,
		AgentDescription: cfg.Description,
		Skills:           skills,
	})

	var archiveSvc *service.ArchiveService
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
		archiveSvc = service.NewArchiveService(s3Client, sessionSvc)
	}

	var reembedWorker *jobs.Worker
	if cfg.HasVoyage() {
		reembedWorker = jobs.NewWorker("re-embed", jobs.NewReembedProcessor(knowledgeSvc, 0), reembedInterval)
		go reembedWorker.Start(ctx)
	}

	agentHandler := handlers.NewAgentHandler(chatSvc, sessionSvc, cfg.Name, model.Model())
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeSvc)
	var sessionHandler *handlers.SessionHandler
	if archiveSvc != nil {
		sessionHandler = handlers.NewSessionHandler(sessionSvc, archiveSvc)
	} else {
		sessionHandler = handlers.NewSessionHandler(sessionSvc, nil)
	}

	router := server.NewRouter(server.RouterConfig{
		IdentityResolver: identity,
		AgentLimiter:     ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow()),
		PublicLimiter:    ratelimit.New(cfg.RateLimitPublicMax, cfg.RateLimitWindow()),
		AgentHandler:     agentHandler,
		KnowledgeHandler: knowledgeHandler,
		SessionHandler:   sessionHandler,
	})

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

	if reembedWorker != nil {
		reembedWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// NoOpIdentityResolver rejects every token. It stands in when no identity
// service is configured so the anonymous surface still works.
type NoOpIdentityResolver struct{}

func (r *NoOpIdentityResolver) Resolve(ctx context.Context, token string) (*domain.Profile, error) {
	return nil, domain.ErrInvalidSession
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
