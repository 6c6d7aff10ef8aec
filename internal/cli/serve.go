// Package cli holds the uciagentd commands.
package cli

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

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/orin-labs/uciagent/internal/api/handlers"
	"github.com/orin-labs/uciagent/internal/config"
	"github.com/orin-labs/uciagent/internal/database"
	"github.com/orin-labs/uciagent/internal/jobs"
	"github.com/orin-labs/uciagent/internal/openai"
	"github.com/orin-labs/uciagent/internal/repository"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/server"
	"github.com/orin-labs/uciagent/internal/service"
	"github.com/orin-labs/uciagent/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the uciagent API server on the configured port",
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

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
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

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
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

	chunkRepo := repository.NewChunkRepository(pool)
	annotationRepo := repository.NewAnnotationRepository(pool)
	embeddingRepo := repository.NewEmbeddingRepository(pool)
	scriptRepo := repository.NewScriptRepository(pool)
	jobRepo := repository.NewAnnotationJobRepository(pool)

	if !cfg.HasOpenAI() {
		return fmt.Errorf("UCIAGENT_OPENAI_API_KEY or UCIAGENT_OPENAI_BASE_URL is required")
	}
	llmClient := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	})

	dialer, err := router.NewSSHDialer(cfg.SSHUser, cfg.SSHKeyPath, cfg.SSHPort)
	if err != nil {
		return fmt.Errorf("failed to set up ssh dialer: %w", err)
	}

	retriever := service.NewRetriever(llmClient, embeddingRepo)
	generator := service.NewScriptGenerator(llmClient, chunkRepo, annotationRepo, scriptRepo)
	validator := service.NewScriptValidator(nil)
	executor := service.NewScriptExecutor(dialer, router.NewLockRegistry(), scriptRepo, service.ExecutorConfig{
		CommandTimeout: cfg.CommandTimeout,
		CommitTimeout:  cfg.CommitTimeout,
		LockTimeout:    cfg.LockTimeout,
	})
	ingest := service.NewIngestService(chunkRepo, annotationRepo, embeddingRepo, jobRepo, llmClient, dialer, cfg.CommandTimeout)
	pipeline := service.NewPipeline(retriever, generator, validator, executor, scriptRepo, ingest, cfg.RetrievalTopK)

	annotationProcessor := jobs.NewAnnotationWorker(jobRepo, chunkRepo, annotationRepo, embeddingRepo, llmClient)
	annotationWorker := jobs.NewWorker(annotationProcessor, cfg.AnnotationPollInterval)
	go annotationWorker.Start(ctx)
	log.Println("annotation worker started")

	routerCfg := server.RouterConfig{
		ScriptHandler: handlers.NewScriptHandler(pipeline),
		SyncHandler:   handlers.NewSyncHandler(ingest),
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewRouter(routerCfg),
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

	annotationWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
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

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else {
		log.Printf("migrations: at version %d", version)
	}

	return nil
}
