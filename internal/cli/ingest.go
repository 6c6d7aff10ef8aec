package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orin-labs/uciagent/internal/config"
	"github.com/orin-labs/uciagent/internal/database"
	"github.com/orin-labs/uciagent/internal/openai"
	"github.com/orin-labs/uciagent/internal/repository"
	"github.com/orin-labs/uciagent/internal/router"
	"github.com/orin-labs/uciagent/internal/service"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest UCI configuration files into the index",
		Long: `Chunk, embed, and index local UCI configuration files.

Each file becomes one source; re-running on unchanged files is a no-op.
Use --router to pull configuration over SSH instead of reading local files.`,
		RunE: runIngest,
	}

	cmd.Flags().String("router", "", "Router address to sync over SSH instead of local files")
	cmd.Flags().Bool("reindex", false, "Re-embed every stored chunk under the current embedding model")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("UCIAGENT_OPENAI_API_KEY or UCIAGENT_OPENAI_BASE_URL is required")
	}

	routerAddress, _ := cmd.Flags().GetString("router")
	reindex, _ := cmd.Flags().GetBool("reindex")
	if routerAddress == "" && len(args) == 0 && !reindex {
		return fmt.Errorf("provide configuration files, --router, or --reindex")
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

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	llmClient := openai.NewClientWithConfig(openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	})

	var dialer router.Dialer
	if routerAddress != "" {
		dialer, err = router.NewSSHDialer(cfg.SSHUser, cfg.SSHKeyPath, cfg.SSHPort)
		if err != nil {
			return fmt.Errorf("failed to set up ssh dialer: %w", err)
		}
	}

	ingest := service.NewIngestService(
		repository.NewChunkRepository(pool),
		repository.NewAnnotationRepository(pool),
		repository.NewEmbeddingRepository(pool),
		repository.NewAnnotationJobRepository(pool),
		llmClient,
		dialer,
		cfg.CommandTimeout,
	)

	if reindex {
		count, err := ingest.ReindexAll(ctx)
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		log.Printf("re-embedded %d chunks under index version %s", count, llmClient.IndexVersion())
		return nil
	}

	if routerAddress != "" {
		count, err := ingest.SyncRouter(ctx, routerAddress)
		if err != nil {
			return fmt.Errorf("sync from %s failed: %w", routerAddress, err)
		}
		log.Printf("synced %d chunks from %s", count, routerAddress)
		return nil
	}

	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		count, err := ingest.IngestFile(ctx, filepath.Base(path), string(text))
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		log.Printf("ingested %d chunks from %s", count, path)
	}
	return nil
}
