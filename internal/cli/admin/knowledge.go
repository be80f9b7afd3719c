package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/finclaw/agentd/internal/config"
	"github.com/finclaw/agentd/internal/repository"
	"github.com/finclaw/agentd/internal/service"
	"github.com/finclaw/agentd/internal/voyage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func KnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge base",
		Long:  "Add, list, and re-embed knowledge base documents",
	}

	cmd.AddCommand(KnowledgeAddCmd())
	cmd.AddCommand(KnowledgeListCmd())
	cmd.AddCommand(KnowledgeReembedCmd())

	return cmd
}

func KnowledgeAddCmd() *cobra.Command {
	var (
		source string
		file   string
	)

	cmd := &cobra.Command{
		Use:   "add <title> [content]",
		Short: "Add a document to the knowledge base",
		Long:  "Add a document with the given title, taking content from the argument or --file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")

			content := ""
			if len(args) == 2 {
				content = args[1]
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read content file: %w", err)
				}
				content = string(data)
			}

			return runKnowledgeAdd(args[0], content, source, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source tag controlling which access tiers see the document")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read content from a file instead of the argument")

	return cmd
}

func runKnowledgeAdd(title, content, source, outputFormat string) error {
	ctx := context.Background()

	cfg, pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := newKnowledgeService(cfg, pool)
	doc, err := svc.Create(ctx, service.CreateKnowledgeInput{
		Title:   title,
		Content: content,
		Source:  source,
	})
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":         doc.ID,
			"title":      doc.Title,
			"source":     doc.Source,
			"embedded":   len(doc.Embedding) > 0,
			"created_at": doc.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		status := "embedded"
		if len(doc.Embedding) == 0 {
			status = "pending embedding"
		}
		fmt.Printf("Document created: %s (%s, source %s, %s)\n", doc.Title, doc.ID, doc.Source, status)
	}

	return nil
}

func KnowledgeListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge base documents",
		Long:  "List knowledge base documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runKnowledgeList(outputFormat, limit)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}

func runKnowledgeList(outputFormat string, limit int) error {
	ctx := context.Background()

	_, pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewKnowledgeRepository(pool)
	docs, err := repo.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(docs))
		for i, doc := range docs {
			data[i] = map[string]interface{}{
				"id":         doc.ID,
				"title":      doc.Title,
				"source":     doc.Source,
				"embedded":   len(doc.Embedding) > 0,
				"created_at": doc.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(docs) == 0 {
			fmt.Println("No documents found")
			return nil
		}
		for _, doc := range docs {
			status := ""
			if len(doc.Embedding) == 0 {
				status = " [pending embedding]"
			}
			fmt.Printf("%s  %-12s %s%s\n", doc.ID, doc.Source, doc.Title, status)
		}
	}

	return nil
}

func KnowledgeReembedCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Embed documents that are missing embeddings",
		Long:  "Embed documents whose embedding is missing after a provider outage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledgeReembed(batch)
		},
	}

	cmd.Flags().IntVarP(&batch, "batch", "n", 50, "Maximum number of documents to embed")

	return cmd
}

func runKnowledgeReembed(batch int) error {
	ctx := context.Background()

	cfg, pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !cfg.HasVoyage() {
		return fmt.Errorf("VOYAGE_API_KEY is required to embed documents")
	}

	svc := newKnowledgeService(cfg, pool)
	healed, err := svc.ReembedMissing(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to re-embed documents: %w", err)
	}

	fmt.Printf("Embedded %d documents\n", healed)
	return nil
}

func newKnowledgeService(cfg *config.Config, pool *pgxpool.Pool) *service.KnowledgeService {
	embedder := voyage.NewClientWithConfig(voyage.Config{
		APIKey:     cfg.VoyageAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	return service.NewKnowledgeService(repository.NewKnowledgeRepository(pool), embedder, &service.DefaultUUIDGenerator{})
}

func getDBPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return cfg, pool, nil
}
