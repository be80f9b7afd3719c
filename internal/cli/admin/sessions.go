package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finclaw/agentd/internal/repository"
	"github.com/finclaw/agentd/internal/service"
	"github.com/finclaw/agentd/internal/storage"
	"github.com/spf13/cobra"
)

func SessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Browse conversation sessions",
		Long:  "List sessions and export transcripts to archive storage",
	}

	cmd.AddCommand(SessionsListCmd())
	cmd.AddCommand(SessionsExportCmd())

	return cmd
}

func SessionsListCmd() *cobra.Command {
	var (
		user   string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for a user",
		Long:  "List a user's sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runSessionsList(user, cursor, limit, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User id to list sessions for")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runSessionsList(userID, cursor string, limit int, outputFormat string) error {
	ctx := context.Background()

	_, pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := service.NewSessionService(repository.NewSessionRepository(pool), &service.DefaultUUIDGenerator{})
	page := svc.List(ctx, userID, cursor, limit)

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(page.Items))
		for i, sess := range page.Items {
			data[i] = map[string]interface{}{
				"id":         sess.ID,
				"channel":    sess.Channel,
				"title":      sess.Title,
				"updated_at": sess.UpdatedAt,
			}
		}
		out := map[string]interface{}{
			"sessions":    data,
			"next_cursor": page.NextCursor,
			"has_more":    page.HasMore,
		}
		jsonBytes, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(page.Items) == 0 {
			fmt.Println("No sessions found")
			return nil
		}
		for _, sess := range page.Items {
			title := sess.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %-8s %s  %s\n", sess.ID, sess.Channel, sess.UpdatedAt.Format("2006-01-02 15:04"), title)
		}
		if page.HasMore {
			fmt.Printf("More results: --cursor %s\n", page.NextCursor)
		}
	}

	return nil
}

func SessionsExportCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session transcript to archive storage",
		Long:  "Write a session transcript to the S3 archive bucket and print a download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsExport(args[0], user)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id that owns the session")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runSessionsExport(sessionID, userID string) error {
	ctx := context.Background()

	cfg, pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !cfg.HasS3() {
		return fmt.Errorf("S3_ENDPOINT, S3_ACCESS_KEY_ID, and S3_SECRET_ACCESS_KEY are required to export transcripts")
	}

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

	sessionSvc := service.NewSessionService(repository.NewSessionRepository(pool), &service.DefaultUUIDGenerator{})
	archiveSvc := service.NewArchiveService(s3Client, sessionSvc)

	url, err := archiveSvc.Export(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}

	fmt.Println(url)
	return nil
}
