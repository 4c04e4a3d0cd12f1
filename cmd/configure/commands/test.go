package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/benvon/glowlens/internal/logger"
	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	var (
		query   string
		skipAI  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test external dependencies",
		Long:  "Check the database, the archive bucket and the AI provider. The AI check runs one venue search and spends provider tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log, err := logger.NewConsoleLogger(verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync(log) }()

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			var failed []string
			check := func(name string, fn func() error) {
				fmt.Printf("Testing %s... ", name)
				if err := fn(); err != nil {
					fmt.Printf("FAILED: %v\n", err)
					failed = append(failed, name)
					return
				}
				fmt.Println("ok")
			}

			check("database", func() error {
				return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
					if err := db.HealthCheck(ctx); err != nil {
						return err
					}
					_, err := db.SchemaVersion(ctx)
					return err
				})
			})
			check("archive bucket", func() error {
				store, err := newBlobStore(cfg)
				if err != nil {
					return err
				}
				return store.HealthCheck(ctx)
			})
			if !skipAI {
				check("AI provider "+cfg.AI.Provider, func() error {
					return testGateway(ctx, cfg, query, log, verbose)
				})
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed: %v", len(failed), failed)
			}
			fmt.Println("\nAll checks passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&query, "query", "Tehran", "Location used for the AI venue search check")
	cmd.Flags().BoolVar(&skipAI, "skip-ai", false, "Skip the AI provider check")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log provider requests")

	return cmd
}

// testGateway runs one venue search, the only action that needs no image.
func testGateway(ctx context.Context, cfg *config.Config, query string, log *zap.Logger, debug bool) error {
	gw, err := ai.NewProviderRegistry().GetProvider(cfg.AI.Provider, ai.ProviderConfig{
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		Timeout:        cfg.AI.Timeout,
		ResponseFormat: cfg.AI.ResponseFormat,
		Temperature:    cfg.AI.Temperature,
		Language:       cfg.AI.Language,
		Logger:         log,
		DebugMode:      debug,
	})
	if err != nil {
		return err
	}
	resp, err := gw.Invoke(ctx, ai.Request{Action: ai.ActionVenueSearch, LocationQuery: query})
	if err != nil {
		return err
	}
	fmt.Printf("(%s, %d venues, %d tokens, %s) ", resp.Model, len(resp.Venues), resp.TokensUsed, resp.Latency.Round(time.Millisecond))
	return nil
}
