package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/benvon/glowlens/internal/models"
	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"
)

// NewRatelimitCmd creates the ratelimit configuration command with list and set subcommands.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage rate limit configuration",
		Long:  "List or update named rate limits (e.g. 5-S, 100-M). Stored in database; the server reloads them every minute.",
	}
	cmd.AddCommand(newRatelimitListCmd())
	cmd.AddCommand(newRatelimitSetCmd())
	return cmd
}

func newRatelimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List current rate limit configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				return printRatelimits(ctx, database.NewRatelimitConfigRepository(db))
			})
		},
	}
}

func printRatelimits(ctx context.Context, repo *database.RatelimitConfigRepository) error {
	configs, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list ratelimit config: %w", err)
	}
	if len(configs) == 0 {
		fmt.Println("No rate limit configuration in database; built-in defaults apply.")
		return nil
	}
	fmt.Println("Rate limits:")
	for _, c := range configs {
		fmt.Printf("  %-10s %s\n", c.ConfigKey, c.Rate)
	}
	return nil
}

func newRatelimitSetCmd() *cobra.Command {
	var key, rate string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a named rate limit",
		Long:  "Update a rate limit (e.g. 5-S, 100-M, 1000-H). Keys: default (all API routes), analyze (analysis route).",
		RunE: func(cmd *cobra.Command, args []string) error {
			rate = strings.TrimSpace(rate)
			if rate == "" {
				return fmt.Errorf("--rate is required (e.g. 5-S, 100-M)")
			}
			if _, err := limiter.NewRateFromFormatted(rate); err != nil {
				return fmt.Errorf("invalid rate %q: %w", rate, err)
			}
			switch key {
			case models.RatelimitKeyDefault, models.RatelimitKeyAnalyze:
			default:
				return fmt.Errorf("--key must be %q or %q", models.RatelimitKeyDefault, models.RatelimitKeyAnalyze)
			}
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				repo := database.NewRatelimitConfigRepository(db)
				if err := repo.Set(ctx, &models.RatelimitConfig{ConfigKey: key, Rate: rate}); err != nil {
					return fmt.Errorf("set ratelimit config: %w", err)
				}
				fmt.Printf("Rate limit %q set to %s.\n", key, rate)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", models.RatelimitKeyDefault, "Rate limit key (default or analyze)")
	cmd.Flags().StringVar(&rate, "rate", "", "Rate (e.g. 5-S, 100-M, 1000-H) (required)")
	return cmd
}
