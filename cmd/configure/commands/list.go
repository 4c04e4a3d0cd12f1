package commands

import (
	"context"
	"fmt"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored settings",
		Long:  "Show the schema version, quota settings, rate limits and CORS configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				if err := printVersion(ctx, db); err != nil {
					return err
				}
				fmt.Printf("Quota: %d analyses/day, %d initial tokens, resets at midnight %s\n\n",
					cfg.Quota.DailyLimit, cfg.Quota.InitialTokens, cfg.Quota.Location)
				if err := printRatelimits(ctx, database.NewRatelimitConfigRepository(db)); err != nil {
					return err
				}
				fmt.Println()
				return printCors(ctx, database.NewCorsConfigRepository(db), cfg.FrontendURL)
			})
		},
	}
}
