package commands

import (
	"context"
	"fmt"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command with up, down and status subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				return printVersion(ctx, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				if err := db.MigrateDown(ctx); err != nil {
					return err
				}
				return printVersion(ctx, db)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				return printVersion(ctx, db)
			})
		},
	})
	return cmd
}

func printVersion(ctx context.Context, db *database.DB) error {
	v, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d\n", v)
	return nil
}
