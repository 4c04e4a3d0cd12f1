package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/database"
	"github.com/benvon/glowlens/internal/models"
	"github.com/benvon/glowlens/internal/quota"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewProfileCmd creates the profile command for inspecting and adjusting a user's quota.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and adjust user quota",
	}
	cmd.AddCommand(newProfileShowCmd())
	cmd.AddCommand(newProfileGrantCmd())
	cmd.AddCommand(newProfileResetCmd())
	return cmd
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show quota status, applying the daily reset if due",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withDB(func(ctx context.Context, cfg *config.Config, db *database.DB) error {
				ledger := quota.NewLedger(database.NewProfileRepository(db),
					quota.WithDailyLimit(cfg.Quota.DailyLimit),
					quota.WithInitialTokens(cfg.Quota.InitialTokens),
					quota.WithLocation(cfg.Quota.Location),
				)
				s, err := ledger.CheckStatus(ctx, id)
				if err != nil {
					return fmt.Errorf("check quota: %w", err)
				}
				fmt.Printf("User: %s\n", id)
				fmt.Printf("  Usage: %d/%d (remaining %d)\n", s.UsageCount, s.DailyLimit, s.UsageRemaining)
				fmt.Printf("  Token balance: %d\n", s.TokenBalance)
				fmt.Printf("  Resets at: %s\n", s.ResetsAt.Format(time.RFC3339))
				if s.CanProceed {
					fmt.Println("  Can proceed: yes")
				} else {
					fmt.Printf("  Can proceed: no (%s)\n", s.Reason)
				}
				return nil
			})
		},
	}
}

func newProfileGrantCmd() *cobra.Command {
	var tokens int64
	cmd := &cobra.Command{
		Use:   "grant <user-id>",
		Short: "Add tokens to a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tokens <= 0 {
				return fmt.Errorf("--tokens must be positive")
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				p, err := database.NewProfileRepository(db).GrantTokens(ctx, id, tokens)
				if err != nil {
					return err
				}
				return printProfile(id, p)
			})
		},
	}
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "Number of tokens to add (required)")
	return cmd
}

func newProfileResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Zero today's usage count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			return withDB(func(ctx context.Context, _ *config.Config, db *database.DB) error {
				p, err := database.NewProfileRepository(db).ResetUsage(ctx, id, time.Now())
				if err != nil {
					return err
				}
				return printProfile(id, p)
			})
		},
	}
}

func printProfile(id uuid.UUID, p *models.UserProfile) error {
	if p == nil {
		return fmt.Errorf("no profile for user %s; it is created on first use", id)
	}
	fmt.Printf("User: %s\n", p.ID)
	fmt.Printf("  Usage count: %d\n", p.UsageCount)
	fmt.Printf("  Token balance: %d\n", p.TokenBalance)
	fmt.Printf("  Last reset: %s\n", p.LastReset.Format(time.RFC3339))
	return nil
}
