package commands

import (
	"context"
	"fmt"

	"github.com/benvon/glowlens/internal/config"
	"github.com/benvon/glowlens/internal/storage"
	"github.com/spf13/cobra"
)

// NewBucketCmd creates the bucket command.
func NewBucketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucket",
		Short: "Manage the archive image bucket",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the archive bucket if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := newBlobStore(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			created, err := store.EnsureBucket(ctx, cfg.Storage.Region)
			if err != nil {
				return err
			}
			if created {
				fmt.Printf("Created bucket %q.\n", store.Bucket())
			} else {
				fmt.Printf("Bucket %q already exists.\n", store.Bucket())
			}
			return nil
		},
	})
	return cmd
}

func newBlobStore(cfg *config.Config) (*storage.MinioStore, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, err
	}
	return storage.NewMinioStore(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		UseSSL:        cfg.Storage.UseSSL,
		Region:        cfg.Storage.Region,
		Bucket:        cfg.Storage.Bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
}
