package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/trip-allocation/internal/allocation"
	"github.com/example/trip-allocation/internal/app"
	"github.com/example/trip-allocation/internal/config"
	"github.com/example/trip-allocation/internal/logging"
	"github.com/example/trip-allocation/internal/storage"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single batch pass over pending trips",
	Long: `Run a single batch pass over pending trips and print the report as
JSON. Stale trips are skipped and trips that lose their driver to a
concurrent allocation are retried.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			rep, err := a.Batch.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("batch pass: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), rep)
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Allocate pending trips continuously until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			err := a.Batch.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

var tripCmd = &cobra.Command{
	Use:   "trip <trip-id>",
	Short: "Allocate one pending trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			res, err := a.Engine.Allocate(ctx, args[0], a.Allocator.Params())
			if err != nil {
				var ae *allocation.Error
				if errors.As(err, &ae) {
					return fmt.Errorf("trip %s not allocated: %s: %s", args[0], ae.Kind, ae.Reason)
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema in MIGRATION_FILE to the database at PG_DSN",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			return err
		}
		if cfg.PGDSN == "" {
			return errors.New("PG_DSN is required")
		}
		logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer ps.Close()
		if err := ps.Migrate(cmd.Context(), cfg.MigrationFile); err != nil {
			return err
		}
		logger.Info("migration applied", "file", cfg.MigrationFile)
		return nil
	},
}
