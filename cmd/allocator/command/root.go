// Package command provides the allocator CLI. The root command has no action
// of its own:
//
//	allocator once [-c allocator.yaml]     # one batch pass, JSON report on stdout
//	allocator run [-c allocator.yaml]      # continuous passes until SIGINT/SIGTERM
//	allocator trip <trip-id> [-c ...]      # allocate a single trip
//	allocator migrate                      # apply MIGRATION_FILE to PG_DSN
//
// Backends come from the same environment variables as the server.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/trip-allocation/internal/app"
	"github.com/example/trip-allocation/internal/config"
	"github.com/example/trip-allocation/internal/logging"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "allocator",
	Short:         "Assign pending trips to the nearest available driver",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the most specific command for the CLI arguments and exits
// non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "allocator YAML config path")
	rootCmd.AddCommand(onceCmd, runCmd, tripCmd, migrateCmd)
}

// fixConfigPath falls back to ALLOCATOR_CONFIG_FILE when -c is not given.
func fixConfigPath() {
	if cfgPath == "" {
		cfgPath = os.Getenv("ALLOCATOR_CONFIG_FILE")
	}
}

// withApp loads configuration, builds the backends and runs fn with a context
// cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	acfg, err := config.LoadAllocatorConfigFrom(cfgPath)
	if err != nil {
		return fmt.Errorf("allocator config: %w", err)
	}
	// logs go to stderr so stdout stays machine readable
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, acfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
