package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"msgvault/internal/backup"
	"msgvault/internal/config"
	"msgvault/internal/logger"
	"msgvault/pkg/logging"
	"msgvault/pkg/migrations"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipeline-service",
		Short: "Staged message deduplication pipeline",
		Long:  "Captures chat messages, deduplicates them through a staging buffer and serves the clean store over a REST API",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}

	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Pipeline Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute a single pipeline pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			report, err := app.Runner.Run(ctx)
			if err != nil {
				return err
			}

			return printJSON(report)
		},
	}
}

func backupCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Take a manual snapshot of the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			snap, err := app.Snapshots.Create(ctx, backup.TypeManual, notes)
			if err != nil {
				return err
			}

			return printJSON(snap)
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form note stored with the snapshot")
	return cmd
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore staging and clean stores from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			snap, err := app.Snapshots.Get(ctx, args[0])
			if err != nil {
				return err
			}

			if err := app.Snapshots.Restore(ctx, snap); err != nil {
				return err
			}

			log.Infow("Restore complete", "snapshot_id", snap.ID)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print store counts and last batch outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			status, err := app.Status.Collect(ctx)
			if err != nil {
				return err
			}

			return printJSON(status)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			// Open the store without the automatic migration pass so the
			// command reports migration errors directly.
			cfg.Database.RunMigrations = false

			app := NewApp(cfg, log)
			if err := app.initStore(ctx); err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			if err := migrations.Run(app.db); err != nil {
				return err
			}

			log.Infow("Migrations applied")
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
