package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Priya8975/gh-bridge/internal/config"
	"github.com/Priya8975/gh-bridge/internal/server"
	"github.com/Priya8975/gh-bridge/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "gh-bridge",
		Short:         "Bridge GitHub webhooks and replies to chat channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")

	var port string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook receiver, workers and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = server.Run(ctx, cfg, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	serveCmd.Flags().StringVar(&port, "port", "", "Port to listen on (overrides PORT)")

	var showVersion bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if !showVersion {
				if err := store.RunMigrations(cfg.DatabaseURL, logger); err != nil {
					return err
				}
			}

			version, dirty, err := store.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	migrateCmd.Flags().BoolVar(&showVersion, "version", false, "Print the current schema version without migrating")

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
