package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fleettrack/internal/config"
	"fleettrack/internal/core/repository"
	"fleettrack/internal/core/service"
)

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete location history older than history.retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.HistoryBackend == config.BackendMemory {
				return errors.New("purge needs a persistent history.backend")
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			store, err := openStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			olderThan := time.Now().UTC().Add(-cfg.HistoryRetention)
			n, err := service.NewHistory(store.history, log).Purge(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d history entries older than %s\n", n, olderThan.Format(time.RFC3339))
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres history schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.PostgresDSN == "" {
				return errors.New("postgres.dsn is required")
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			if err := repository.MigratePostgres(cfg.PostgresDSN, steps); err != nil {
				return err
			}
			log.Info("migrations applied", zap.Int("steps", steps))
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply; 0 applies all, negative rolls back.")
	return cmd
}
