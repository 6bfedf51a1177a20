package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/source-monitor/internal/config"
	"github.com/JakeFAU/source-monitor/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Storage.Backend != config.BackendPostgres {
				return fmt.Errorf("migrate requires storage.backend %q", config.BackendPostgres)
			}
			store, err := postgres.New(cmd.Context(), postgres.Config{
				DSN:             rt.cfg.DB.DSN,
				MaxConns:        rt.cfg.DB.MaxConns,
				MinConns:        rt.cfg.DB.MinConns,
				MaxConnLifetime: rt.cfg.ConnLifetime(),
			}, nil)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			rt.logger.Info("schema applied")
			return nil
		},
	}
}
