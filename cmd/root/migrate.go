package root

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leoric-crown/shared-context-server/pkg/config"
	"github.com/leoric-crown/shared-context-server/pkg/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &ConfigError{Err: err}
			}

			engine, err := storage.Open(cfg.DatabaseURL)
			if err != nil {
				return &ConfigError{Err: err}
			}
			defer engine.Close()

			if err := engine.Migrate(cmd.Context()); err != nil {
				return &SchemaError{Err: err}
			}

			slog.Info("migrations applied")
			return nil
		},
	}
}
