package main

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/restoreworks/crm-migration/internal/bootstrap"
	"github.com/restoreworks/crm-migration/internal/config"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db"
	"github.com/restoreworks/crm-migration/internal/infrastructure/db/migrations"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(newMigrateCmd("up", "Apply pending migrations", migrations.Up))
	cmd.AddCommand(newMigrateCmd("down", "Revert the latest migration", migrations.Down))
	cmd.AddCommand(newMigrateCmd("status", "Print the migration status", migrations.Status))
	return cmd
}

func newMigrateCmd(use, short string, run func(*sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(*cobra.Command, []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DBDriver != config.DriverPostgres {
				return errors.New("schema migrations only apply to the postgres driver; sqlite creates its schema on open")
			}

			gdb, err := bootstrap.OpenDatabase(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(gdb) }()

			sqlDB, err := gdb.DB()
			if err != nil {
				return errors.Wrap(err, "get sql db")
			}
			if err := run(sqlDB); err != nil {
				return err
			}
			logger.Info("schema command finished", zap.String("command", use))
			return nil
		},
	}
}
