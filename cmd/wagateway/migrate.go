package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sectorhub/wagateway/internal/config"
	"github.com/sectorhub/wagateway/internal/db"
	"github.com/sectorhub/wagateway/internal/logger"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schemas of both stores",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return migrateAll(cfg, (*db.Migrator).Up)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return migrateAll(cfg, (*db.Migrator).Down)
		},
	})
	return cmd
}

// migrateAll runs op against the messages store and then the SaaS store.
func migrateAll(cfg config.Config, op func(*db.Migrator) error) error {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	targets := []struct {
		schema db.Schema
		pg     config.PostgresConfig
	}{
		{schema: db.SchemaMessages, pg: cfg.Postgres},
		{schema: db.SchemaSaaS, pg: cfg.SaaSPostgres},
	}
	for _, target := range targets {
		m, err := db.NewMigrator(target.pg, target.schema)
		if err != nil {
			return err
		}
		err = op(m)
		version, dirty, verr := m.Version()
		if cerr := m.Close(); cerr != nil {
			logger.L.Warn("close migrator failed", "schema", target.schema, "error", cerr)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", target.schema, err)
		}
		if verr == nil {
			logger.L.Info("migrated", "schema", target.schema, "version", version, "dirty", dirty)
		}
	}
	return nil
}
