package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sectorhub/wagateway/internal/config"
	"github.com/sectorhub/wagateway/internal/db"
	"github.com/sectorhub/wagateway/internal/flow"
	"github.com/sectorhub/wagateway/internal/logger"
	"github.com/sectorhub/wagateway/internal/sectors"
)

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage sector flows",
	}
	cmd.AddCommand(flowImportCmd())
	return cmd
}

func flowImportCmd() *cobra.Command {
	var (
		sectorID int64
		file     string
		name     string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML or JSON flow definition and make it the sector's active flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sectorID <= 0 {
				return fmt.Errorf("--sector is required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read flow file: %w", err)
			}
			def, err := flow.ParseDefinition(raw)
			if err != nil {
				return err
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := db.Open(ctx, cfg.SaaSPostgres)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			if _, err := sectors.NewStore(logger.L, pool).Get(ctx, sectorID); err != nil {
				return fmt.Errorf("sector %d: %w", sectorID, err)
			}
			if name == "" {
				name = file
			}
			f, err := flow.NewStore(logger.L, pool, cfg.Flow.StartNodeID).SaveDefinition(ctx, sectorID, name, def)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flow %d active for sector %d (%d nodes)\n", f.ID, sectorID, f.Graph.Len())
			return nil
		},
	}
	cmd.Flags().Int64Var(&sectorID, "sector", 0, "sector id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "flow definition file (.yaml or .json)")
	cmd.Flags().StringVar(&name, "name", "", "flow name (default: file name)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
