package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorhub/wagateway/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "wagateway",
		Short:         "WhatsApp Cloud API gateway",
		Long:          "wagateway receives WhatsApp Cloud API webhooks, stores contacts and messages per sector, runs automated flows and pushes traffic to dashboard clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (default: $CONFIG_PATH or config.toml)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(flowCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

// resolveConfigPath prefers --config, then CONFIG_PATH.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return config.DefaultConfigPath
}
