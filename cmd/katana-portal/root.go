package main

import (
	"github.com/spf13/cobra"

	"github.com/PabloGalante/katana-portal/internal/config"
	"github.com/PabloGalante/katana-portal/internal/observability"
)

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "katana-portal",
		Short:         "Commander chat portal",
		Long:          "katana-portal serves the commander's chat, escalation and session API\nand proxies chat turns to the upstream model as server-sent events.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $PORTAL_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		observability.SetLevel(cfg.LogLevel)
		return cfg, nil
	}

	cmd.AddCommand(
		newServeCmd(load),
		newSweepCmd(load),
	)

	return cmd
}
