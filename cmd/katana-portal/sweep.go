package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/katana-portal/internal/config"
)

func newSweepCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete messages older than the staleness window and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.sessions.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			a.tasks.Wait()

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d stale messages\n", n)
			return nil
		},
	}
}
