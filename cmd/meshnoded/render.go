package main

import (
	"fmt"

	"meshnode/cmd/meshnoded/ui"
	"meshnode/config"
	"meshnode/node/runtimeconfig"

	"github.com/spf13/cobra"
)

func renderCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Print the runtime config built from the node file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			cfg, err := runtimeconfig.Build(f.Interfaces.Enabled(), f.Settings)
			if err != nil {
				return fmt.Errorf("build runtime config: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), cfg.Render())
			for _, s := range cfg.Skipped() {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.WarnMsg("skipped %s: %s", s.Name, s.Reason))
			}
			return nil
		},
	}
}
