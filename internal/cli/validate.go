package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			target, _ := cfg.Target()
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: app %s, %d workers, %d mounts\n",
				cfg.App.Name, target, len(cfg.App.Mounts))
			return nil
		},
	}
}
