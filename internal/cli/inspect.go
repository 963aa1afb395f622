package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/goboot/pkg/boot"
	"github.com/vnykmshr/goboot/pkg/runtime/namespace"
)

func newInspectCommand(g *globals) *cobra.Command {
	var keysOnly bool

	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "Mount the configured directories and print the namespace",
		Long: `Mounts every directory in app.mounts without starting anything and prints
each leaf below path (default: everything) with its decoded value as YAML.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			registry, err := boot.NewRegistrySafe(boot.Config{Logger: &logger, Context: cmd.Context()})
			if err != nil {
				return err
			}
			defer registry.Close(cmd.Context())

			app := registry.App(cfg.App.Name).SetOptions(cfg.Options())
			for _, point := range cfg.MountPoints() {
				app.MountDir(point, cfg.App.Mounts[point])
			}
			if err := app.Wait(cmd.Context()); err != nil {
				return err
			}

			root := ""
			if len(args) == 1 {
				root = args[0]
			}
			out := cmd.OutOrStdout()
			return app.Namespace().Walk(root, func(path string, n *namespace.Node) error {
				if keysOnly {
					_, err := fmt.Fprintln(out, path)
					return err
				}
				v, err := n.Value()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				data, err := yaml.Marshal(map[string]any{path: v})
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&keysOnly, "keys", false, "print mount paths only")
	return cmd
}
