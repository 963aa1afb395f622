// Package cli implements the goboot command line.
package cli

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/goboot/internal/config"
	"github.com/vnykmshr/goboot/pkg/common/logging"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	appName    string
}

// NewRootCommand builds the goboot command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "goboot",
		Short: "Bootstrap an application and its worker processes",
		Long: `goboot mounts an application's configuration and modules into a namespace,
starts the mounted runnables, and keeps a pool of worker processes at the
configured size.

Configuration is read from goboot.yaml (or .toml/.json) in the working
directory or the user config directory, or from --config. Any key can be
overridden with a GOBOOT_ environment variable, e.g. GOBOOT_WORKER_FORKS=4.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default is ./goboot.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override logging.level")
	root.PersistentFlags().StringVarP(&g.appName, "app", "a", "", "override app.name")

	root.AddCommand(
		newRunCommand(g),
		newScaleCommand(g),
		newTargetCommand(g),
		newInspectCommand(g),
		newValidateCommand(g),
	)
	return root
}

// Execute runs the command tree with args until ctx ends.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// load reads the configuration and applies flag overrides.
func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.appName != "" {
		cfg.App.Name = g.appName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		NoColor: cfg.Logging.NoColor,
		Output:  out,
	})
}
