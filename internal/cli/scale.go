package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/goboot/internal/config"
	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/scaling/scaler"
	"github.com/vnykmshr/goboot/pkg/scaling/targetstore"
)

func newRedisStore(cfg *config.Config, logger *zerolog.Logger) (*targetstore.RedisStore, error) {
	if !cfg.Redis.Enabled() {
		return nil, gberrors.NewValidationError("config", "redis.addr", "", "cannot be empty").
			WithHint("set redis.addr or GOBOOT_REDIS_ADDR to share targets")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return targetstore.NewRedisStore(targetstore.RedisConfig{
		Client:      client,
		Prefix:      cfg.Redis.Prefix,
		Timeout:     cfg.Redis.Timeout,
		CloseClient: true,
		Logger:      logger,
	})
}

func newScaleCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "scale <count|full>",
		Short: "Set the shared worker target of the application",
		Long: `Stores a new worker target in Redis. Every "goboot run" control process of the
application with the same redis settings converges to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := scaler.ParseTarget(args[0])
			if err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			store, err := newRedisStore(cfg, &logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetTarget(cmd.Context(), cfg.App.Name, n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s target set to %d\n", cfg.App.Name, n)
			return nil
		},
	}
}

func newTargetCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "target",
		Short: "Print the shared worker target of the application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			store, err := newRedisStore(cfg, &logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return printTarget(cmd.Context(), cmd, store, cfg)
		},
	}
}

func printTarget(ctx context.Context, cmd *cobra.Command, store targetstore.Store, cfg *config.Config) error {
	n, ok, err := store.Target(ctx, cfg.App.Name)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no shared target (configured: %s)\n", cfg.App.Name, cfg.Worker.Forks)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s target %d\n", cfg.App.Name, n)
	return nil
}
