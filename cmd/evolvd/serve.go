package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Evolve-Chain/internal/observability/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 API 服务与周期巡检",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return a.apiServer().Start(ctx)
	})
	if cfg.Keeper.Enabled {
		g.Go(func() error {
			return a.keeper.Run(ctx)
		})
	}
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			a.log.Info("指标服务已启动", slog.String("addr", cfg.Metrics.Address))
			return metrics.StartServer(ctx, cfg.Metrics.Address)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("evolvd 已退出")
	return nil
}
