// cmd/metrics-engine/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/app"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/config"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "metrics-engine",
		Short: "Multi-resolution OHLC aggregation engine for device metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			log.Info("starting metrics-engine",
				zap.String("service.name", cfg.ServiceName),
				zap.String("service.version", cfg.ServiceVersion),
				zap.String("config.path", configPath),
			)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := app.Run(ctx, cfg, log); err != nil && ctx.Err() == nil {
				log.Error("application exited with error", zap.Error(err))
				return err
			}
			log.Info("shutdown complete")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional, env vars apply)")
	root.AddCommand(newBackfillCmd(), newReadCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup загружает конфиг и строит логгер; общая часть всех команд.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		DevMode: cfg.Logging.DevMode,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}

	if cfg.Logging.DevMode {
		cfg.Print()
	}
	return cfg, log, nil
}
