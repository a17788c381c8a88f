// cmd/metrics-engine/read.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/model"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/reader"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/resolution"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/storage/timescaledb"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/backoff"
)

// newReadCmd читает последние точки метрики устройства на гранулярности,
// разрешённой из переопределений алерта/устройства/пользователя.
func newReadCmd() *cobra.Command {
	var (
		deviceID       string
		metricStr      string
		limit          int
		alertOverride  string
		deviceOverride string
		userDefault    string
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read latest metric points at the resolved granularity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			metric, err := model.ParseMetric(metricStr)
			if err != nil {
				return err
			}
			alert, err := parseOverride(alertOverride)
			if err != nil {
				return fmt.Errorf("parse --alert-override: %w", err)
			}
			device, err := parseOverride(deviceOverride)
			if err != nil {
				return fmt.Errorf("parse --device-override: %w", err)
			}
			user, err := parseOverride(userDefault)
			if err != nil {
				return fmt.Errorf("parse --user-default: %w", err)
			}

			g := resolution.Resolve(alert, device, user)

			backoff.SetServiceLabel(cfg.ServiceName)
			metrics.Register(nil)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			db, err := timescaledb.Connect(ctx, cfg.Timescale, log)
			if err != nil {
				return fmt.Errorf("timescaledb init: %w", err)
			}
			defer db.Close()

			r := reader.New(
				timescaledb.NewSamples(db, log),
				timescaledb.NewCandles(db, log),
				log,
			)
			points, err := r.Read(ctx, deviceID, metric, g, limit)
			if err != nil {
				log.Error("read failed", zap.Error(err))
				return err
			}

			fmt.Printf("device=%s metric=%s granularity=%s points=%d\n", deviceID, metric, g, len(points))
			for _, p := range points {
				fmt.Printf("%s\t%.4f\n", p.Timestamp.UTC().Format(time.RFC3339), p.Value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "device id (required)")
	cmd.Flags().StringVar(&metricStr, "metric", "", "metric: cpu|memory|disk (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum points to return")
	cmd.Flags().StringVar(&alertOverride, "alert-override", "", "alert-level granularity override")
	cmd.Flags().StringVar(&deviceOverride, "device-override", "", "device-level granularity override")
	cmd.Flags().StringVar(&userDefault, "user-default", "", "user default granularity")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("metric")

	return cmd
}

// parseOverride трактует пустую строку как отсутствие переопределения.
func parseOverride(s string) (granularity.Granularity, error) {
	if s == "" {
		return resolution.Unset, nil
	}
	return granularity.Parse(s)
}
