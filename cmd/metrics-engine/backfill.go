// cmd/metrics-engine/backfill.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/aggregator"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/metrics"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/storage/timescaledb"
	"github.com/lromero74/romero-tech-solutions-sub002/pkg/backoff"
)

// newBackfillCmd пересчитывает свечи устройства за исторический диапазон.
// Идемпотентный upsert позволяет запускать его поверх живых данных.
func newBackfillCmd() *cobra.Command {
	var (
		deviceID string
		granStr  string
		fromStr  string
		toStr    string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Recompute candles for a device over a historical range",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			g, err := granularity.Parse(granStr)
			if err != nil {
				return err
			}
			from, err := time.Parse(time.RFC3339, fromStr)
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			to, err := time.Parse(time.RFC3339, toStr)
			if err != nil {
				return fmt.Errorf("parse --to: %w", err)
			}

			backoff.SetServiceLabel(cfg.ServiceName)
			metrics.Register(nil)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			db, err := timescaledb.Connect(ctx, cfg.Timescale, log)
			if err != nil {
				return fmt.Errorf("timescaledb init: %w", err)
			}
			defer db.Close()

			agg := aggregator.New(
				timescaledb.NewSamples(db, log),
				timescaledb.NewCandles(db, log),
				cfg.Aggregator,
				log,
			)

			res, err := agg.GenerateCandles(ctx, deviceID, g, from, to)
			if err != nil {
				log.Error("backfill failed",
					zap.String("run_id", res.RunID),
					zap.Int("candles_written", res.CandlesWritten),
					zap.Time("failed_window", res.FailedWindow),
					zap.Error(err),
				)
				return err
			}

			log.Info("backfill complete",
				zap.String("run_id", res.RunID),
				zap.String("device_id", deviceID),
				zap.String("granularity", string(g)),
				zap.Int("candles_written", res.CandlesWritten),
				zap.Int("windows_skipped", res.WindowsSkipped),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "device id (required)")
	cmd.Flags().StringVar(&granStr, "granularity", "", "candle granularity: 15min|30min|1hour|4hour|1day (required)")
	cmd.Flags().StringVar(&fromStr, "from", "", "range start, RFC3339 (required)")
	cmd.Flags().StringVar(&toStr, "to", "", "range end, RFC3339 (required)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("granularity")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
