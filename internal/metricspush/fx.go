package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/settlr/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module pushes the default registry on an interval when an exporter is configured.
var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(registerPushLoop),
)

func registerPushLoop(lc fx.Lifecycle, cfg config.Config, pusher Pusher, logger *zap.Logger) {
	if pusher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metrics.push")
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
							logger.Warn("metrics.push.failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			// final flush so short-lived workers still report
			if err := pusher.Push(stopCtx, prometheus.DefaultGatherer); err != nil {
				logger.Warn("metrics.push.final_failed", zap.Error(err))
			}
			return nil
		},
	})
}
