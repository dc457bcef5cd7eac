package cloudmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module pushes the default registry once more when the app stops, so the
// last job results reach the gateway even between scrapes.
var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Invoke(func(lc fx.Lifecycle, pusher Pusher, logger *zap.Logger) {
		if pusher == nil {
			return
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				PushOnce(ctx, pusher, prometheus.DefaultGatherer, logger)
				return nil
			},
		})
	}),
)
