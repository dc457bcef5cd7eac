package runlock

import (
	"context"

	"github.com/smallbiznis/carlot/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("runlock",
	fx.Provide(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
		locker, closeFn := New(cfg.Redis, DefaultTTL, log)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return closeFn() },
		})
		return locker
	}),
)
