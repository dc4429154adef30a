package tenantlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tenantlock",
	fx.Provide(provideLocker),
)

func provideLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if !cfg.Redis.Enabled() {
		log.Info("redis not configured, using in-process tenant lock")
		return NewLocal()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedis(client, log)
}
