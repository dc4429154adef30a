package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(providePublicLimiter),
)

func providePublicLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*PublicLimiter, error) {
	if !cfg.Redis.Enabled() {
		log.Info("redis not configured, public invoice routes are not rate limited")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewPublicLimiter(NewTokenBucket(client), cfg.PublicRateLimit)
}
