// Package redisconn provides the shared go-redis client.
package redisconn

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New returns nil when REDIS_ADDR is unset; consumers treat a nil client as
// "redis features disabled".
func New(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
}

func provide(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	client := New(cfg)
	if client == nil {
		return nil
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis.ping.failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("redis",
	fx.Provide(provide),
)
