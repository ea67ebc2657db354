package queue

import (
	"context"
	"fmt"
	"path/filepath"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/smallbiznis/settlr/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Clock     clock.Clock
	Log       *zap.Logger
	DB        *gorm.DB      `optional:"true"`
	Redis     *redis.Client `optional:"true"`
}

var Module = fx.Module("queue",
	fx.Provide(New),
)

// New picks the backend named by QUEUE_BACKEND.
func New(p Params) (Queue, error) {
	switch p.Cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return NewMemoryQueue(p.Clock), nil
	case config.QueueBackendFile:
		q, err := NewFileQueue(filepath.Join(p.Cfg.Queue.Dir, p.Cfg.Queue.Name), p.Clock, p.Log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go q.RunSweeper(ctx, p.Cfg.Worker.PollInterval)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		return q, nil
	case config.QueueBackendRedis:
		return NewRedisQueue(p.Redis, p.Cfg.Queue.Name, p.Clock)
	case config.QueueBackendDatabase:
		return NewDBQueue(p.DB, p.Cfg.Queue.Name, p.Clock)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", p.Cfg.Queue.Backend)
	}
}
