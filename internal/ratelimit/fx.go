package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Both providers tolerate a nil client; callers check for nil results.
var Module = fx.Module("ratelimit",
	fx.Provide(
		NewSubmitLimiter,
		func(client *redis.Client) *Locker { return NewLocker(client) },
	),
)
