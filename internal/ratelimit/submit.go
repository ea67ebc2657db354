package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/config"
)

const keySubmitTenant = "settlr:submit:tenant:%s"

// SubmitLimiter throttles job submissions per tenant with a redis token bucket.
type SubmitLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

// NewSubmitLimiter returns nil when rate limiting is disabled; a nil limiter
// allows everything.
func NewSubmitLimiter(cfg config.Config, client *redis.Client) (*SubmitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.SubmitRate <= 0 || limitCfg.SubmitBurst <= 0 {
		return nil, errors.New("submit rate limit must be positive")
	}
	return &SubmitLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.SubmitRate,
		burst:   limitCfg.SubmitBurst,
	}, nil
}

func (l *SubmitLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowTenant consumes one token for tenantID.
func (l *SubmitLimiter) AllowTenant(ctx context.Context, tenantID string) (RateLimitResult, error) {
	if !l.Enabled() {
		return RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keySubmitTenant, strings.TrimSpace(tenantID)), l.rate, l.burst)
}
