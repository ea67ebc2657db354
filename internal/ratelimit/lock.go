package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// lockKeyNamespace keeps registry locks apart from limiter buckets in a
// shared redis.
const lockKeyNamespace = "settlr:lock:"

// Compare-and-delete: only the holder's token frees the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	ErrLockNotConfigured = errors.New("lock_client_not_configured")
	ErrLockKeyEmpty      = errors.New("lock_key_empty")
	ErrLockTTLInvalid    = errors.New("lock_ttl_invalid")
	// ErrLockLost means the ttl ran out before Release; another holder may
	// have written in the meantime.
	ErrLockLost = errors.New("lock_lost")
)

// Locker serializes dataset registry mutations across api and worker
// processes. Tokens are time-ordered so a stale holder is visible in redis.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, ErrLockNotConfigured
	case key == "":
		return "", false, ErrLockKeyEmpty
	case ttl <= 0:
		return "", false, ErrLockTTLInvalid
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", false, err
	}
	token := id.String()
	ok, err := l.client.SetNX(ctx, lockKeyNamespace+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, l.client, []string{lockKeyNamespace + key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockLost
	}
	return nil
}
