package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/clock"
)

// Ready scores are priority*priorityWeight + availableAt millis, which stays
// exact in a float64 for priorities up to maxRedisPriority. Delayed messages
// carry the same score once promoted, so ready order is (priority, availableAt).
const (
	priorityWeight   = 1e13
	maxRedisPriority = 899
)

const enqueueScript = `
redis.call("HSET", KEYS[3], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[4], ARGV[1], ARGV[3])
if tonumber(ARGV[4]) > tonumber(ARGV[5]) then
  redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
else
  redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
end
return 1
`

const reserveScript = `
local now = tonumber(ARGV[1])
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now)
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[3], id)
  local score = redis.call("HGET", KEYS[5], id)
  if score then redis.call("ZADD", KEYS[1], score, id) end
end
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", now)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  local score = redis.call("HGET", KEYS[5], id)
  if score then redis.call("ZADD", KEYS[1], score, id) end
end
local head = redis.call("ZRANGE", KEYS[1], 0, 0)
if #head == 0 then
  return false
end
local id = head[1]
redis.call("ZREM", KEYS[1], id)
local payload = redis.call("HGET", KEYS[4], id)
if not payload then
  redis.call("HDEL", KEYS[5], id)
  redis.call("HDEL", KEYS[6], id)
  return false
end
redis.call("ZADD", KEYS[3], ARGV[2], id)
local count = redis.call("HINCRBY", KEYS[6], id, 1)
return {id, payload, count}
`

const ackScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
return 1
`

const failScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
  return 0
end
local payload = redis.call("HGET", KEYS[2], ARGV[1])
local count = redis.call("HGET", KEYS[4], ARGV[1])
redis.call("RPUSH", KEYS[5], cjson.encode({
  id = ARGV[1],
  payload = payload,
  receiveCount = tonumber(count),
  error = ARGV[2],
  failedAt = tonumber(ARGV[3]),
}))
redis.call("HDEL", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[3], ARGV[1])
redis.call("HDEL", KEYS[4], ARGV[1])
return 1
`

type redisKeys struct {
	pending  string
	delayed  string
	inflight string
	messages string
	scores   string
	counts   string
	dead     string
}

// RedisQueue shares a queue across hosts. Every state change is a single
// Lua script, so a message is handed to at most one consumer at a time.
type RedisQueue struct {
	client  *redis.Client
	clock   clock.Clock
	keys    redisKeys
	enqueue *redis.Script
	reserve *redis.Script
	ack     *redis.Script
	fail    *redis.Script
}

func NewRedisQueue(client *redis.Client, name string, c clock.Clock) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis_client_not_configured")
	}
	if name == "" {
		name = "reconcile"
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	prefix := "settlr:queue:" + name + ":"
	return &RedisQueue{
		client: client,
		clock:  c,
		keys: redisKeys{
			pending:  prefix + "pending",
			delayed:  prefix + "delayed",
			inflight: prefix + "inflight",
			messages: prefix + "messages",
			scores:   prefix + "scores",
			counts:   prefix + "counts",
			dead:     prefix + "dead",
		},
		enqueue: redis.NewScript(enqueueScript),
		reserve: redis.NewScript(reserveScript),
		ack:     redis.NewScript(ackScript),
		fail:    redis.NewScript(failScript),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	if err := validateEnqueue(payload, opts); err != nil {
		return "", err
	}
	now := q.clock.Now()
	id := newID(now)
	priority := min(opts.Priority, maxRedisPriority)
	availableAt := now.Add(opts.Delay).UnixMilli()
	score := float64(priority)*priorityWeight + float64(availableAt)

	err := q.enqueue.Run(ctx, q.client,
		[]string{q.keys.pending, q.keys.delayed, q.keys.messages, q.keys.scores},
		id, payload, strconv.FormatFloat(score, 'f', 0, 64), availableAt, now.UnixMilli(),
	).Err()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *RedisQueue) Reserve(ctx context.Context, opts ReserveOptions) (*Message, error) {
	visibility := visibilityOrDefault(opts.Visibility)
	return poll(ctx, opts.Timeout, defaultPollInterval, func() (*Message, error) {
		return q.tryReserve(ctx, visibility)
	})
}

func (q *RedisQueue) tryReserve(ctx context.Context, visibility time.Duration) (*Message, error) {
	now := q.clock.Now()
	res, err := q.reserve.Run(ctx, q.client,
		[]string{q.keys.pending, q.keys.delayed, q.keys.inflight, q.keys.messages, q.keys.scores, q.keys.counts},
		now.UnixMilli(), now.Add(visibility).UnixMilli(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected reserve reply: %v", res)
	}
	id, _ := res[0].(string)
	payload, _ := res[1].(string)
	count, _ := res[2].(int64)
	return &Message{ID: id, Payload: []byte(payload), ReceiveCount: int(count)}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	n, err := q.ack.Run(ctx, q.client,
		[]string{q.keys.inflight, q.keys.messages, q.keys.scores, q.keys.counts},
		id,
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownMessage
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, id string, cause error) error {
	n, err := q.fail.Run(ctx, q.client,
		[]string{q.keys.inflight, q.keys.messages, q.keys.scores, q.keys.counts, q.keys.dead},
		id, causeString(cause), q.clock.Now().UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownMessage
	}
	return nil
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(ctx, q.keys.pending)
	delayed := pipe.ZCard(ctx, q.keys.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(pending.Val() + delayed.Val()), nil
}

// DeadLetters returns the raw JSON entries of the dead-letter list.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.keys.dead, 0, -1).Result()
}
