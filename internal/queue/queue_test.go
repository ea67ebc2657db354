package queue

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var start = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

type backend struct {
	name string
	new  func(t *testing.T, c clock.Clock) Queue
}

func backends() []backend {
	return []backend{
		{name: "memory", new: func(_ *testing.T, c clock.Clock) Queue { return NewMemoryQueue(c) }},
		{name: "file", new: func(t *testing.T, c clock.Clock) Queue {
			q, err := NewFileQueue(t.TempDir(), c, zaptest.NewLogger(t))
			require.NoError(t, err)
			return q
		}},
		{name: "database", new: func(t *testing.T, c clock.Clock) Queue {
			name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
			db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
			require.NoError(t, err)
			require.NoError(t, db.AutoMigrate(&QueueMessage{}))
			sqlDB, err := db.DB()
			require.NoError(t, err)
			sqlDB.SetMaxOpenConns(1)
			t.Cleanup(func() { _ = sqlDB.Close() })
			q, err := NewDBQueue(db, "reconcile", c)
			require.NoError(t, err)
			return q
		}},
		{name: "redis", new: func(t *testing.T, c clock.Clock) Queue {
			addr := os.Getenv("REDIS_ADDR")
			if addr == "" {
				t.Skip("REDIS_ADDR not set")
			}
			client := redis.NewClient(&redis.Options{Addr: addr})
			name := "test-" + ulid.Make().String()
			t.Cleanup(func() {
				ctx := context.Background()
				keys, _ := client.Keys(ctx, "settlr:queue:"+name+":*").Result()
				if len(keys) > 0 {
					client.Del(ctx, keys...)
				}
				_ = client.Close()
			})
			q, err := NewRedisQueue(client, name, c)
			require.NoError(t, err)
			return q
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, q Queue, fc *clock.FakeClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fc := clock.NewFakeClock(start)
			fn(t, b.new(t, fc), fc)
		})
	}
}

func TestReserveEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		msg, err := q.Reserve(context.Background(), ReserveOptions{})
		require.NoError(t, err)
		assert.Nil(t, msg)
	})
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		_, err := q.Enqueue(context.Background(), nil, EnqueueOptions{})
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})
}

func TestPriorityOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		ctx := context.Background()
		low, err := q.Enqueue(ctx, []byte(`{"n":"low"}`), EnqueueOptions{Priority: 5})
		require.NoError(t, err)
		first, err := q.Enqueue(ctx, []byte(`{"n":"first"}`), EnqueueOptions{Priority: 1})
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, []byte(`{"n":"second"}`), EnqueueOptions{Priority: 1})
		require.NoError(t, err)

		var got []string
		for i := 0; i < 3; i++ {
			msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
			require.NoError(t, err)
			require.NotNil(t, msg)
			got = append(got, msg.ID)
		}
		assert.Equal(t, []string{first, second, low}, got)
	})
}

func TestDelayedMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, fc *clock.FakeClock) {
		ctx := context.Background()
		id, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{Delay: time.Minute})
		require.NoError(t, err)

		msg, err := q.Reserve(ctx, ReserveOptions{})
		require.NoError(t, err)
		assert.Nil(t, msg)

		fc.Advance(time.Minute)
		msg, err = q.Reserve(ctx, ReserveOptions{})
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, id, msg.ID)
		assert.Equal(t, []byte(`{}`), msg.Payload)
	})
}

func TestPromotedDelayedMessageKeepsAvailabilityOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, fc *clock.FakeClock) {
		ctx := context.Background()
		delayed, err := q.Enqueue(ctx, []byte(`{"n":"delayed"}`), EnqueueOptions{Delay: 10 * time.Second})
		require.NoError(t, err)
		fc.Advance(5 * time.Second)
		ready, err := q.Enqueue(ctx, []byte(`{"n":"ready"}`), EnqueueOptions{})
		require.NoError(t, err)
		fc.Advance(10 * time.Second)

		var got []string
		for i := 0; i < 2; i++ {
			msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
			require.NoError(t, err)
			require.NotNil(t, msg)
			got = append(got, msg.ID)
		}
		assert.Equal(t, []string{ready, delayed}, got, "ready since t+5s runs before ready since t+10s")
	})
}

func TestEnqueueRejectsNegativePriority(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{Priority: -1})
		assert.ErrorIs(t, err, ErrInvalidPriority)

		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func TestVisibilityRedelivery(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, fc *clock.FakeClock) {
		ctx := context.Background()
		id, err := q.Enqueue(ctx, []byte(`{"jobId":"job-1"}`), EnqueueOptions{})
		require.NoError(t, err)

		msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, 1, msg.ReceiveCount)

		// Consumer crashed before Ack: hidden until the deadline.
		again, err := q.Reserve(ctx, ReserveOptions{})
		require.NoError(t, err)
		assert.Nil(t, again)

		fc.Advance(time.Minute + time.Second)
		again, err = q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, id, again.ID)
		assert.Equal(t, 2, again.ReceiveCount)
		assert.JSONEq(t, `{"jobId":"job-1"}`, string(again.Payload))
	})
}

func TestAckRemoves(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, fc *clock.FakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{})
		require.NoError(t, err)
		msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
		require.NoError(t, err)
		require.NotNil(t, msg)

		require.NoError(t, q.Ack(ctx, msg.ID))
		assert.ErrorIs(t, q.Ack(ctx, msg.ID), ErrUnknownMessage)

		fc.Advance(time.Hour)
		next, err := q.Reserve(ctx, ReserveOptions{})
		require.NoError(t, err)
		assert.Nil(t, next)
		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func TestFailDeadLetters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, fc *clock.FakeClock) {
		ctx := context.Background()
		_, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{})
		require.NoError(t, err)
		msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
		require.NoError(t, err)
		require.NotNil(t, msg)

		require.NoError(t, q.Fail(ctx, msg.ID, errors.New("job not found")))
		assert.ErrorIs(t, q.Fail(ctx, msg.ID, nil), ErrUnknownMessage)

		fc.Advance(time.Hour)
		next, err := q.Reserve(ctx, ReserveOptions{})
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}

func TestSizeCountsPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{})
			require.NoError(t, err)
		}
		_, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Minute})
		require.NoError(t, err)

		size, err := q.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, size)
	})
}

func TestReserveExclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, q Queue, _ *clock.FakeClock) {
		ctx := context.Background()
		const total = 20
		for i := 0; i < total; i++ {
			_, err := q.Enqueue(ctx, []byte(`{}`), EnqueueOptions{})
			require.NoError(t, err)
		}

		var (
			mu   sync.Mutex
			seen []string
			wg   sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					msg, err := q.Reserve(ctx, ReserveOptions{Visibility: time.Hour})
					if err != nil || msg == nil {
						return
					}
					mu.Lock()
					seen = append(seen, msg.ID)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, seen, total)
		sort.Strings(seen)
		for i := 1; i < len(seen); i++ {
			assert.NotEqual(t, seen[i-1], seen[i], "message delivered twice")
		}
	})
}

func TestReserveWaitsForEnqueue(t *testing.T) {
	q := NewMemoryQueue(nil)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = q.Enqueue(context.Background(), []byte(`{}`), EnqueueOptions{})
	}()
	msg, err := q.Reserve(context.Background(), ReserveOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.NotNil(t, msg)
}

func TestReserveHonoursContext(t *testing.T) {
	q := NewMemoryQueue(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Reserve(ctx, ReserveOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDeadLetters(t *testing.T) {
	q := NewMemoryQueue(clock.NewFakeClock(start))
	ctx := context.Background()
	_, err := q.Enqueue(ctx, []byte(`{"jobId":"gone"}`), EnqueueOptions{})
	require.NoError(t, err)
	msg, err := q.Reserve(ctx, ReserveOptions{})
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, msg.ID, errors.New("job not found")))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, msg.ID, dead[0].ID)
	assert.Equal(t, "job not found", dead[0].Error)
	assert.Equal(t, 1, dead[0].ReceiveCount)
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := Payload{JobID: "job-1", Platform: "douyin", TenantID: "t1", Year: 2025, Month: 3, Mode: "merge"}.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tenant_id":"t1"`)
	assert.Contains(t, string(raw), `"jobId":"job-1"`)

	p, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "douyin", p.Platform)
	assert.Equal(t, 3, p.Month)
}
