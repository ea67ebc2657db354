package queue

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/settlr/internal/clock"
	"gorm.io/gorm"
)

const dbReserveCandidates = 5

// QueueMessage is a row of queue_messages. Times are unix millis so ordering
// and comparisons behave the same on every dialect.
type QueueMessage struct {
	ID               string `gorm:"primaryKey;type:varchar(32)"`
	Queue            string `gorm:"type:varchar(64);not null;index:idx_queue_messages_ready,priority:1"`
	Payload          []byte `gorm:"not null"`
	Priority         int    `gorm:"not null;default:0;index:idx_queue_messages_ready,priority:2"`
	AvailableAtMs    int64  `gorm:"not null;index:idx_queue_messages_ready,priority:3"`
	ReservedUntilMs  int64  `gorm:"not null;default:0"`
	ReceiveCount     int    `gorm:"not null;default:0"`
	DeadLetteredAtMs int64  `gorm:"not null;default:0"`
	Error            string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (QueueMessage) TableName() string { return "queue_messages" }

// DBQueue stores messages in the application database. Reservation is a
// conditional update, so concurrent workers cannot claim the same row.
type DBQueue struct {
	db    *gorm.DB
	name  string
	clock clock.Clock
}

func NewDBQueue(db *gorm.DB, name string, c clock.Clock) (*DBQueue, error) {
	if db == nil {
		return nil, errors.New("queue_db_not_configured")
	}
	if name == "" {
		name = "reconcile"
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	return &DBQueue{db: db, name: name, clock: c}, nil
}

func (q *DBQueue) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	if err := validateEnqueue(payload, opts); err != nil {
		return "", err
	}
	now := q.clock.Now()
	msg := QueueMessage{
		ID:            newID(now),
		Queue:         q.name,
		Payload:       payload,
		Priority:      opts.Priority,
		AvailableAtMs: now.Add(opts.Delay).UnixMilli(),
		CreatedAt:     now,
	}
	if err := q.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (q *DBQueue) Reserve(ctx context.Context, opts ReserveOptions) (*Message, error) {
	visibility := visibilityOrDefault(opts.Visibility)
	return poll(ctx, opts.Timeout, defaultPollInterval, func() (*Message, error) {
		return q.tryReserve(ctx, visibility)
	})
}

func (q *DBQueue) tryReserve(ctx context.Context, visibility time.Duration) (*Message, error) {
	now := q.clock.Now().UnixMilli()
	var candidates []QueueMessage
	err := q.ready(q.db.WithContext(ctx), now).
		Order("priority ASC, available_at_ms ASC, id ASC").
		Limit(dbReserveCandidates).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	deadline := q.clock.Now().Add(visibility).UnixMilli()
	for _, c := range candidates {
		res := q.db.WithContext(ctx).Model(&QueueMessage{}).
			Where("id = ? AND dead_lettered_at_ms = 0 AND reserved_until_ms <= ?", c.ID, now).
			Updates(map[string]any{
				"reserved_until_ms": deadline,
				"receive_count":     gorm.Expr("receive_count + 1"),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &Message{ID: c.ID, Payload: c.Payload, ReceiveCount: c.ReceiveCount + 1}, nil
		}
	}
	return nil, nil
}

func (q *DBQueue) Ack(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).
		Where("id = ? AND queue = ? AND dead_lettered_at_ms = 0", id, q.name).
		Delete(&QueueMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownMessage
	}
	return nil
}

func (q *DBQueue) Fail(ctx context.Context, id string, cause error) error {
	res := q.db.WithContext(ctx).Model(&QueueMessage{}).
		Where("id = ? AND queue = ? AND dead_lettered_at_ms = 0", id, q.name).
		Updates(map[string]any{
			"dead_lettered_at_ms": q.clock.Now().UnixMilli(),
			"error":               causeString(cause),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownMessage
	}
	return nil
}

func (q *DBQueue) Size(ctx context.Context) (int, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&QueueMessage{}).
		Where("queue = ? AND dead_lettered_at_ms = 0 AND reserved_until_ms <= ?", q.name, q.clock.Now().UnixMilli()).
		Count(&n).Error
	return int(n), err
}

// DeadLetters lists failed messages, oldest first.
func (q *DBQueue) DeadLetters(ctx context.Context) ([]QueueMessage, error) {
	var out []QueueMessage
	err := q.db.WithContext(ctx).
		Where("queue = ? AND dead_lettered_at_ms > 0", q.name).
		Order("dead_lettered_at_ms ASC").
		Find(&out).Error
	return out, err
}

func (q *DBQueue) ready(tx *gorm.DB, now int64) *gorm.DB {
	return tx.Model(&QueueMessage{}).
		Where("queue = ? AND dead_lettered_at_ms = 0 AND available_at_ms <= ? AND reserved_until_ms <= ?", q.name, now, now)
}
