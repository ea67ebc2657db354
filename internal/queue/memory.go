package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/settlr/internal/clock"
)

type memoryItem struct {
	id           string
	payload      []byte
	priority     int
	availableAt  time.Time
	seq          uint64
	receiveCount int
	deadline     time.Time
	timer        *time.Timer
}

// DeadLetter is a message that was failed by a consumer.
type DeadLetter struct {
	ID           string
	Payload      []byte
	ReceiveCount int
	Error        string
	FailedAt     time.Time
}

// MemoryQueue is a process-local queue for tests and single-process runs.
type MemoryQueue struct {
	mu       sync.Mutex
	clock    clock.Clock
	seq      uint64
	pending  []*memoryItem
	inflight map[string]*memoryItem
	dead     []DeadLetter
}

func NewMemoryQueue(c clock.Clock) *MemoryQueue {
	if c == nil {
		c = clock.SystemClock{}
	}
	return &MemoryQueue{
		clock:    c,
		inflight: make(map[string]*memoryItem),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	if err := validateEnqueue(payload, opts); err != nil {
		return "", err
	}
	now := q.clock.Now()
	item := &memoryItem{
		id:          newID(now),
		payload:     append([]byte(nil), payload...),
		priority:    opts.Priority,
		availableAt: now.Add(opts.Delay),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	item.seq = q.seq
	q.insertLocked(item)
	return item.id, nil
}

func (q *MemoryQueue) Reserve(ctx context.Context, opts ReserveOptions) (*Message, error) {
	visibility := visibilityOrDefault(opts.Visibility)
	return poll(ctx, opts.Timeout, defaultPollInterval, func() (*Message, error) {
		return q.tryReserve(visibility), nil
	})
}

func (q *MemoryQueue) tryReserve(visibility time.Duration) *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	q.requeueExpiredLocked(now)

	for i, item := range q.pending {
		if item.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		item.receiveCount++
		item.deadline = now.Add(visibility)
		id := item.id
		item.timer = time.AfterFunc(visibility, func() { q.expire(id) })
		q.inflight[id] = item
		return &Message{
			ID:           item.id,
			Payload:      append([]byte(nil), item.payload...),
			ReceiveCount: item.receiveCount,
		}
	}
	return nil
}

func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inflight[id]
	if !ok {
		return ErrUnknownMessage
	}
	q.releaseLocked(item)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inflight[id]
	if !ok {
		return ErrUnknownMessage
	}
	q.releaseLocked(item)
	q.dead = append(q.dead, DeadLetter{
		ID:           item.id,
		Payload:      item.payload,
		ReceiveCount: item.receiveCount,
		Error:        causeString(cause),
		FailedAt:     q.clock.Now(),
	})
	return nil
}

func (q *MemoryQueue) Size(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked(q.clock.Now())
	return len(q.pending), nil
}

// DeadLetters returns a copy of the failed messages.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

func (q *MemoryQueue) expire(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.inflight[id]
	if !ok {
		return
	}
	// The timer runs on wall time; a fake clock may not have reached the deadline.
	if q.clock.Now().Before(item.deadline) {
		return
	}
	delete(q.inflight, id)
	item.timer = nil
	q.insertLocked(item)
}

func (q *MemoryQueue) requeueExpiredLocked(now time.Time) {
	for id, item := range q.inflight {
		if now.Before(item.deadline) {
			continue
		}
		delete(q.inflight, id)
		if item.timer != nil {
			item.timer.Stop()
			item.timer = nil
		}
		q.insertLocked(item)
	}
}

func (q *MemoryQueue) releaseLocked(item *memoryItem) {
	delete(q.inflight, item.id)
	if item.timer != nil {
		item.timer.Stop()
		item.timer = nil
	}
}

func (q *MemoryQueue) insertLocked(item *memoryItem) {
	q.pending = append(q.pending, item)
	sort.SliceStable(q.pending, func(i, j int) bool {
		a, b := q.pending[i], q.pending[j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if !a.availableAt.Equal(b.availableAt) {
			return a.availableAt.Before(b.availableAt)
		}
		return a.seq < b.seq
	})
}
