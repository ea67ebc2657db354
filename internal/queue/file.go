package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/settlr/internal/clock"
	"go.uber.org/zap"
)

const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"

	maxFilePriority = 999999
)

type fileMessage struct {
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
	AvailableAt  time.Time       `json:"availableAt"`
	ReceiveCount int             `json:"receiveCount"`
	VisibleUntil *time.Time      `json:"visibleUntil,omitempty"`
	Error        string          `json:"error,omitempty"`
	FailedAt     *time.Time      `json:"failedAt,omitempty"`
}

// FileQueue keeps one JSON file per message so several local processes can
// share a queue directory. A message is owned by whoever renames it out of
// pending/ first.
//
// Pending names sort by priority, then availability, then id:
//
//	p000000-a0001736000000000-<ulid>.json
//
// Reserved files carry their visibility deadline as a prefix:
//
//	d0001736000600000-p000000-a0001736000000000-<ulid>.json
type FileQueue struct {
	root  string
	clock clock.Clock
	log   *zap.Logger
}

func NewFileQueue(root string, c clock.Clock, log *zap.Logger) (*FileQueue, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("queue_dir_required")
	}
	if c == nil {
		c = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	for _, dir := range []string{dirPending, dirProcessing, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}
	return &FileQueue{root: root, clock: c, log: log.Named("queue.file")}, nil
}

func (q *FileQueue) Enqueue(_ context.Context, payload []byte, opts EnqueueOptions) (string, error) {
	if err := validateEnqueue(payload, opts); err != nil {
		return "", err
	}
	now := q.clock.Now()
	msg := fileMessage{
		ID:          newID(now),
		Payload:     json.RawMessage(payload),
		Priority:    clampPriority(opts.Priority),
		EnqueuedAt:  now,
		AvailableAt: now.Add(opts.Delay),
	}
	name := pendingName(msg.Priority, msg.AvailableAt, msg.ID)
	if err := q.writeJSON(filepath.Join(q.root, dirPending, name), msg); err != nil {
		return "", err
	}
	q.log.Debug("queue.enqueue", zap.String("message_id", msg.ID))
	return msg.ID, nil
}

func (q *FileQueue) Reserve(ctx context.Context, opts ReserveOptions) (*Message, error) {
	visibility := visibilityOrDefault(opts.Visibility)
	return poll(ctx, opts.Timeout, defaultPollInterval, func() (*Message, error) {
		return q.tryReserve(visibility)
	})
}

func (q *FileQueue) tryReserve(visibility time.Duration) (*Message, error) {
	now := q.clock.Now()
	if err := q.Sweep(); err != nil {
		q.log.Warn("queue.sweep.error", zap.Error(err))
	}

	names, err := q.list(dirPending)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		_, availableAt, _, ok := parsePendingName(name)
		if !ok || availableAt.After(now) {
			continue
		}
		deadline := now.Add(visibility)
		target := filepath.Join(q.root, dirProcessing, processingName(deadline, name))
		if err := os.Rename(filepath.Join(q.root, dirPending, name), target); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		msg, err := q.readMessage(target)
		if err != nil {
			q.log.Warn("queue.reserve.corrupt", zap.String("file", name), zap.Error(err))
			q.moveCorrupt(target, name, err)
			continue
		}
		msg.ReceiveCount++
		msg.VisibleUntil = &deadline
		if err := q.writeJSON(target, msg); err != nil {
			return nil, err
		}
		return &Message{ID: msg.ID, Payload: []byte(msg.Payload), ReceiveCount: msg.ReceiveCount}, nil
	}
	return nil, nil
}

func (q *FileQueue) Ack(_ context.Context, id string) error {
	path, err := q.findProcessing(id)
	if err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(q.root, dirCompleted, id+".json"))
}

func (q *FileQueue) Fail(_ context.Context, id string, cause error) error {
	path, err := q.findProcessing(id)
	if err != nil {
		return err
	}
	msg, err := q.readMessage(path)
	if err != nil {
		return err
	}
	now := q.clock.Now()
	msg.Error = causeString(cause)
	msg.FailedAt = &now
	msg.VisibleUntil = nil
	if err := q.writeJSON(filepath.Join(q.root, dirFailed, id+".json"), msg); err != nil {
		return err
	}
	return os.Remove(path)
}

func (q *FileQueue) Size(context.Context) (int, error) {
	names, err := q.list(dirPending)
	return len(names), err
}

// Sweep returns processing files whose visibility deadline passed to pending.
func (q *FileQueue) Sweep() error {
	names, err := q.list(dirProcessing)
	if err != nil {
		return err
	}
	now := q.clock.Now()
	for _, name := range names {
		deadline, pending, ok := parseProcessingName(name)
		if !ok || deadline.After(now) {
			continue
		}
		err := os.Rename(filepath.Join(q.root, dirProcessing, name), filepath.Join(q.root, dirPending, pending))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err == nil {
			q.log.Info("queue.requeue.expired", zap.String("file", pending))
		}
	}
	return nil
}

// RunSweeper sweeps on every tick until ctx is done.
func (q *FileQueue) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Sweep(); err != nil {
				q.log.Warn("queue.sweep.error", zap.Error(err))
			}
		}
	}
}

func (q *FileQueue) findProcessing(id string) (string, error) {
	names, err := q.list(dirProcessing)
	if err != nil {
		return "", err
	}
	suffix := "-" + id + ".json"
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			return filepath.Join(q.root, dirProcessing, name), nil
		}
	}
	return "", ErrUnknownMessage
}

func (q *FileQueue) moveCorrupt(path, name string, cause error) {
	raw, _ := os.ReadFile(path)
	now := q.clock.Now()
	msg := fileMessage{ID: strings.TrimSuffix(name, ".json"), Payload: nil, Error: cause.Error(), FailedAt: &now}
	if json.Valid(raw) {
		msg.Payload = raw
	}
	if err := q.writeJSON(filepath.Join(q.root, dirFailed, name), msg); err == nil {
		_ = os.Remove(path)
	}
}

func (q *FileQueue) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, dir))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (q *FileQueue) readMessage(path string) (fileMessage, error) {
	var msg fileMessage
	raw, err := os.ReadFile(path)
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(raw, &msg)
	return msg, err
}

// writeJSON writes through a hidden temp file so readers never see partial JSON.
func (q *FileQueue) writeJSON(path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// clampPriority caps p to the width of the pending file name field.
func clampPriority(p int) int {
	return min(p, maxFilePriority)
}

func pendingName(priority int, availableAt time.Time, id string) string {
	return fmt.Sprintf("p%06d-a%016d-%s.json", priority, availableAt.UnixMilli(), id)
}

func parsePendingName(name string) (int, time.Time, string, bool) {
	parts := strings.SplitN(strings.TrimSuffix(name, ".json"), "-", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "p") || !strings.HasPrefix(parts[1], "a") {
		return 0, time.Time{}, "", false
	}
	priority, err := strconv.Atoi(parts[0][1:])
	if err != nil {
		return 0, time.Time{}, "", false
	}
	ms, err := strconv.ParseInt(parts[1][1:], 10, 64)
	if err != nil {
		return 0, time.Time{}, "", false
	}
	return priority, time.UnixMilli(ms).UTC(), parts[2], true
}

func processingName(deadline time.Time, pending string) string {
	return fmt.Sprintf("d%016d-%s", deadline.UnixMilli(), pending)
}

func parseProcessingName(name string) (time.Time, string, bool) {
	prefix, rest, ok := strings.Cut(name, "-")
	if !ok || !strings.HasPrefix(prefix, "d") {
		return time.Time{}, "", false
	}
	ms, err := strconv.ParseInt(prefix[1:], 10, 64)
	if err != nil {
		return time.Time{}, "", false
	}
	return time.UnixMilli(ms).UTC(), rest, true
}
