// Package queue provides at-least-once job notification over pluggable backends.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
)

const (
	defaultVisibility   = 10 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

var (
	ErrUnknownMessage = errors.New("unknown_message")
	ErrEmptyPayload   = errors.New("empty_payload")
	// ErrInvalidPriority is returned for a negative priority.
	ErrInvalidPriority = errors.New("invalid_priority")
)

// Message is a reserved delivery. ReceiveCount starts at 1.
type Message struct {
	ID           string
	Payload      []byte
	ReceiveCount int
}

type EnqueueOptions struct {
	Delay time.Duration
	// Priority orders ascending: lower runs first. Negative values are
	// rejected; the redis and file backends cap large values at 899 and
	// 999999 respectively.
	Priority int
}

type ReserveOptions struct {
	// Timeout bounds how long Reserve waits for a message. Zero polls once.
	Timeout time.Duration
	// Visibility hides the message from other consumers until Ack or Fail.
	Visibility time.Duration
}

// Queue is implemented by every backend.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) (string, error)
	// Reserve returns nil, nil when nothing became available within Timeout.
	Reserve(ctx context.Context, opts ReserveOptions) (*Message, error)
	Ack(ctx context.Context, id string) error
	// Fail dead-letters the message with cause attached.
	Fail(ctx context.Context, id string, cause error) error
	// Size is the approximate number of pending messages.
	Size(ctx context.Context) (int, error)
}

// Payload is the work notification; the job record stays the source of truth.
type Payload struct {
	JobID    string              `json:"jobId"`
	Platform string              `json:"platform"`
	TenantID string              `json:"tenant_id"`
	Year     int                 `json:"year"`
	Month    int                 `json:"month"`
	Mode     string              `json:"mode"`
	FileRefs []jobdomain.FileRef `json:"fileRefs"`
}

func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(b, &p)
	return p, err
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func validateEnqueue(payload []byte, opts EnqueueOptions) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if opts.Priority < 0 {
		return ErrInvalidPriority
	}
	return nil
}

func visibilityOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultVisibility
	}
	return d
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// poll calls try until it yields a message, the timeout passes or ctx ends.
func poll(ctx context.Context, timeout, interval time.Duration, try func() (*Message, error)) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		msg, err := try()
		if err != nil || msg != nil {
			return msg, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
