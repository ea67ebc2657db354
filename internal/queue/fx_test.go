package queue

import (
	"testing"

	"github.com/smallbiznis/settlr/internal/clock"
	"github.com/smallbiznis/settlr/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestNewSelectsBackend(t *testing.T) {
	base := Params{Lifecycle: fxtest.NewLifecycle(t), Clock: clock.SystemClock{}, Log: zap.NewNop()}

	p := base
	p.Cfg.Queue.Backend = config.QueueBackendMemory
	q, err := New(p)
	require.NoError(t, err)
	assert.IsType(t, &MemoryQueue{}, q)

	p = base
	p.Cfg.Queue = config.QueueConfig{Backend: config.QueueBackendFile, Dir: t.TempDir(), Name: "reconcile"}
	q, err = New(p)
	require.NoError(t, err)
	assert.IsType(t, &FileQueue{}, q)

	p = base
	p.Cfg.Queue.Backend = config.QueueBackendRedis
	_, err = New(p)
	assert.Error(t, err)

	p = base
	p.Cfg.Queue.Backend = config.QueueBackendDatabase
	_, err = New(p)
	assert.Error(t, err)

	p = base
	p.Cfg.Queue.Backend = "sqs"
	_, err = New(p)
	assert.Error(t, err)
}
