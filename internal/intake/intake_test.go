package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/settlr/internal/blob"
	"github.com/smallbiznis/settlr/internal/clock"
	jobdomain "github.com/smallbiznis/settlr/internal/job/domain"
	"github.com/smallbiznis/settlr/internal/job/repository"
	jobservice "github.com/smallbiznis/settlr/internal/job/service"
	"github.com/smallbiznis/settlr/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, payload []byte, opts queue.EnqueueOptions) (string, error) {
	args := m.Called(ctx, payload, opts)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Reserve(ctx context.Context, opts queue.ReserveOptions) (*queue.Message, error) {
	args := m.Called(ctx, opts)
	msg, _ := args.Get(0).(*queue.Message)
	return msg, args.Error(1)
}

func (m *mockQueue) Ack(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockQueue) Fail(ctx context.Context, id string, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *mockQueue) Size(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func setup(t *testing.T, q queue.Queue) (*Service, jobdomain.Service) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&jobdomain.Job{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	fc := clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	jobs := jobservice.New(jobservice.Params{DB: db, Log: log, Repo: repository.Provide(), Clock: fc})
	svc := New(Params{
		Log:   log,
		Jobs:  jobs,
		Queue: q,
		Blobs: blob.NewLocalStore(t.TempDir()),
		Clock: fc,
	})
	return svc, jobs
}

func settlement() []jobdomain.FileRef {
	return []jobdomain.FileRef{{Kind: jobdomain.FileSettlement, ObjectKey: "uploads/t1/settle.xlsx", FileName: "settle.xlsx"}}
}

func TestSubmitCreatesJobThenEnqueues(t *testing.T) {
	q := queue.NewMemoryQueue(nil)
	svc, jobs := setup(t, q)
	ctx := context.Background()

	job, err := svc.Submit(ctx, Request{TenantID: "t1", Platform: "Douyin", Year: 2025, Month: 1, Files: settlement()})
	require.NoError(t, err)
	assert.Equal(t, "douyin", job.Platform)
	assert.Equal(t, jobdomain.StatusPending, job.Status)
	assert.Equal(t, jobdomain.ModeMerge, job.Mode)
	assert.True(t, strings.HasPrefix(job.UploadID, "upload-"))

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	msg, err := q.Reserve(ctx, queue.ReserveOptions{})
	require.NoError(t, err)
	require.NotNil(t, msg)
	p, err := queue.DecodePayload(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, job.ID, p.JobID)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, "merge", p.Mode)
	require.Len(t, p.FileRefs, 1)
}

func TestSubmitValidation(t *testing.T) {
	svc, _ := setup(t, queue.NewMemoryQueue(nil))
	ctx := context.Background()
	orders := append(settlement(), jobdomain.FileRef{Kind: jobdomain.FileOrders, ObjectKey: "uploads/t1/orders.xlsx"})

	cases := []struct {
		name string
		req  Request
		err  error
	}{
		{"tenant", Request{Platform: "douyin", Year: 2025, Month: 1, Files: settlement()}, ErrInvalidTenant},
		{"platform", Request{TenantID: "t1", Platform: "taobao", Year: 2025, Month: 1, Files: settlement()}, ErrInvalidPlatform},
		{"month", Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 13, Files: settlement()}, ErrInvalidPeriod},
		{"year", Request{TenantID: "t1", Platform: "douyin", Year: 0, Month: 1, Files: settlement()}, ErrInvalidPeriod},
		{"mode", Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 1, Mode: "append", Files: settlement()}, ErrInvalidMode},
		{"settlement", Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 1}, ErrMissingSettlement},
		{"blank key", Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 1, Files: []jobdomain.FileRef{{Kind: jobdomain.FileSettlement, ObjectKey: " "}}}, ErrMissingSettlement},
		{"orders", Request{TenantID: "t1", Platform: "xiaohongshu", Year: 2025, Month: 1, Files: settlement()}, ErrMissingOrders},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	job, err := svc.Submit(ctx, Request{TenantID: "t1", Platform: "xiaohongshu", Year: 2025, Month: 1, Mode: "replace", Files: orders})
	require.NoError(t, err)
	assert.Equal(t, jobdomain.ModeReplace, job.Mode)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	q := &mockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("queue down"))
	svc, jobs := setup(t, q)
	ctx := context.Background()

	_, err := svc.Submit(ctx, Request{TenantID: "t1", Platform: "douyin", Year: 2025, Month: 1, UploadID: "u-1", Files: settlement()})
	require.ErrorIs(t, err, ErrEnqueueFailed)
	q.AssertExpectations(t)

	list, _, err := jobs.List(ctx, jobdomain.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobdomain.StatusFailed, list[0].Status)
	assert.Equal(t, "u-1", list[0].UploadID)
}

func TestUpload(t *testing.T) {
	svc, _ := setup(t, queue.NewMemoryQueue(nil))
	ref, err := svc.Upload(context.Background(), "t1", jobdomain.FileOrders, "Orders Jan.xlsx", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, jobdomain.FileOrders, ref.Kind)
	assert.True(t, strings.HasPrefix(ref.ObjectKey, "uploads/t1/"))
	assert.True(t, strings.HasSuffix(ref.ObjectKey, "/orders-jan.xlsx"))
	assert.Equal(t, "Orders Jan.xlsx", ref.FileName)
}
