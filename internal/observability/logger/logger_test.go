package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/settlr/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := obscontext.WithJobID(obscontext.WithTenantID(context.Background(), "t1"), "job-1")

	WithContext(ctx, zap.New(core)).Info("x")

	entry := logs.All()[0].ContextMap()
	assert.Equal(t, "t1", entry["tenant_id"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.NotContains(t, entry, "trace_id")
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/healthz", 200, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/v1/jobs", 503, ""))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/v1/jobs", 400, "validation_error"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/jobs", 404, "not_found"))
}

func TestGinMiddlewareLogsPeriod(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/v1/datasets/:tenant/:platform/:year/:month", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets/t1/wechat_video/2024/12", nil)
	req.Header.Set("X-Request-ID", "req-9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-9", rec.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "http.request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "wechat_video", fields["platform"])
	assert.Equal(t, "2024-12", fields["period"])
}

func TestGormHelpers(t *testing.T) {
	assert.Equal(t, "INSERT", operationFromSQL(`INSERT INTO "dataset_rows" ("a") VALUES (1)`))
	assert.Equal(t, "SELECT", operationFromSQL("WITH x AS (SELECT 1) SELECT * FROM x"))
	assert.Equal(t, "OTHER", operationFromSQL("CREATE TABLE t (id int)"))

	long := strings.Repeat("x", maxLoggedSQL+10)
	assert.Len(t, truncateSQL(long), maxLoggedSQL+3)
}
