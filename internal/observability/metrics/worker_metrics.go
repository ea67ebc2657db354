package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobOutcomeCompleted  = "completed"
	JobOutcomeFailed     = "failed"
	JobOutcomeSkipped    = "skipped"
	JobOutcomeDeadLetter = "dead_letter"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

const (
	StageFetch     = "fetch"
	StageTransform = "transform"
	StagePartition = "partition"
	StageMerge     = "merge"
	StageEffective = "effective"
)

// WorkerMetrics captures reconciliation worker health signals.
type WorkerMetrics struct {
	jobs          *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobErrors     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	reserveErrors prometheus.Counter
	reserveEmpty  prometheus.Counter
	queueDepth    prometheus.Gauge
	mergeRows     *prometheus.CounterVec
	factRows      *prometheus.CounterVec
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = NewWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

// NewWorkerMetrics registers a fresh set of collectors on registerer.
func NewWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "settlr"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlr_worker_jobs_total",
		Help:        "Reconciliation jobs handled by platform and outcome.",
		ConstLabels: constLabels,
	}, []string{"platform", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "settlr_worker_job_duration_seconds",
		Help:        "End-to-end reconciliation job latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"platform"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlr_worker_job_errors_total",
		Help:        "Reconciliation job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"platform", "reason"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "settlr_worker_stage_duration_seconds",
		Help:        "Pipeline stage latency.",
		Buckets:     []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"stage"})
	reserveErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlr_worker_reserve_errors_total",
		Help:        "Queue reserve failures.",
		ConstLabels: constLabels,
	})
	reserveEmpty := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "settlr_worker_reserve_empty_total",
		Help:        "Reserve calls that returned no message.",
		ConstLabels: constLabels,
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "settlr_queue_pending",
		Help:        "Pending messages observed by the worker.",
		ConstLabels: constLabels,
	})
	mergeRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlr_merge_rows_total",
		Help:        "Row index merge outcomes.",
		ConstLabels: constLabels,
	}, []string{"platform", "outcome"})
	factRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "settlr_fact_rows_total",
		Help:        "Transformed fact rows by validation status.",
		ConstLabels: constLabels,
	}, []string{"platform", "status"})

	registerer.MustRegister(
		jobs,
		jobDuration,
		jobErrors,
		stageDuration,
		reserveErrors,
		reserveEmpty,
		queueDepth,
		mergeRows,
		factRows,
	)

	return &WorkerMetrics{
		jobs:          jobs,
		jobDuration:   jobDuration,
		jobErrors:     jobErrors,
		stageDuration: stageDuration,
		reserveErrors: reserveErrors,
		reserveEmpty:  reserveEmpty,
		queueDepth:    queueDepth,
		mergeRows:     mergeRows,
		factRows:      factRows,
	}
}

func (m *WorkerMetrics) IncJob(platform, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(platform, outcome).Inc()
}

func (m *WorkerMetrics) ObserveJobDuration(platform string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *WorkerMetrics) IncJobError(platform string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(platform, ClassifyJobReason(err)).Inc()
}

func (m *WorkerMetrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *WorkerMetrics) IncReserveError() {
	if m == nil {
		return
	}
	m.reserveErrors.Inc()
}

func (m *WorkerMetrics) IncReserveEmpty() {
	if m == nil {
		return
	}
	m.reserveEmpty.Inc()
}

func (m *WorkerMetrics) SetQueueDepth(n int) {
	if m == nil || n < 0 {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *WorkerMetrics) AddMergeRows(platform, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mergeRows.WithLabelValues(platform, outcome).Add(float64(n))
}

func (m *WorkerMetrics) AddFactRows(platform, status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.factRows.WithLabelValues(platform, status).Add(float64(n))
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if isDBError(err) {
		return JobReasonDB
	}
	return JobReasonUnknown
}

// IsRetryable reports whether err is transient (timeouts, lock contention).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassifyJobReason(err) {
	case JobReasonDeadlineExceeded, JobReasonDBLockTimeout, JobReasonSerializationFailure:
		return true
	}
	return false
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
