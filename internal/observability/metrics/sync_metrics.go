package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	FailureReasonDeadlineExceeded = "deadline_exceeded"
	FailureReasonUniqueViolation  = "unique_violation"
	FailureReasonLockTimeout      = "db_lock_timeout"
	FailureReasonTransport        = "transport"
	FailureReasonUnknown          = "unknown"
)

const (
	RowOutcomeProcessed = "processed"
	RowOutcomeSkipped   = "skipped"
	RowOutcomeFailed    = "failed"
)

// Config labels every sync series.
type Config struct {
	ServiceName string
	Environment string
	Node        string
}

// SyncMetrics captures sync engine health signals.
type SyncMetrics struct {
	events      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	transmits   *prometheus.CounterVec
	contingency prometheus.Gauge
	superseded  prometheus.Counter
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewSyncMetrics registers the sync collectors on registerer.
func NewSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{
		"service": defaultLabel(cfg.ServiceName, "possync"),
		"env":     defaultLabel(cfg.Environment, "unknown"),
		"node":    defaultLabel(cfg.Node, "unknown"),
	}

	m := &SyncMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_sync_events_total",
			Help:        "Sync events reaching a terminal state by type and status.",
			ConstLabels: constLabels,
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "possync_sync_duration_seconds",
			Help:        "Sync run latency by type.",
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"type"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_sync_rows_total",
			Help:        "Rows handled by batch operations by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_sync_failures_total",
			Help:        "Sync failures by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"type", "reason"}),
		transmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_push_transmits_total",
			Help:        "Push file transmissions by file kind and result.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		contingency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "possync_contingency_open",
			Help:        "1 while a contingency is open on this node.",
			ConstLabels: constLabels,
		}),
		superseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "possync_sync_superseded_total",
			Help:        "Pending push events discarded because a newer one exists.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_scheduler_job_runs_total",
			Help:        "Background job executions by job.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "possync_scheduler_job_errors_total",
			Help:        "Background job failures by job and reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "possync_scheduler_job_duration_seconds",
			Help:        "Background job latency by job.",
			Buckets:     []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	registerer.MustRegister(
		m.events,
		m.duration,
		m.rows,
		m.failures,
		m.transmits,
		m.contingency,
		m.superseded,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
	)
	return m
}

// ObserveSync records a finished sync run.
func (m *SyncMetrics) ObserveSync(syncType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(syncType, status).Inc()
	m.duration.WithLabelValues(syncType).Observe(elapsed.Seconds())
}

// RecordFailure counts a failed sync run by reason.
func (m *SyncMetrics) RecordFailure(syncType string, err error) {
	if m == nil || err == nil {
		return
	}
	m.failures.WithLabelValues(syncType, ClassifyFailure(err)).Inc()
}

// AddRows increments row counters for a batch kind.
func (m *SyncMetrics) AddRows(kind, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rows.WithLabelValues(kind, outcome).Add(float64(count))
}

// RecordTransmit counts one push file transmission.
func (m *SyncMetrics) RecordTransmit(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.transmits.WithLabelValues(kind, result).Inc()
}

// SetContingencyOpen reflects the contingency state of this node.
func (m *SyncMetrics) SetContingencyOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.contingency.Set(1)
		return
	}
	m.contingency.Set(0)
}

// IncSuperseded counts a superseded pending event.
func (m *SyncMetrics) IncSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

// ObserveJob records one background job execution. A nil err counts as success.
func (m *SyncMetrics) ObserveJob(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		m.jobErrors.WithLabelValues(job, ClassifyFailure(err)).Inc()
	}
}

// ClassifyFailure maps sync errors to low-cardinality reasons.
func ClassifyFailure(err error) string {
	if err == nil {
		return FailureReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return FailureReasonUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return FailureReasonUniqueViolation
		case "55P03":
			return FailureReasonLockTimeout
		}
	}
	var transportErr interface{ Transport() bool }
	if errors.As(err, &transportErr) && transportErr.Transport() {
		return FailureReasonTransport
	}
	return FailureReasonUnknown
}

func defaultLabel(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
