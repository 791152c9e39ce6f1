package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	syncedUsers    *prometheus.CounterVec
	insertFailures *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddSynced counts users processed by a sync run of strategy in tenantID.
func (m *Metrics) AddSynced(strategy string, tenantID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.syncedUsers.WithLabelValues(strategy, formatInt(tenantID)).Add(float64(count))
}

// AddInsertFailures counts bulk insert statements that failed in tenantID.
func (m *Metrics) AddInsertFailures(tenantID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.insertFailures.WithLabelValues(formatInt(tenantID)).Add(float64(count))
}

func formatInt(v int64) string {
	if v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleterms_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleterms_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roleterms_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	synced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleterms_sync_users_total",
		Help: "Users processed by role sync runs grouped by strategy and tenant.",
	}, []string{"strategy", "tenant"})
	inserts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roleterms_sync_insert_failures_total",
		Help: "Failed bulk assignment inserts during fast-bulk sync runs.",
	}, []string{"tenant"})
	registerer.MustRegister(runs, failures, duration, synced, inserts)
	return &Metrics{runs: runs, failures: failures, duration: duration, syncedUsers: synced, insertFailures: inserts}
}
