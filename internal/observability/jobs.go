package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics exposes collectors for background jobs.
type JobMetrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	issues   *prometheus.GaugeVec
}

// NewJobMetrics registers the job collectors against registerer.
func NewJobMetrics(registerer prometheus.Registerer) *JobMetrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Job executions by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_failures_total",
		Help:      "Failed job executions.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Job execution time in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	issues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "integrity_issues",
		Help:      "Issues found by the last integrity check per period.",
	}, []string{"period"})
	registerer.MustRegister(runs, failures, duration, issues)
	return &JobMetrics{runs: runs, failures: failures, duration: duration, issues: issues}
}

// Tracker instruments one job run.
type Tracker struct {
	metrics *JobMetrics
	job     string
	start   time.Time
}

// Track starts a tracker for job.
func (m *JobMetrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records duration and status, and returns err untouched.
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

// SetIntegrityIssues publishes the issue count of the last check on period.
func (m *JobMetrics) SetIntegrityIssues(periodID string, count int) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues(periodID).Set(float64(count))
}
