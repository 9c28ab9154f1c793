package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsFn interface {
	IncJobsFetched(n int)
	IncJobsClaimed()
	IncClaimConflicts()
	IncJobsCompleted()
	IncJobsFailed()

	IncInflight()
	DecInflight()

	ObserveJobDuration(jobType string, d time.Duration)
	IncProviderRequest(provider, outcome string)
}

// Metrics registers on its own registry so several schedulers (and tests)
// can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// counters
	jobsFetched      prometheus.Counter
	jobsClaimed      prometheus.Counter
	claimConflicts   prometheus.Counter
	jobsCompleted    prometheus.Counter
	jobsFailed       prometheus.Counter
	providerRequests *prometheus.CounterVec

	// gauges
	inflight prometheus.Gauge

	jobDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		jobsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_fetched_total",
			Help: "Jobs returned by eligible-job fetches",
		}),
		jobsClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_claimed_total",
			Help: "Jobs this process moved from queued to running",
		}),
		claimConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_claim_conflicts_total",
			Help: "Claims lost to another worker",
		}),
		jobsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_completed_total",
			Help: "Jobs recorded as completed",
		}),
		jobsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_jobs_failed_total",
			Help: "Jobs recorded as failed",
		}),
		providerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_provider_requests_total",
			Help: "Completion requests per provider and outcome",
		}, []string{"provider", "outcome"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_jobs_inflight",
			Help: "Jobs currently being processed",
		}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Job processing duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"type"}),
	}
}

// counters
func (m *Metrics) IncJobsFetched(n int) { m.jobsFetched.Add(float64(n)) }
func (m *Metrics) IncJobsClaimed()      { m.jobsClaimed.Inc() }
func (m *Metrics) IncClaimConflicts()   { m.claimConflicts.Inc() }
func (m *Metrics) IncJobsCompleted()    { m.jobsCompleted.Inc() }
func (m *Metrics) IncJobsFailed()       { m.jobsFailed.Inc() }

func (m *Metrics) IncProviderRequest(provider, outcome string) {
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
}

// gauges
func (m *Metrics) IncInflight() { m.inflight.Inc() }
func (m *Metrics) DecInflight() { m.inflight.Dec() }

func (m *Metrics) ObserveJobDuration(jobType string, d time.Duration) {
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Http handler

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type Nop struct{}

func (Nop) IncJobsFetched(int)                       {}
func (Nop) IncJobsClaimed()                          {}
func (Nop) IncClaimConflicts()                       {}
func (Nop) IncJobsCompleted()                        {}
func (Nop) IncJobsFailed()                           {}
func (Nop) IncInflight()                             {}
func (Nop) DecInflight()                             {}
func (Nop) ObserveJobDuration(string, time.Duration) {}
func (Nop) IncProviderRequest(string, string)        {}
