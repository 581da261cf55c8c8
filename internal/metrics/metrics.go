package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the pipeline's Prometheus metrics.
type Collector struct {
	JobsEnqueued       prometheus.Counter
	JobsCompleted      prometheus.Counter
	JobsFailed         prometheus.Counter
	RateLimited        prometheus.Counter
	CacheHits          prometheus.Counter
	GenerationRetries  prometheus.Counter
	JobsPending        prometheus.Gauge
	JobDurationSeconds prometheus.Histogram
}

// NewCollector creates and registers the collectors on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		JobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total generation jobs accepted into the queue.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total jobs that reached COMPLETED.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total jobs that reached FAILED, sweeps included.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total submissions rejected by the rate limiter.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generation_cache_hits_total",
			Help: "Total submissions served from the result cache.",
		}),
		GenerationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "generation_retries_total",
			Help: "Total retried text-generation attempts.",
		}),
		JobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_pending",
			Help: "Jobs currently waiting in the queue.",
		}),
		JobDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "End-to-end generation duration per job.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		c.JobsEnqueued,
		c.JobsCompleted,
		c.JobsFailed,
		c.RateLimited,
		c.CacheHits,
		c.GenerationRetries,
		c.JobsPending,
		c.JobDurationSeconds,
	)
	return c
}
