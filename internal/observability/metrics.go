package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_cache_hits_total",
			Help: "Total number of fresh cache hits served without re-execution.",
		},
	)
	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_cache_misses_total",
			Help: "Total number of cache lookups that did not yield a fresh entry.",
		},
	)
	submissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_submissions_total",
			Help: "Total number of query submissions sent to the remote service.",
		},
	)
	pollAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_poll_attempts_total",
			Help: "Total number of execution status checks.",
		},
	)
	pollTransientErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_poll_transient_errors_total",
			Help: "Total number of status checks that failed transiently and were retried.",
		},
	)
	fetchBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queryctl_fetch_bytes_total",
			Help: "Total bytes downloaded from result objects.",
		},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queryctl_query_duration_seconds",
			Help:    "End-to-end query latency from validation to terminal outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryctl_outcomes_total",
			Help: "Terminal query outcomes by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		cacheHitsTotal,
		cacheMissesTotal,
		submissionsTotal,
		pollAttemptsTotal,
		pollTransientErrorsTotal,
		fetchBytesTotal,
		queryDurationSeconds,
		outcomesTotal,
	)
}

func IncCacheHit()           { cacheHitsTotal.Inc() }
func IncCacheMiss()          { cacheMissesTotal.Inc() }
func IncSubmission()         { submissionsTotal.Inc() }
func IncPollAttempt()        { pollAttemptsTotal.Inc() }
func IncPollTransientError() { pollTransientErrorsTotal.Inc() }

func AddFetchBytes(n int64) {
	if n > 0 {
		fetchBytesTotal.Add(float64(n))
	}
}

func ObserveQueryDuration(d time.Duration) {
	queryDurationSeconds.Observe(d.Seconds())
}

func IncOutcome(kind string) {
	outcomesTotal.WithLabelValues(kind).Inc()
}
