package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "animesearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "upstream_requests_total",
		Help:      "Total requests to the anime database by endpoint and result status.",
	}, []string{"endpoint", "status"})

	UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "animesearch",
		Name:      "upstream_request_duration_seconds",
		Help:      "Anime database request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	UpstreamCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "upstream_cache_hits_total",
		Help:      "Total number of shared upstream response cache hits.",
	})

	UpstreamCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "upstream_cache_misses_total",
		Help:      "Total number of shared upstream response cache misses.",
	})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "result_cache_hits_total",
		Help:      "Total number of single-slot result cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "result_cache_misses_total",
		Help:      "Total number of single-slot result cache misses.",
	})

	OrchestratorDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "orchestrator_decisions_total",
		Help:      "Fetch orchestrator decisions (cache_hit, debounce, superseded, dispatch, immediate).",
	}, []string{"decision"})

	FetchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "animesearch",
		Name:      "fetch_outcomes_total",
		Help:      "Search outcomes by kind (success, cached, cancelled, error).",
	}, []string{"outcome"})

	FetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "animesearch",
		Name:      "fetch_duration_seconds",
		Help:      "Time from dispatch to settle for orchestrated searches.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	UpstreamAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "animesearch",
		Name:      "upstream_available",
		Help:      "1 when the anime database is accepting requests, 0 while the circuit is open.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "animesearch",
		Name:      "active_sessions",
		Help:      "Number of live search sessions.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		UpstreamCacheHitsTotal,
		UpstreamCacheMissesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		OrchestratorDecisionsTotal,
		FetchOutcomesTotal,
		FetchDuration,
		UpstreamAvailable,
		ActiveSessions,
	)
}
