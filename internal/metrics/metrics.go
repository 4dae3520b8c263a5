// Package metrics exposes Prometheus collectors for the socialscope service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsClaimedTotal           *prometheus.CounterVec
	jobsCompletedTotal         *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	leasesReclaimedTotal       prometheus.Counter
	datasetsFinishedTotal      *prometheus.CounterVec
	searchesTotal              *prometheus.CounterVec
	scrapedPostsTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsClaimedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialscope_jobs_claimed_total",
				Help: "Total number of jobs claimed by workers, labeled by job type.",
			},
			[]string{"type"},
		)

		jobsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialscope_jobs_completed_total",
				Help: "Total number of claimed jobs handed back, labeled by job type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "socialscope_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		leasesReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "socialscope_leases_reclaimed_total",
				Help: "Total number of expired job leases returned to the queue.",
			},
		)

		datasetsFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialscope_datasets_finished_total",
				Help: "Total number of datasets finished, labeled by dataset type.",
			},
			[]string{"type"},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialscope_searches_total",
				Help: "Total number of searches executed, labeled by execution path.",
			},
			[]string{"path"},
		)

		scrapedPostsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialscope_scraped_posts_total",
				Help: "Total number of posts stored by scrapers, labeled by board.",
			},
			[]string{"board"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socialscope_rate_limit_delay_seconds",
				Help:    "Time scraper requests waited for a rate limit token, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim records a job claim.
func ObserveClaim(jobType string) {
	Init()
	jobsClaimedTotal.WithLabelValues(jobType).Inc()
}

// ObserveJob records how a claimed job was handed back (finished, retried, failed, interrupted).
func ObserveJob(jobType, outcome string) {
	Init()
	jobsCompletedTotal.WithLabelValues(jobType, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveReclaimed adds n reclaimed leases.
func ObserveReclaimed(n int) {
	Init()
	if n > 0 {
		leasesReclaimedTotal.Add(float64(n))
	}
}

// ObserveDatasetFinished records a finished dataset.
func ObserveDatasetFinished(datasetType string) {
	Init()
	datasetsFinishedTotal.WithLabelValues(datasetType).Inc()
}

// ObserveSearch records which execution path a search took.
func ObserveSearch(path string) {
	Init()
	searchesTotal.WithLabelValues(path).Inc()
}

// ObserveScrapedPosts adds n posts stored for board.
func ObserveScrapedPosts(board string, n int) {
	Init()
	if n > 0 {
		scrapedPostsTotal.WithLabelValues(board).Add(float64(n))
	}
}

// ObserveRateLimitDelay records how long a request to host waited for the limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
