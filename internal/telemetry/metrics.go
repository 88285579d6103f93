package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scoring-service/internal/queue"
)

var (
	once sync.Once

	SubmissionsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_submissions_created_total", Help: "Submissions created"})
	SubmissionsFinalized = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_submissions_finalized_total", Help: "Submissions finalized into score jobs"})
	JobsEnqueued         = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_jobs_enqueued_total", Help: "Score jobs handed to the queue"})
	JobsCompleted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_jobs_completed_total", Help: "Score jobs that reached DONE"})
	JobsRetried          = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_jobs_retried_total", Help: "Failed attempts scheduled for retry"})
	JobsFailed           = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_jobs_failed_total", Help: "Score jobs that reached ERROR"})
	JobsStalled          = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_jobs_stalled_total", Help: "Attempts reclaimed after their lease expired"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scoring_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	InFlightGauge        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scoring_worker_inflight", Help: "Attempts currently executing in this worker"})

	ScoringDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoring_duration_seconds",
		Help:    "Time spent in the scorer per attempt",
		Buckets: prometheus.DefBuckets,
	})
	QueueEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scoring_queue_entries",
		Help: "Queue entries by state",
	}, []string{"state"})
	HTTPRequests = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scoring_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsCreated,
			SubmissionsFinalized,
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsStalled,
			RateLimitRejects,
			InFlightGauge,
			ScoringDuration,
			QueueEntries,
			HTTPRequests,
		)
	})
	return promhttp.Handler()
}

// RecordQueueMetrics publishes a queue snapshot to the per-state gauges.
func RecordQueueMetrics(m queue.Metrics) {
	QueueEntries.WithLabelValues(string(queue.StateWaiting)).Set(float64(m.Waiting))
	QueueEntries.WithLabelValues(string(queue.StateActive)).Set(float64(m.Active))
	QueueEntries.WithLabelValues(string(queue.StateDelayed)).Set(float64(m.Delayed))
	QueueEntries.WithLabelValues(string(queue.StateCompleted)).Set(float64(m.Completed))
	QueueEntries.WithLabelValues(string(queue.StateFailed)).Set(float64(m.Failed))
}
