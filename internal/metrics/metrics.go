// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets shared by every latency histogram.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oncesecret_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oncesecret_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route", "status"})

	dbQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oncesecret_db_query_duration_seconds",
		Help:    "Database query duration in seconds.",
		Buckets: latencyBuckets,
	}, []string{"operation", "status"})

	secretOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oncesecret_secret_operations_total",
		Help: "Secret lifecycle operations by outcome.",
	}, []string{"operation", "outcome"})

	secretOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oncesecret_secret_operation_duration_seconds",
		Help:    "Secret lifecycle operation duration in seconds.",
		Buckets: latencyBuckets,
	}, []string{"operation", "outcome"})

	sweepDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oncesecret_sweep_deleted_total",
		Help: "Rows removed by the expiry sweeper.",
	})

	sweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oncesecret_sweep_failures_total",
		Help: "Sweeper runs that failed.",
	})

	secretsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oncesecret_secrets_pending",
		Help: "Secrets that are unclaimed and unexpired as of the last sweep.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		dbQueryDuration,
		secretOperationsTotal,
		secretOperationDuration,
		sweepDeletedTotal,
		sweepFailuresTotal,
		secretsPending,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request. route must be a route
// pattern, never a raw path.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	httpRequestDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// ObserveQuery matches storage.QueryObserver.
func ObserveQuery(operation string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(d.Seconds())
}

// Operations records secret lifecycle outcomes.
type Operations struct{}

func (Operations) ObserveOperation(operation, outcome string, d time.Duration) {
	secretOperationsTotal.WithLabelValues(operation, outcome).Inc()
	secretOperationDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// Sweeps records sweeper results.
type Sweeps struct{}

func (Sweeps) ObserveSweep(deleted int64, err error) {
	if err != nil {
		sweepFailuresTotal.Inc()
		return
	}
	sweepDeletedTotal.Add(float64(deleted))
}

func (Sweeps) SetPending(n int64) {
	secretsPending.Set(float64(n))
}
