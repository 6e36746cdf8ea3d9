package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	challengesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_challenges_issued_total",
		Help: "Total number of challenges issued.",
	})

	verificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_verifications_total",
		Help: "Total number of PoW verification attempts by outcome.",
	}, []string{"outcome"})

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_tokens_issued_total",
		Help: "Total number of access tokens issued.",
	})

	trackedIdentities = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeeper_tracked_identities",
		Help: "Number of identities currently tracked by the trust ledger.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, challengesIssued, verificationsTotal, tokensIssued, trackedIdentities)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
