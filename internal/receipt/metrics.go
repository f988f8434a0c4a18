package receipt

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpRequests counts requests by method, route pattern and status code
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragon_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paragon_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route"},
	)

	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paragon_uploads_total",
			Help: "Receipt uploads by result (extracted, fallback, cached, rejected).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, uploadsTotal)
}
