package exporter

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// requestsTotal tracks collector requests by HTTP method
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_requests_total",
		Help: "Total number of requests sent to the metrics collector",
	}, []string{"method"})

	// errorsTotal tracks failed collector requests by method and error type
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_errors_total",
		Help: "Total number of failed collector requests by error type",
	}, []string{"method", "error_type"})

	// retriesTotal tracks immediate retry attempts
	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_retries_total",
		Help: "Total number of immediate retry attempts",
	}, []string{"method"})

	// requestDuration tracks wall-clock time per call including retries
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "profile_exporter_request_duration_seconds",
		Help:    "Duration of push and delete calls to the collector",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})

	// bytesTotal tracks request body bytes sent on the wire
	bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_bytes_total",
		Help: "Total payload bytes sent to the collector",
	}, []string{"compression"})
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(bytesTotal)

	// Initialize series with 0 so they appear in /metrics immediately
	for _, method := range []string{"POST", "DELETE"} {
		requestsTotal.WithLabelValues(method).Add(0)
		retriesTotal.WithLabelValues(method).Add(0)
		for _, errType := range errorTypes {
			errorsTotal.WithLabelValues(method, string(errType)).Add(0)
		}
	}
	bytesTotal.WithLabelValues("none").Add(0)
	bytesTotal.WithLabelValues("gzip").Add(0)
	bytesTotal.WithLabelValues("zstd").Add(0)
}
