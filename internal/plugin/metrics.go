package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// stepsTotal counts started steps by whether profiling was active
	stepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_steps_total",
		Help: "Total number of job steps started, by profiling activity",
	}, []string{"active"})

	// samplesTotal counts samples accepted by the collector
	samplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profile_exporter_samples_pushed_total",
		Help: "Total number of samples accepted by the collector",
	})

	// deliveryFailuresTotal counts dropped pushes and deletes
	deliveryFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_exporter_delivery_failures_total",
		Help: "Total number of samples or deletes dropped after delivery failure",
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(samplesTotal)
	prometheus.MustRegister(deliveryFailuresTotal)

	stepsTotal.WithLabelValues("true").Add(0)
	stepsTotal.WithLabelValues("false").Add(0)
	deliveryFailuresTotal.WithLabelValues("push").Add(0)
	deliveryFailuresTotal.WithLabelValues("delete").Add(0)
}
