// Package metrics collects Prometheus metrics for the dispatch loop.
//
// Metrics follow the RED method per command:
//
//	pcbdrill_requests_total{command,outcome}   counter, outcome is "success" or "failure"
//	pcbdrill_request_duration_seconds{command} histogram of handler time
//	pcbdrill_requests_in_flight                gauge, 0 or 1 for a serial loop
//
// Requests whose envelope could not be decoded are counted under the command
// label "<invalid>".
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	// InvalidCommand labels requests that never named a command.
	InvalidCommand = "<invalid>"
)

// Collector holds the dispatch metrics.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewCollector creates the collector and registers it with reg. A nil reg
// leaves the metrics unregistered, which tests use to avoid collisions.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcbdrill_requests_total",
			Help: "Total number of dispatched requests by command and outcome",
		}, []string{"command", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pcbdrill_request_duration_seconds",
			Help:    "Handler latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pcbdrill_requests_in_flight",
			Help: "Requests currently being handled",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.requests, c.duration, c.inFlight)
	}
	return c
}

// Begin marks a request as in flight and returns the func that ends it.
func (c *Collector) Begin() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// Observe records one finished request.
func (c *Collector) Observe(command string, success bool, seconds float64) {
	if command == "" {
		command = InvalidCommand
	}
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	c.requests.WithLabelValues(command, outcome).Inc()
	c.duration.WithLabelValues(command).Observe(seconds)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
