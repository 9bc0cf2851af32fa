// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeinbox_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeinbox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Upstream metrics
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codeinbox_upstream_request_duration_seconds",
			Help:    "Duration of calls to Nylas and OpenAI by service, operation and outcome",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "operation", "outcome"},
	)

	// Scheduler metrics
	ScheduledJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codeinbox_scheduled_jobs",
			Help: "Number of installed tutorial jobs",
		},
	)

	TutorialFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeinbox_tutorial_firings_total",
			Help: "Total number of tutorial job firings by result",
		},
		[]string{"result"},
	)

	EmailsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codeinbox_system_emails_sent_total",
			Help: "System emails sent by kind (welcome, tutorial) and result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(ScheduledJobs)
	prometheus.MustRegister(TutorialFiringsTotal)
	prometheus.MustRegister(EmailsSentTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one upstream call started at start.
func ObserveUpstream(service, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequestDuration.WithLabelValues(service, operation, outcome).Observe(time.Since(start).Seconds())
}

// Result maps an error to the "success"/"failure" label used by the counters.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
