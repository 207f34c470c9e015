// Package metrics exposes Prometheus instrumentation for the enrollment pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridwise/enrollflow/pkg/logger"
)

// Metrics is the instrument set for one service instance.
type Metrics struct {
	HTTPRequestsTotal   prometheus.Counter
	HTTPRequestDuration prometheus.Histogram

	// StepTransitionsTotal counts form step transitions by instance and step.
	StepTransitionsTotal *prometheus.CounterVec
	// SubmissionsTotal counts submissions entering a terminal-ish status.
	SubmissionsTotal *prometheus.CounterVec
	// APICallDuration observes upstream enrollment API latency per operation.
	APICallDuration *prometheus.HistogramVec
	// APICallErrorsTotal counts upstream transport failures per operation.
	APICallErrorsTotal *prometheus.CounterVec
	// WebhookDeliveriesTotal counts webhook deliveries by outcome.
	WebhookDeliveriesTotal *prometheus.CounterVec
	// RetryQueueDepth reports pending retry-queue entries.
	RetryQueueDepth prometheus.Gauge
}

// New creates the instrument set.
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		StepTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "step_transitions_total",
			Help:      "Form step transitions",
		}, []string{"instance", "step"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "submissions_total",
			Help:      "Submissions by resulting status",
		}, []string{"instance", "status"}),
		APICallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "api_call_duration_seconds",
			Help:      "Upstream enrollment API call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		APICallErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "api_call_errors_total",
			Help:      "Upstream enrollment API transport failures",
		}, []string{"operation"}),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome",
		}, []string{"event", "outcome"}),
		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "enrollflow",
			Subsystem: serviceName,
			Name:      "retry_queue_depth",
			Help:      "Pending failed-submission retry entries",
		}),
	}
}

// Register registers all instruments with the default registry.
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StepTransitionsTotal,
		m.SubmissionsTotal,
		m.APICallDuration,
		m.APICallErrorsTotal,
		m.WebhookDeliveriesTotal,
		m.RetryQueueDepth,
	}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return nil
}

// StartHTTPServer serves the metrics endpoint on its own port.
func StartHTTPServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info(context.Background(), "Starting metrics HTTP server", "addr", addr, "path", path)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error(context.Background(), "Metrics HTTP server error", "error", err)
		}
	}()

	return nil
}
