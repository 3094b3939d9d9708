package metrics

import (
	"net/http"
	"time"

	"github.com/ismaiel54/stateful-consumer-probe/internal/txeventq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the probe collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	Polls            *prometheus.CounterVec
	MessagesConsumed prometheus.Counter
	Initializations  *prometheus.CounterVec
	StoredMessages   prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_upstream_requests_total",
			Help: "REST proxy calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "probe_upstream_latency_seconds",
			Help:    "REST proxy call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_polls_total",
			Help: "Session polls by result.",
		}, []string{"result"}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "probe_messages_consumed_total",
			Help: "Records decoded by the persistent consumer.",
		}),
		Initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_initializations_total",
			Help: "Consumer initializations by result.",
		}, []string{"result"}),
		StoredMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "probe_stored_messages",
			Help: "Records currently held in the session history.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_http_requests_total",
			Help: "Probe HTTP requests by method and route.",
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.UpstreamRequests, m.UpstreamLatency, m.Polls, m.MessagesConsumed,
		m.Initializations, m.StoredMessages, m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream implements txeventq.Observer
func (m *Metrics) ObserveUpstream(op string, statusCode int, err error, elapsed time.Duration) {
	m.UpstreamRequests.WithLabelValues(op, outcome(statusCode, err)).Inc()
	m.UpstreamLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveInit implements consumer.Recorder
func (m *Metrics) ObserveInit(err error) {
	m.Initializations.WithLabelValues(result(err)).Inc()
}

// ObservePoll implements consumer.Recorder
func (m *Metrics) ObservePoll(records int, err error) {
	m.Polls.WithLabelValues(result(err)).Inc()
	m.MessagesConsumed.Add(float64(records))
}

// SetStored implements consumer.Recorder
func (m *Metrics) SetStored(n int) {
	m.StoredMessages.Set(float64(n))
}

// ObserveRequest counts an inbound HTTP request
func (m *Metrics) ObserveRequest(method, route string) {
	m.HTTPRequests.WithLabelValues(method, route).Inc()
}

func outcome(statusCode int, err error) string {
	switch {
	case err == nil:
		return "ok"
	case txeventq.IsConflict(err):
		return "conflict"
	case statusCode >= 500:
		return "http_5xx"
	case statusCode >= 400:
		return "http_4xx"
	default:
		return "error"
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
