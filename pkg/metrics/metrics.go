package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so tests and multiple servers never collide on the global one.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	webhookEvents    *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	hangupLegs       *prometheus.CounterVec
	recordingFetches *prometheus.CounterVec
	analysisPolls    *prometheus.CounterVec
	analysisActive   prometheus.Gauge
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhooks by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Telephony provider API calls by operation and result.",
		}, []string{"operation", "result"}),
		hangupLegs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hangup_legs_total",
			Help:      "Call legs processed by hangup requests, by result.",
		}, []string{"result"}),
		recordingFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_fetches_total",
			Help:      "Recording proxy fetches by result.",
		}, []string{"result"}),
		analysisPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_polls_total",
			Help:      "Analysis status polls by observed state.",
		}, []string{"state"}),
		analysisActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_pollers_active",
			Help:      "Analysis pollers currently running in this process.",
		}),
	}
	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.webhookEvents,
		m.providerRequests,
		m.hangupLegs,
		m.recordingFetches,
		m.analysisPolls,
		m.analysisActive,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WebhookEvent(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ProviderRequest(operation, result string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) HangupLeg(result string) {
	if m == nil {
		return
	}
	m.hangupLegs.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordingFetch(result string) {
	if m == nil {
		return
	}
	m.recordingFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) AnalysisPoll(state string) {
	if m == nil {
		return
	}
	m.analysisPolls.WithLabelValues(state).Inc()
}

// AnalysisPollerStarted increments the active poller gauge; call the returned func when done.
func (m *Metrics) AnalysisPollerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.analysisActive.Inc()
	return m.analysisActive.Dec
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, statusClass(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}
