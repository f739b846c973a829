package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Dispatch metrics
	DispatchRequestsTotal *prometheus.CounterVec
	DispatchLatency       prometheus.Histogram
	NotificationTokens    *prometheus.CounterVec
	TokensPrunedTotal     prometheus.Counter
	WelcomesSentTotal     prometheus.Counter

	// Broadcast metrics
	BroadcastsTotal  *prometheus.CounterVec
	BroadcastBatches prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of inbound Farcaster webhook events",
			},
			[]string{"event", "outcome"},
		),

		DispatchRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_requests_total",
				Help: "Total number of outbound notification POSTs",
			},
			[]string{"status"},
		),
		DispatchLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_latency_seconds",
				Help:    "Outbound notification POST latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
		),
		NotificationTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_tokens_total",
				Help: "Per-token delivery outcomes reported by the provider",
			},
			[]string{"outcome"},
		),
		TokensPrunedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tokens_pruned_total",
				Help: "Total number of invalid tokens pruned from the registry",
			},
		),
		WelcomesSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "welcomes_sent_total",
				Help: "Total number of welcome notifications sent",
			},
		),

		BroadcastsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcasts_total",
				Help: "Total number of admin broadcasts",
			},
			[]string{"mode"},
		),
		BroadcastBatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "broadcast_batches_total",
				Help: "Total number of broadcast batches issued",
			},
		),

		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state per notification URL (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"notification_url"},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordWebhookEvent records one processed inbound webhook event
func RecordWebhookEvent(event, outcome string) {
	if event == "" {
		event = "none"
	}
	Get().WebhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

// RecordDispatch records one outbound notification POST
func RecordDispatch(status int, duration time.Duration) {
	Get().DispatchRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	Get().DispatchLatency.Observe(duration.Seconds())
}

// RecordTokenOutcomes records provider-reported per-token outcomes
func RecordTokenOutcomes(successful, invalid, rateLimited int) {
	m := Get()
	m.NotificationTokens.WithLabelValues("successful").Add(float64(successful))
	m.NotificationTokens.WithLabelValues("invalid").Add(float64(invalid))
	m.NotificationTokens.WithLabelValues("rate_limited").Add(float64(rateLimited))
}

// RecordTokensPruned records invalid tokens removed from the registry
func RecordTokensPruned(n int64) {
	Get().TokensPrunedTotal.Add(float64(n))
}

// RecordWelcomeSent records a welcome notification send
func RecordWelcomeSent() {
	Get().WelcomesSentTotal.Inc()
}

// RecordBroadcast records an admin broadcast invocation
func RecordBroadcast(mode string) {
	Get().BroadcastsTotal.WithLabelValues(mode).Inc()
}

// RecordBroadcastBatch records one batch within a broadcast
func RecordBroadcastBatch() {
	Get().BroadcastBatches.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a notification URL
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(url string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(url).Set(state)
}
