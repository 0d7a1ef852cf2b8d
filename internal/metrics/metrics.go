package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// チェックアウト / Webhook / プロバイダ呼び出し / HTTP のメトリクス
type Metrics struct {
	SessionsCreated  *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	AmountMismatches *prometheus.CounterVec
	SessionsExpiry   prometheus.Counter
	ProviderCalls    *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	AuditDrops       prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// regにはテストならprometheus.NewRegistry()、本番はDefaultRegistererを渡す
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Checkout session creation attempts by provider and result.",
		}, []string{"provider", "result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		AmountMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_amount_mismatch_total",
			Help:      "Payments whose settled amount differs from the session amount.",
		}, []string{"provider"}),
		SessionsExpiry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Pending sessions expired by the sweeper.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Outbound provider API calls by provider and result.",
		}, []string{"provider", "result"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Outbound provider API latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		AuditDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the dispatcher buffer was full.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.SessionsCreated,
		m.WebhookEvents,
		m.AmountMismatches,
		m.SessionsExpiry,
		m.ProviderCalls,
		m.ProviderLatency,
		m.AuditDrops,
		m.HTTPRequests,
		m.HTTPLatency,
	)
	return m
}

func (m *Metrics) SessionCreated(provider string, result string) {
	m.SessionsCreated.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) WebhookHandled(provider string, outcome string) {
	m.WebhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) AmountMismatch(provider string) {
	m.AmountMismatches.WithLabelValues(provider).Inc()
}

func (m *Metrics) SessionsExpired(n int) {
	if n > 0 {
		m.SessionsExpiry.Add(float64(n))
	}
}

// provider.CallObserver として渡す
func (m *Metrics) ObserveProviderCall(provider string, result string, d time.Duration) {
	m.ProviderCalls.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) AuditDropped() {
	m.AuditDrops.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
