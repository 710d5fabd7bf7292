package exchange

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes rate limiter and request pipeline counters to Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	granted  *prometheus.CounterVec
	denied   *prometheus.CounterVec
	waitTime *prometheus.HistogramVec
	requests *prometheus.CounterVec
	authRuns *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deribit",
			Subsystem: "ratelimit",
			Name:      "granted_total",
			Help:      "Tokens granted by the client-side rate limiter.",
		}, []string{"category"}),
		denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deribit",
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Non-blocking admission checks refused for lack of tokens.",
		}, []string{"category"}),
		waitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deribit",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limit token.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"category"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deribit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "REST requests sent, by category and outcome.",
		}, []string{"category", "outcome"}),
		authRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deribit",
			Subsystem: "auth",
			Name:      "exchanges_total",
			Help:      "Token exchanges against public/auth, by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.granted, m.denied, m.waitTime, m.requests, m.authRuns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeGranted(cat Category, waited time.Duration) {
	if m == nil {
		return
	}
	m.granted.WithLabelValues(cat.String()).Inc()
	m.waitTime.WithLabelValues(cat.String()).Observe(waited.Seconds())
}

func (m *Metrics) observeDenied(cat Category) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(cat.String()).Inc()
}

func (m *Metrics) observeRequest(cat Category, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(cat.String(), outcome).Inc()
}

func (m *Metrics) observeAuth(grant, outcome string) {
	if m == nil {
		return
	}
	m.authRuns.WithLabelValues(grant, outcome).Inc()
}
