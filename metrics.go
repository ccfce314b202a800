package tripauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	LoginTotal           *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
	TokensIssuedTotal    *prometheus.CounterVec
	SingleUseTokensTotal *prometheus.CounterVec
	PasswordHashSeconds  prometheus.Histogram
	AuditDroppedTotal    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tripauth"
	}

	m := &Metrics{
		LoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_total",
				Help:      "Login attempts by audience and result",
			},
			[]string{"audience", "result"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Attempts rejected by a rate limiter, by audience and flow",
			},
			[]string{"audience", "flow"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_issued_total",
				Help:      "Signed tokens issued by audience and kind",
			},
			[]string{"audience", "kind"},
		),
		SingleUseTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "single_use_tokens_total",
				Help:      "Single-use token operations by purpose and result",
			},
			[]string{"purpose", "result"},
		),
		PasswordHashSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "password_hash_seconds",
				Help:      "Time spent hashing or verifying passwords",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		AuditDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_dropped_total",
				Help:      "Audit events discarded because the dispatcher buffer was full",
			},
			[]string{"event_type"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoginTotal,
			m.RateLimitedTotal,
			m.TokensIssuedTotal,
			m.SingleUseTokensTotal,
			m.PasswordHashSeconds,
			m.AuditDroppedTotal,
		)
	}

	return m
}

func (m *Metrics) login(aud Audience, result string) {
	if m == nil {
		return
	}
	m.LoginTotal.WithLabelValues(string(aud), result).Inc()
}

func (m *Metrics) rateLimited(aud Audience, flow string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(string(aud), flow).Inc()
}

func (m *Metrics) pairIssued(aud Audience) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(string(aud), "access").Inc()
	m.TokensIssuedTotal.WithLabelValues(string(aud), "refresh").Inc()
}

func (m *Metrics) singleUse(purpose, result string) {
	if m == nil {
		return
	}
	m.SingleUseTokensTotal.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) observeHash(start time.Time) {
	if m == nil {
		return
	}
	m.PasswordHashSeconds.Observe(time.Since(start).Seconds())
}

func (m *Metrics) auditDropped(eventType string) {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.WithLabelValues(eventType).Inc()
}
