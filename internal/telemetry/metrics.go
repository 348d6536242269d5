// Package telemetry provides the Prometheus metrics and OpenTelemetry
// tracing used across the session core.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RefreshAttempts *prometheus.CounterVec
	RefreshJoined   prometheus.Counter
	RefreshDuration prometheus.Histogram
	HTTPRequests    *prometheus.CounterVec
	HTTPRetries     prometheus.Counter
	SessionState    *prometheus.GaugeVec
	Logins          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RefreshAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Name:      "refresh_attempts_total",
				Help:      "Network refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		RefreshJoined: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Name:      "refresh_joined_total",
				Help:      "Refresh callers that joined an in-flight ticket instead of starting one",
			},
		),
		RefreshDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sessioncore",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of a refresh ticket, including any biometric challenge",
				Buckets:   prometheus.DefBuckets,
			},
		),
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Name:      "http_requests_total",
				Help:      "Authenticated API requests by final status class",
			},
			[]string{"status"}, // status=2xx/3xx/4xx/5xx/401/401_terminal/error
		),
		HTTPRetries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Name:      "http_retries_total",
				Help:      "Authenticated API requests retried after a 401",
			},
		),
		SessionState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "sessioncore",
				Name:      "session_state",
				Help:      "1 for the current session state, 0 otherwise",
			},
			[]string{"state"},
		),
		Logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sessioncore",
				Name:      "logins_total",
				Help:      "Login attempts by result",
			},
			[]string{"result"}, // result=ok/rejected/error
		),
	}
}

// ObserveRefresh records one settled refresh ticket.
func (m *Metrics) ObserveRefresh(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshAttempts.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(d.Seconds())
}

// ObserveJoin records a caller that joined an in-flight refresh.
func (m *Metrics) ObserveJoin() {
	if m == nil {
		return
	}
	m.RefreshJoined.Inc()
}

// ObserveHTTP records the final status of an authenticated request.
func (m *Metrics) ObserveHTTP(status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(status).Inc()
}

// ObserveRetry records a retried request.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.HTTPRetries.Inc()
}

// ObserveLogin records a login attempt.
func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

// SetState marks state as the current session state and clears the others.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}
