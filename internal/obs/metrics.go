// Package obs exposes Prometheus metrics for the policy engine.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	submissions   *prometheus.CounterVec
	votes         *prometheus.CounterVec
	escalations   prometheus.Counter
	notifications *prometheus.CounterVec
	credits       prometheus.Counter
	pending       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_submissions_total",
			Help: "Command submissions by resulting status.",
		}, []string{"status"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_votes_total",
			Help: "Approval votes by value and resulting command status.",
		}, []string{"vote", "outcome"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_escalations_total",
			Help: "Pending commands escalated past their deadline.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cmdgate_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		credits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cmdgate_credits_debited_total",
			Help: "Credits debited for executed commands.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cmdgate_pending_commands",
			Help: "Commands awaiting approval as of the last escalation sweep.",
		}),
	}
	reg.MustRegister(m.submissions, m.votes, m.escalations, m.notifications, m.credits, m.pending)
	return m
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Submission counts a submission that ended in status.
func (m *Metrics) Submission(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

// Vote counts a recorded vote and the command status after it.
func (m *Metrics) Vote(vote, outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(vote, outcome).Inc()
}

// Escalation counts one escalated command.
func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// Notification counts a delivery attempt on channel.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// CreditsDebited adds n to the debited credit total.
func (m *Metrics) CreditsDebited(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.credits.Add(float64(n))
}

// SetPending records the current number of pending commands.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
