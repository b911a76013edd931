package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the query pipeline and sessions.
// A nil *Metrics records nothing.
type Metrics struct {
	QueriesTotal   *prometheus.CounterVec // by table and outcome
	PlansEmpty     prometheus.Counter
	SessionsActive prometheus.Gauge
	StatusChanges  *prometheus.CounterVec // by action and result
	Notifications  *prometheus.CounterVec // by channel and result
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_queries_total",
			Help: "Planned queries executed against the datastore",
		}, []string{"table", "outcome"}),
		PlansEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casedesk_plans_empty_total",
			Help: "Planning calls that produced no usable query plan",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "casedesk_sessions_active",
			Help: "Users with a non-idle conversation session",
		}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_status_changes_total",
			Help: "Close and escalate operations",
		}, []string{"action", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casedesk_notifications_total",
			Help: "Escalation notifications sent",
		}, []string{"channel", "result"}),
	}
	reg.MustRegister(m.QueriesTotal, m.PlansEmpty, m.SessionsActive, m.StatusChanges, m.Notifications)
	return m
}

func (m *Metrics) ObserveQuery(table, outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(table, outcome).Inc()
}

func (m *Metrics) ObserveEmptyPlan() {
	if m == nil {
		return
	}
	m.PlansEmpty.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) ObserveStatusChange(action string, err error) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(action, result(err)).Inc()
}

func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
