package restock

import "github.com/prometheus/client_golang/prometheus"

const namespace = "restock"

type Metrics struct {
	Ticks         prometheus.Counter
	Checked       prometheus.Counter
	FetchErrors   prometheus.Counter
	Transitions   prometheus.Counter
	Notifications *prometheus.CounterVec
	TickDuration  prometheus.Histogram
}

// NewMetrics creates engine metrics and registers them with reg unless it is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Reconciliation passes started.",
		}),
		Checked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_checked_total",
			Help:      "Items fetched successfully.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Item fetches that failed and were skipped.",
		}),
		Transitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status changes stored by the engine.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by result.",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Ticks, m.Checked, m.FetchErrors, m.Transitions, m.Notifications, m.TickDuration)
	}

	return m
}
