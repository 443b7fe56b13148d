// Package metrics exposes the engine's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the daemon registers.
type Metrics struct {
	EvalPasses       prometheus.Counter
	EvalFailures     prometheus.Counter
	AlertsDerived    *prometheus.CounterVec
	ActiveAlerts     *prometheus.GaugeVec
	AdherenceScore   prometheus.Gauge
	RemindersFired   prometheus.Counter
	AcksTotal        *prometheus.CounterVec
	AckPatchFailures prometheus.Counter
	UpstreamErrors   prometheus.Counter
	EvalDuration     prometheus.Histogram
}

// New registers the collector set with reg. Pass
// prometheus.DefaultRegisterer in the daemon and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EvalPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pillpal_eval_passes_total",
			Help: "Completed evaluation passes.",
		}),
		EvalFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pillpal_eval_failures_total",
			Help: "Evaluation passes aborted by an upstream fetch failure.",
		}),
		AlertsDerived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_alerts_derived_total",
			Help: "Alerts derived, by kind.",
		}, []string{"kind"}),
		ActiveAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pillpal_active_alerts",
			Help: "Currently active alerts, by priority.",
		}, []string{"priority"}),
		AdherenceScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pillpal_adherence_score",
			Help: "Trailing 7-day adherence score, 0-100.",
		}),
		RemindersFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "pillpal_reminders_fired_total",
			Help: "Dose reminders delivered.",
		}),
		AcksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pillpal_acks_total",
			Help: "Alert acknowledgements, by kind.",
		}, []string{"kind"}),
		AckPatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pillpal_ack_patch_failures_total",
			Help: "Upstream dose patches that failed after a local ack.",
		}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pillpal_upstream_errors_total",
			Help: "Dose store request failures.",
		}),
		EvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pillpal_eval_duration_seconds",
			Help:    "Wall time of one evaluation pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
