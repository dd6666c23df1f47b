package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Attempts        *prometheus.CounterVec
	AttemptDuration prometheus.Histogram
	SlotsBooked     prometheus.Counter
	Unavailable     prometheus.Counter
	QueueLength     prometheus.Gauge
	Paused          prometheus.Gauge
	RegistryPruned  prometheus.Counter
}

// New registers the booker metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "booker_attempts_total",
			Help: "Identity attempts by outcome",
		}, []string{"outcome"}),
		AttemptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "booker_attempt_duration_seconds",
			Help:    "Wall time of one identity attempt",
			Buckets: prometheus.ExponentialBuckets(15, 2, 8),
		}),
		SlotsBooked: f.NewCounter(prometheus.CounterOpts{
			Name: "booker_slots_booked_total",
			Help: "Slots confirmed on the portal",
		}),
		Unavailable: f.NewCounter(prometheus.CounterOpts{
			Name: "booker_services_unavailable_total",
			Help: "Consulate/service pairs recorded as not offered",
		}),
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "booker_queue_length",
			Help: "Identities waiting in the work queue",
		}),
		Paused: f.NewGauge(prometheus.GaugeOpts{
			Name: "booker_paused",
			Help: "1 while the scheduler is paused",
		}),
		RegistryPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "booker_registry_pruned_total",
			Help: "Stale dates removed from the free slot registry",
		}),
	}
}

func (m *Metrics) ObserveAttempt(outcome string, seconds float64) {
	m.Attempts.WithLabelValues(outcome).Inc()
	m.AttemptDuration.Observe(seconds)
}

func (m *Metrics) SetQueueLength(n int) { m.QueueLength.Set(float64(n)) }

func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.Paused.Set(1)
		return
	}
	m.Paused.Set(0)
}
