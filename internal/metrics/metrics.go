package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tejusbharadwaj/babelgas/internal/sensor"
)

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	UpdateAttempts *prometheus.CounterVec
	UpdateFailures *prometheus.CounterVec
	UpdateLatency  *prometheus.HistogramVec
	Balance        *prometheus.GaugeVec
	Available      *prometheus.GaugeVec

	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		UpdateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babelgas",
			Name:      "update_attempts_total",
			Help:      "Sensor update calls by outcome.",
		}, []string{"unique_id", "outcome"}),
		UpdateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babelgas",
			Name:      "update_failures_total",
			Help:      "Failed sensor updates by failure category.",
		}, []string{"unique_id", "category"}),
		UpdateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "babelgas",
			Name:      "update_duration_seconds",
			Help:      "Duration of upstream queries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"unique_id"}),
		Balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "babelgas",
			Name:      "balance_yuan",
			Help:      "Last reported prepaid balance.",
		}, []string{"unique_id"}),
		Available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "babelgas",
			Name:      "available",
			Help:      "1 when the last update succeeded.",
		}, []string{"unique_id"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "babelgas",
			Name:      "http_requests_total",
			Help:      "State API requests by route and status.",
		}, []string{"route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "babelgas",
			Name:      "http_request_duration_seconds",
			Help:      "State API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.UpdateAttempts, m.UpdateFailures, m.UpdateLatency,
		m.Balance, m.Available, m.Requests, m.Latency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveUpdate(uniqueID string, outcome sensor.Outcome, category string, duration time.Duration) {
	m.UpdateAttempts.WithLabelValues(uniqueID, outcome.String()).Inc()
	if outcome == sensor.OutcomeFailed {
		m.UpdateFailures.WithLabelValues(uniqueID, category).Inc()
	}
	if outcome != sensor.OutcomeThrottled {
		m.UpdateLatency.WithLabelValues(uniqueID).Observe(duration.Seconds())
	}
}

func (m *Metrics) SetBalance(uniqueID string, balance float64) {
	m.Balance.WithLabelValues(uniqueID).Set(balance)
}

func (m *Metrics) SetAvailable(uniqueID string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.Available.WithLabelValues(uniqueID).Set(v)
}

// Forget drops the per-entity series of uniqueID.
func (m *Metrics) Forget(uniqueID string) {
	labels := prometheus.Labels{"unique_id": uniqueID}
	m.UpdateAttempts.DeletePartialMatch(labels)
	m.UpdateFailures.DeletePartialMatch(labels)
	m.UpdateLatency.DeletePartialMatch(labels)
	m.Balance.DeletePartialMatch(labels)
	m.Available.DeletePartialMatch(labels)
}

var _ sensor.Recorder = (*Metrics)(nil)
