package geofence

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts geofence traffic. A nil *Metrics records nothing.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	exitsTotal    *prometheus.CounterVec
	storageErrors prometheus.Counter
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reten",
			Subsystem: "geofence",
			Name:      "checks_total",
			Help:      "Location checks by outcome.",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(checksTotal)

	exitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reten",
			Subsystem: "geofence",
			Name:      "exits_total",
			Help:      "Explicit exits by whether an open record was closed.",
		},
		[]string{"closed"},
	)
	registerer.MustRegister(exitsTotal)

	storageErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reten", Subsystem: "geofence", Name: "storage_errors_total",
		Help: "Ledger failures while serving checks and exits.",
	})
	registerer.MustRegister(storageErrors)

	return &Metrics{
		checksTotal:   checksTotal,
		exitsTotal:    exitsTotal,
		storageErrors: storageErrors,
	}
}

func (m *Metrics) observeCheck(o Outcome, err error) {
	if m == nil {
		return
	}
	if err != nil {
		if isStorageError(err) {
			m.storageErrors.Inc()
			m.checksTotal.WithLabelValues("error").Inc()
			return
		}
		m.checksTotal.WithLabelValues("invalid").Inc()
		return
	}
	m.checksTotal.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeExit(closed bool, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storageErrors.Inc()
		return
	}
	if closed {
		m.exitsTotal.WithLabelValues("true").Inc()
		return
	}
	m.exitsTotal.WithLabelValues("false").Inc()
}
