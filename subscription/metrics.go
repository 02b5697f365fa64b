package subscription

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks subscription feed statistics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	mu sync.Mutex

	feedsStarted   *prometheus.CounterVec
	feedsTornDown  *prometheus.CounterVec
	feedsActive    *prometheus.GaugeVec
	consumers      *prometheus.GaugeVec
	itemsDelivered *prometheus.CounterVec
	itemsDropped   *prometheus.CounterVec
	feedLifetime   *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "adapterflow",
			Subsystem: "subscription",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "adapterflow",
			Subsystem: "subscription",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:     registerer,
		feedsStarted:   newCounterVec("feeds_started_total", "Number of upstream feeds started", []string{"feature"}),
		feedsTornDown:  newCounterVec("feeds_torn_down_total", "Number of upstream feeds torn down", []string{"feature"}),
		feedsActive:    newGaugeVec("feeds_active", "Number of subscription entries currently held", []string{"feature"}),
		consumers:      newGaugeVec("consumers", "Number of attached consumers", []string{"feature", "kind"}),
		itemsDelivered: newCounterVec("items_delivered_total", "Number of items fanned out to consumers", []string{"feature"}),
		itemsDropped:   newCounterVec("items_dropped_total", "Number of items a consumer's drop-oldest buffer discarded", []string{"feature"}),
		feedLifetime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "adapterflow",
			Subsystem: "subscription",
			Name:      "feed_lifetime_seconds",
			Help:      "How long upstream feeds stayed up",
			Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		}, []string{"feature"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.feedsStarted,
		m.feedsTornDown,
		m.feedsActive,
		m.consumers,
		m.itemsDelivered,
		m.itemsDropped,
		m.feedLifetime,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) entryCreated(feature string) {
	if m == nil {
		return
	}
	m.feedsActive.WithLabelValues(feature).Inc()
}

func (m *Metrics) feedStarted(feature string) {
	if m == nil {
		return
	}
	m.feedsStarted.WithLabelValues(feature).Inc()
}

func (m *Metrics) entryTornDown(feature string, started bool, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.feedsActive.WithLabelValues(feature).Dec()
	if started {
		m.feedsTornDown.WithLabelValues(feature).Inc()
		m.feedLifetime.WithLabelValues(feature).Observe(lifetime.Seconds())
	}
}

func (m *Metrics) consumerAttached(feature string, kind Kind) {
	if m == nil {
		return
	}
	m.consumers.WithLabelValues(feature, kind.String()).Inc()
}

func (m *Metrics) consumerDetached(feature string, kind Kind) {
	if m == nil {
		return
	}
	m.consumers.WithLabelValues(feature, kind.String()).Dec()
}

func (m *Metrics) delivered(feature string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsDelivered.WithLabelValues(feature).Add(float64(n))
}

func (m *Metrics) dropped(feature string) {
	if m == nil {
		return
	}
	m.itemsDropped.WithLabelValues(feature).Inc()
}

// Reset clears every collector (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.feedsStarted.Reset()
	m.feedsTornDown.Reset()
	m.feedsActive.Reset()
	m.consumers.Reset()
	m.itemsDelivered.Reset()
	m.itemsDropped.Reset()
	m.feedLifetime.Reset()
}
