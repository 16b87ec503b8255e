package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

const namespace = "feedsync"

// Prometheus expose les compteurs du moteur de synchronisation.
type Prometheus struct {
	fetches     *prometheus.CounterVec
	events      *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	cacheAccess *prometheus.CounterVec
	pushMode    prometheus.Gauge
}

var _ ports.Metrics = (*Prometheus)(nil)

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_fetches_total",
			Help:      "Page fetches by feed kind and result.",
		}, []string{"kind", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Push events by family and outcome.",
		}, []string{"family", "outcome"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic mutations by kind and result.",
		}, []string{"kind", "result"}),
		cacheAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Feed cache lookups on activation.",
		}, []string{"result"}),
		pushMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_degraded",
			Help:      "1 when events come from the polling fallback.",
		}),
	}

	for _, c := range []prometheus.Collector{m.fetches, m.events, m.mutations, m.cacheAccess, m.pushMode} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Prometheus) FetchCompleted(kind domain.FeedKind, err error) {
	m.fetches.WithLabelValues(string(kind), result(err == nil)).Inc()
}

func (m *Prometheus) EventApplied(family domain.EventFamily, outcome string) {
	m.events.WithLabelValues(string(family), outcome).Inc()
}

func (m *Prometheus) MutationCompleted(kind domain.MutationKind, rolledBack bool) {
	r := "confirmed"
	if rolledBack {
		r = "rolled_back"
	}
	m.mutations.WithLabelValues(string(kind), r).Inc()
}

func (m *Prometheus) CacheAccess(hit bool) {
	r := "miss"
	if hit {
		r = "hit"
	}
	m.cacheAccess.WithLabelValues(r).Inc()
}

// Degraded suit la bascule push / polling.
func (m *Prometheus) Degraded(on bool) {
	if on {
		m.pushMode.Set(1)
		return
	}
	m.pushMode.Set(0)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
