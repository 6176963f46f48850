package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "postcode"

// LookupMetrics instruments the postcode resolver.
type LookupMetrics struct {
	Outcomes         *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	UpstreamDuration *prometheus.HistogramVec
}

// NewLookupMetrics creates the resolver collectors and registers them with reg.
func NewLookupMetrics(reg prometheus.Registerer) *LookupMetrics {
	m := &LookupMetrics{
		Outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Postcode validations by outcome",
			},
			[]string{"outcome"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Validations answered from the result cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Validations that required an upstream lookup",
		}),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lookup_duration_seconds",
				Help:      "Latency of calls to the postcode registry",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.Outcomes, m.CacheHits, m.CacheMisses, m.UpstreamDuration)
	return m
}

// ObserveOutcome counts one finished validation.
func (m *LookupMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// ObserveCache counts a cache hit or miss.
func (m *LookupMetrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// ObserveUpstream records how long a registry call took.
func (m *LookupMetrics) ObserveUpstream(result string, started time.Time) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}
