package pipeline

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	cacheLookups       *prometheus.CounterVec
	derivations        *prometheus.CounterVec
	derivationDuration prometheus.Histogram
	sourceBytes        prometheus.Counter
	storeErrors        *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewize_image_cache_lookups_total",
			Help: "Artifact cache lookups by result (hit, miss, coalesced).",
		}, []string{"result"}),
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewize_image_derivations_total",
			Help: "Image derivations by outcome kind.",
		}, []string{"outcome"}),
		derivationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagewize_image_derivation_duration_seconds",
			Help:    "Time spent fetching, transforming and storing one artifact.",
			Buckets: prometheus.DefBuckets,
		}),
		sourceBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewize_image_source_bytes_total",
			Help: "Total bytes fetched from image sources.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewize_image_store_errors_total",
			Help: "Artifact store failures by operation.",
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		m.cacheLookups,
		m.derivations,
		m.derivationDuration,
		m.sourceBytes,
		m.storeErrors,
	)
	return m
}
