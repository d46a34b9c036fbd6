package classifier

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics counts classifier activity on a registry private to one Client,
// so several clients in one process (tests, the MCP server) never collide.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	fallbacks   prometheus.Counter
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	degraded    prometheus.Counter
}

// NewMetrics registers the classifier counters on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reelnote_classifier_requests_total",
			Help: "Model calls by model and outcome.",
		}, []string{"model", "outcome"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelnote_classifier_fallbacks_total",
			Help: "Calls that fell back from the primary to the secondary model.",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelnote_classifier_cache_hits_total",
			Help: "Single-category answers served from the cache.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelnote_classifier_cache_misses_total",
			Help: "Single-category lookups not found in the cache.",
		}),
		degraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "reelnote_classifier_degraded_total",
			Help: "Suggestion requests answered with the fixed fallback.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot flattens every counter into "name{label=value,...}" -> value.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			out[seriesName(mf.GetName(), metric.GetLabel())] = metric.GetCounter().GetValue()
		}
	}
	return out, nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for _, l := range labels {
		pairs = append(pairs, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
