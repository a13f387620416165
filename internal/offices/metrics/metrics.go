package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the office claim registry.
type Metrics struct {
	Claims         *prometheus.CounterVec
	Releases       prometheus.Counter
	SearchDuration prometheus.Histogram
}

// New registers the office metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_office_claims_total",
			Help: "Office claim attempts by outcome (claimed, already_claimed, not_found, error)",
		}, []string{"outcome"}),
		Releases: f.NewCounter(prometheus.CounterOpts{
			Name: "civic_office_releases_total",
			Help: "Total office releases",
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civic_office_search_duration_seconds",
			Help:    "Duration of office searches",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementClaim(outcome string) {
	m.Claims.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRelease() {
	m.Releases.Inc()
}

// ObserveSearch records the duration of a search started at start.
func (m *Metrics) ObserveSearch(start time.Time) {
	m.SearchDuration.Observe(time.Since(start).Seconds())
}
