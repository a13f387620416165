package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification flow.
type Metrics struct {
	Started     *prometheus.CounterVec
	Operations  *prometheus.CounterVec
	Outcomes    *prometheus.CounterVec
	Expired     prometheus.Counter
	WebsiteCheckDuration prometheus.Histogram
}

// New registers the verification metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Started: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_verification_started_total",
			Help: "Verification requests started by method",
		}, []string{"method"}),
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_verification_operations_total",
			Help: "Verification operations by operation and result code (ok on success)",
		}, []string{"operation", "result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_verification_outcomes_total",
			Help: "Terminal verification outcomes by method and status",
		}, []string{"method", "status"}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "civic_verification_swept_total",
			Help: "Stale requests expired by the sweeper",
		}),
		WebsiteCheckDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civic_verification_website_check_duration_seconds",
			Help:    "Duration of website token checks including the fetch",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementStarted(method string) {
	m.Started.WithLabelValues(method).Inc()
}

func (m *Metrics) IncrementOperation(operation, result string) {
	m.Operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) IncrementOutcome(method, status string) {
	m.Outcomes.WithLabelValues(method, status).Inc()
}

func (m *Metrics) AddExpired(n int) {
	m.Expired.Add(float64(n))
}

func (m *Metrics) ObserveWebsiteCheck(start time.Time) {
	m.WebsiteCheckDuration.Observe(time.Since(start).Seconds())
}
