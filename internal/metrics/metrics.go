// Package metrics exposes bot counters over Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbScope/internal/model"
)

// Metrics holds the bot's collectors. It implements sim.Recorder.
type Metrics struct {
	Candidates   prometheus.Counter
	Evaluations  prometheus.Counter
	Samples      *prometheus.CounterVec
	Submissions  *prometheus.CounterVec
	Events       *prometheus.CounterVec
	QuoteErrors  *prometheus.CounterVec
	QuoteLatency *prometheus.HistogramVec
	BestProfit   prometheus.Gauge
	CachedPools  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_route_candidates_total",
			Help: "Route candidates emitted by the search",
		}),
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_evaluations_total",
			Help: "Completed evaluation passes",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_loan_samples_total",
			Help: "Loan-size samples by result",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_submissions_total",
			Help: "Submission attempts by outcome",
		}, []string{"outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_pool_events_total",
			Help: "Decoded pool and factory events by kind",
		}, []string{"kind"}),
		QuoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_quoter_errors_total",
			Help: "Quote failures by DEX kind",
		}, []string{"dex"}),
		QuoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arb_quoter_latency_seconds",
			Help:    "Time to obtain a DEX quote",
			Buckets: prometheus.DefBuckets,
		}, []string{"dex"}),
		BestProfit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_last_best_profit",
			Help: "Net profit of the last profitable opportunity, in loan-token units",
		}),
		CachedPools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_cached_pools",
			Help: "Pools held in the state cache",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Candidates,
			m.Evaluations,
			m.Samples,
			m.Submissions,
			m.Events,
			m.QuoteErrors,
			m.QuoteLatency,
			m.BestProfit,
			m.CachedPools,
		)
	}
	return m
}

func (m *Metrics) ObserveQuote(kind model.DexKind, elapsed time.Duration, err error) {
	m.QuoteLatency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
	if err != nil {
		m.QuoteErrors.WithLabelValues(kind.String()).Inc()
	}
}

func (m *Metrics) ObserveSample(result string) {
	m.Samples.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCandidates(n int) {
	m.Candidates.Add(float64(n))
}

func (m *Metrics) ObserveEvaluation() {
	m.Evaluations.Inc()
}

func (m *Metrics) ObserveSubmission(outcome string) {
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEvent(kind string) {
	m.Events.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBestProfit(profit float64) {
	m.BestProfit.Set(profit)
}

func (m *Metrics) SetCachedPools(n int) {
	m.CachedPools.Set(float64(n))
}
