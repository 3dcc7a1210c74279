// Package monitor exposes the engine's derived state over HTTP: a
// read-only JSON surface for reporting plus Prometheus metrics.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/regime"
)

// Metrics holds all Prometheus metrics on a private registry so hosts
// can run several engines in one process.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           prometheus.Counter
	Triggers        *prometheus.CounterVec
	LimitViolations *prometheus.CounterVec
	PortfolioGreeks *prometheus.GaugeVec
	OpenPositions   prometheus.Gauge
	ActiveRegime    prometheus.Gauge
	CorrelationRisk prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_ticks_total",
			Help: "Total number of evaluation ticks completed",
		}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_triggers_total",
			Help: "Total defensive triggers fired by kind and severity",
		}, []string{"kind", "severity"}),
		LimitViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_limit_violations_total",
			Help: "Total portfolio risk ceiling breaches by greek",
		}, []string{"greek"}),
		PortfolioGreeks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskcore_portfolio_greeks",
			Help: "Aggregate portfolio greeks from the last tick",
		}, []string{"greek"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_open_positions",
			Help: "Open positions evaluated in the last tick",
		}),
		ActiveRegime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_active_regime",
			Help: "Current volatility regime band (0=VERY_LOW .. 5=EXTREME, -1 unknown)",
		}),
		CorrelationRisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_correlation_risk_score",
			Help: "Portfolio correlation risk score 0-100",
		}),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.Triggers,
		m.LimitViolations,
		m.PortfolioGreeks,
		m.OpenPositions,
		m.ActiveRegime,
		m.CorrelationRisk,
	)
	m.ActiveRegime.Set(-1)
	return m
}

// RecordTick folds one full evaluation pass into the metrics
func (m *Metrics) RecordTick(review defense.PortfolioReview, portfolio greeks.Portfolio) {
	m.Ticks.Inc()
	m.OpenPositions.Set(float64(len(review.Assessments)))

	for _, a := range review.Assessments {
		for _, t := range a.Triggers {
			m.Triggers.WithLabelValues(t.Kind.String(), t.Severity.String()).Inc()
		}
	}
	for _, v := range portfolio.Violations {
		m.LimitViolations.WithLabelValues(string(v.Kind)).Inc()
	}

	m.PortfolioGreeks.WithLabelValues("delta").Set(portfolio.Totals.Delta)
	m.PortfolioGreeks.WithLabelValues("gamma").Set(portfolio.Totals.Gamma)
	m.PortfolioGreeks.WithLabelValues("theta").Set(portfolio.Totals.Theta)
	m.PortfolioGreeks.WithLabelValues("vega").Set(portfolio.Totals.Vega)
}

// SetRegime publishes the active regime band
func (m *Metrics) SetRegime(band regime.Band, known bool) {
	if !known {
		m.ActiveRegime.Set(-1)
		return
	}
	m.ActiveRegime.Set(float64(band))
}

// SetCorrelationRisk publishes the portfolio correlation risk score
func (m *Metrics) SetCorrelationRisk(score float64) {
	m.CorrelationRisk.Set(score)
}

// Handler serves the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
