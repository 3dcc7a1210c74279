package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/riskcore/internal/bridge"
	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/regime"
)

func testServer() *Server {
	return NewServer(DefaultServerConfig(), NewMetrics(), zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func sampleState() (defense.PortfolioReview, greeks.Portfolio, bridge.IntegrityReport) {
	review := defense.PortfolioReview{
		Health: defense.PortfolioStable,
		Assessments: []defense.Assessment{
			{PositionID: "pos-1", Underlying: "SPY", Status: defense.StatusHealthy},
			{PositionID: "pos-2", Underlying: "QQQ", Status: defense.StatusWatchList},
		},
		StatusCounts: map[string]int{"HEALTHY": 1, "WATCH_LIST": 1},
	}
	portfolio := greeks.Portfolio{
		Totals:        greeks.Greeks{Delta: -12.5, Vega: -340.0},
		PositionCount: 2,
	}
	integrity := bridge.IntegrityReport{LedgerOpen: 2, MirroredOpen: 2, InSync: true}
	return review, portfolio, integrity
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer()
	rec := get(t, s, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestEndpointsBeforeFirstTick(t *testing.T) {
	s := testServer()
	for _, path := range []string{"/risk/portfolio", "/risk/assessments", "/risk/integrity"} {
		rec := get(t, s, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	s := testServer()
	review, portfolio, integrity := sampleState()
	s.Publish(review, portfolio, integrity, time.Now())

	rec := get(t, s, "/risk/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)

	var got greeks.Portfolio
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, -12.5, got.Totals.Delta)
	assert.Equal(t, 2, got.PositionCount)
}

func TestAssessmentsStatusFilter(t *testing.T) {
	s := testServer()
	review, portfolio, integrity := sampleState()
	s.Publish(review, portfolio, integrity, time.Now())

	rec := get(t, s, "/risk/assessments?status=WATCH_LIST")
	require.Equal(t, http.StatusOK, rec.Code)

	var got defense.PortfolioReview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Assessments, 1)
	assert.Equal(t, "pos-2", got.Assessments[0].PositionID)
}

func TestIntegrityEndpoint(t *testing.T) {
	s := testServer()
	review, portfolio, integrity := sampleState()
	s.Publish(review, portfolio, integrity, time.Now())

	rec := get(t, s, "/risk/integrity")
	require.Equal(t, http.StatusOK, rec.Code)

	var got bridge.IntegrityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.InSync)
}

func TestMetricsRecordTick(t *testing.T) {
	m := NewMetrics()

	review := defense.PortfolioReview{
		Assessments: []defense.Assessment{
			{
				PositionID: "pos-1",
				Status:     defense.StatusDefensiveNeeded,
				Triggers: []defense.Trigger{
					{Kind: defense.TriggerTime, Severity: defense.SeverityHigh},
				},
			},
		},
	}
	portfolio := greeks.Portfolio{
		Totals:     greeks.Greeks{Delta: 60.0},
		Violations: []greeks.Violation{{Kind: greeks.ViolationDelta}},
	}

	m.RecordTick(review, portfolio)
	m.RecordTick(review, portfolio)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Triggers.WithLabelValues("TIME", "HIGH")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LimitViolations.WithLabelValues("delta")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.PortfolioGreeks.WithLabelValues("delta")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenPositions))
}

func TestMetricsRegimeGauge(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, -1.0, testutil.ToFloat64(m.ActiveRegime))

	m.SetRegime(regime.Extreme, true)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ActiveRegime))

	m.SetRegime(regime.Normal, false)
	assert.Equal(t, -1.0, testutil.ToFloat64(m.ActiveRegime))
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	s := testServer()
	s.metrics.Ticks.Inc()

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "riskcore_ticks_total"))
}
