package defense

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/ledger"
	"github.com/quantdesk/riskcore/internal/regime"
)

var testNow = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func testDefense() *Engine {
	ge := greeks.NewEngine(greeks.DefaultEngineConfig(), zerolog.Nop())
	return NewEngine(DefaultRulesConfig(), ge, zerolog.Nop())
}

// creditPosition builds a one-leg short premium position with the given
// entry credit per share and DTE.
func creditPosition(tag string, entryCredit float64, dte int) *ledger.CompositePosition {
	return &ledger.CompositePosition{
		ID:          "pos-1",
		StrategyTag: tag,
		Underlying:  "SPY",
		EntryTime:   testNow.AddDate(0, 0, -10),
		Status:      ledger.StatusOpen,
		Components: map[string]*ledger.PositionComponent{
			"c-1": {
				ID:         "c-1",
				LegType:    ledger.LegNakedShortPut,
				Strike:     440,
				Expiry:     testNow.AddDate(0, 0, dte),
				Quantity:   -1,
				EntryPrice: entryCredit,
				ImpliedVol: 0.22,
				Status:     ledger.ComponentOpen,
			},
		},
	}
}

func ctxWithMark(mark float64) MarketContext {
	return MarketContext{
		Now:         testNow,
		Marks:       map[string]float64{"c-1": mark},
		Regime:      regime.Normal,
		RegimeKnown: true,
	}
}

func TestProfitTargetTriggersTakeProfit(t *testing.T) {
	e := testDefense()

	// Entry credit 1000, cost to close 400: 60% of max profit captured
	pos := creditPosition("short_strangle", 10.0, 25)
	a := e.Evaluate(pos, ctxWithMark(4.0))

	assert.InDelta(t, 0.60, a.Metrics.PnLPercent, 0.001)
	assert.Equal(t, 25, a.Metrics.DTE)
	assert.True(t, a.Metrics.IsCredit)

	require.NotEmpty(t, a.Triggers)
	var profit *Trigger
	for i := range a.Triggers {
		if a.Triggers[i].Kind == TriggerProfit {
			profit = &a.Triggers[i]
		}
		assert.NotEqual(t, SeverityHigh, a.Triggers[i].Severity)
	}
	require.NotNil(t, profit, "profit target reached must fire PROFIT")
	assert.Equal(t, SeverityModerate, profit.Severity)

	var kinds []ActionKind
	for _, act := range a.Actions {
		kinds = append(kinds, act.Kind)
	}
	assert.Contains(t, kinds, ActionTakeProfit)
}

func TestTimeTriggerSeverityLadder(t *testing.T) {
	e := testDefense()

	// 22 DTE under a 21-DTE rule with only 10% profit: MODERATE warning
	a := e.Evaluate(creditPosition("short_strangle", 10.0, 22), ctxWithMark(9.0))
	require.Len(t, a.Triggers, 1)
	assert.Equal(t, TriggerTime, a.Triggers[0].Kind)
	assert.Equal(t, SeverityModerate, a.Triggers[0].Severity)
	assert.Equal(t, StatusWatchList, a.Status)
	assert.Equal(t, UrgencyMedium, a.Urgency)

	// At the threshold it escalates to HIGH
	a = e.Evaluate(creditPosition("short_strangle", 10.0, 21), ctxWithMark(9.0))
	require.Len(t, a.Triggers, 1)
	assert.Equal(t, SeverityHigh, a.Triggers[0].Severity)
	assert.Equal(t, StatusDefensiveNeeded, a.Status)

	// At the emergency floor it is CRITICAL but not close-immediately
	a = e.Evaluate(creditPosition("short_strangle", 10.0, 5), ctxWithMark(9.0))
	require.Len(t, a.Triggers, 1)
	assert.Equal(t, SeverityCritical, a.Triggers[0].Severity)
	assert.Equal(t, StatusEmergency, a.Status)

	// Well above the warn window nothing fires
	a = e.Evaluate(creditPosition("short_strangle", 10.0, 40), ctxWithMark(9.0))
	assert.Empty(t, a.Triggers)
	assert.Equal(t, StatusHealthy, a.Status)
	assert.Equal(t, UrgencyLow, a.Urgency)
}

func TestStopLossClosesImmediately(t *testing.T) {
	e := testDefense()

	// Cost to close 3100 against a 1000 credit: 210% loss past the 200% stop
	a := e.Evaluate(creditPosition("short_strangle", 10.0, 40), ctxWithMark(31.0))

	var loss *Trigger
	for i := range a.Triggers {
		if a.Triggers[i].Kind == TriggerLoss {
			loss = &a.Triggers[i]
		}
	}
	require.NotNil(t, loss)
	assert.Equal(t, SeverityCritical, loss.Severity)
	assert.Equal(t, StatusCloseImmediately, a.Status)
	assert.Equal(t, UrgencyImmediate, a.Urgency)

	require.NotEmpty(t, a.Actions)
	assert.Equal(t, ActionClose, a.Actions[0].Kind)
}

func TestLossApproachingStopRollsTestedSide(t *testing.T) {
	e := testDefense()

	// 150% loss: past 70% of the 200% stop but not the stop itself
	a := e.Evaluate(creditPosition("short_strangle", 10.0, 40), ctxWithMark(25.0))

	require.Len(t, a.Triggers, 1)
	assert.Equal(t, TriggerLoss, a.Triggers[0].Kind)
	assert.Equal(t, SeverityHigh, a.Triggers[0].Severity)
	assert.Equal(t, StatusDefensiveNeeded, a.Status)

	require.NotEmpty(t, a.Actions)
	assert.Equal(t, ActionRollTestedSide, a.Actions[0].Kind)
}

func TestEmergencyRegimeClosesImmediately(t *testing.T) {
	e := testDefense()
	pos := creditPosition("short_strangle", 10.0, 40)

	ctx := ctxWithMark(9.5)
	ctx.Regime = regime.Extreme
	a := e.Evaluate(pos, ctx)

	require.Len(t, a.Triggers, 1)
	assert.Equal(t, TriggerVolatility, a.Triggers[0].Kind)
	assert.Equal(t, SeverityCritical, a.Triggers[0].Severity)
	assert.Equal(t, StatusCloseImmediately, a.Status)

	// An unknown regime never fires the volatility trigger
	ctx.RegimeKnown = false
	a = e.Evaluate(pos, ctx)
	assert.Empty(t, a.Triggers)
}

func TestNakedPutLowerEmergencyRegime(t *testing.T) {
	e := testDefense()
	pos := creditPosition("naked_put", 10.0, 40)

	ctx := ctxWithMark(9.5)
	ctx.Regime = regime.High
	a := e.Evaluate(pos, ctx)

	require.Len(t, a.Triggers, 1)
	assert.Equal(t, TriggerVolatility, a.Triggers[0].Kind)
}

func TestMultipleCriticalsEscalateToImmediate(t *testing.T) {
	e := testDefense()

	// Stop-loss breach and emergency regime together
	ctx := ctxWithMark(31.0)
	ctx.Regime = regime.Extreme
	a := e.Evaluate(creditPosition("short_strangle", 10.0, 40), ctx)

	criticals := 0
	for _, tr := range a.Triggers {
		if tr.Severity == SeverityCritical {
			criticals++
		}
	}
	assert.GreaterOrEqual(t, criticals, 2)
	assert.Equal(t, UrgencyImmediate, a.Urgency)
}

func TestHedgeMonetizationAfterHoldingPeriod(t *testing.T) {
	e := testDefense()

	pos := &ledger.CompositePosition{
		ID:          "pos-leap",
		StrategyTag: "long_leap",
		Underlying:  "SPY",
		EntryTime:   testNow.AddDate(0, 0, -70),
		Status:      ledger.StatusOpen,
		Components: map[string]*ledger.PositionComponent{
			"c-leap": {
				ID:         "c-leap",
				LegType:    ledger.LegLongLEAPCall,
				Strike:     400,
				Expiry:     testNow.AddDate(0, 0, 400),
				Quantity:   1,
				EntryPrice: 60.0,
				ImpliedVol: 0.20,
				Status:     ledger.ComponentOpen,
			},
		},
	}
	ctx := MarketContext{
		Now:         testNow,
		Marks:       map[string]float64{"c-leap": 65.0},
		Regime:      regime.Normal,
		RegimeKnown: true,
	}

	a := e.Evaluate(pos, ctx)
	assert.GreaterOrEqual(t, a.Metrics.DaysHeld, 60)
	assert.False(t, a.Metrics.IsCredit)

	var kinds []ActionKind
	for _, act := range a.Actions {
		kinds = append(kinds, act.Kind)
	}
	assert.Contains(t, kinds, ActionMonetizeHedge)
}

func TestEvaluateUsesMarkFallbackFromLedger(t *testing.T) {
	e := testDefense()
	pos := creditPosition("short_strangle", 10.0, 40)
	pos.Components["c-1"].CurrentMark = 4.0

	// No marks in the context: the stored mark still prices the position
	a := e.Evaluate(pos, MarketContext{Now: testNow, Regime: regime.Normal, RegimeKnown: true})
	assert.InDelta(t, 0.60, a.Metrics.PnLPercent, 0.001)
}

func TestPartialCloseKeepsRealizedLossInPnL(t *testing.T) {
	e := testDefense()

	// Strangle entered for a 900 credit. The put side gets tested and is
	// bought back at 8.00 for a 300 realized loss; the call still trades
	// at entry. The position is down a third of the credit.
	pos := &ledger.CompositePosition{
		ID:          "pos-partial",
		StrategyTag: "short_strangle",
		Underlying:  "SPY",
		EntryTime:   testNow.AddDate(0, 0, -10),
		Status:      ledger.StatusPartiallyClosed,
		Components: map[string]*ledger.PositionComponent{
			"c-put": {
				ID:          "c-put",
				LegType:     ledger.LegNakedShortPut,
				Strike:      440,
				Expiry:      testNow.AddDate(0, 0, 40),
				Quantity:    -1,
				EntryPrice:  5.0,
				CurrentMark: 8.0,
				PnL:         -300,
				Status:      ledger.ComponentClosed,
			},
			"c-call": {
				ID:         "c-call",
				LegType:    ledger.LegShortCall,
				Strike:     480,
				Expiry:     testNow.AddDate(0, 0, 40),
				Quantity:   -1,
				EntryPrice: 4.0,
				Status:     ledger.ComponentOpen,
			},
		},
	}
	ctx := MarketContext{
		Now:         testNow,
		Marks:       map[string]float64{"c-call": 4.0},
		Regime:      regime.Normal,
		RegimeKnown: true,
	}

	a := e.Evaluate(pos, ctx)
	assert.InDelta(t, -1.0/3.0, a.Metrics.PnLPercent, 0.001)
	assert.InDelta(t, 900.0, a.Metrics.EntryBasis, 1e-9)
	assert.InDelta(t, pos.TotalPnL()/a.Metrics.EntryBasis, a.Metrics.PnLPercent, 1e-9)

	for _, tr := range a.Triggers {
		assert.NotEqual(t, TriggerProfit, tr.Kind, "losing position must not fire PROFIT")
	}
	assert.Empty(t, a.Triggers)
	assert.Equal(t, StatusHealthy, a.Status)
}

// livePut builds a short put against the real clock so the pricing
// engine sees a positive time to expiry.
func livePut(now time.Time) *ledger.CompositePosition {
	return &ledger.CompositePosition{
		ID:          "pos-delta",
		StrategyTag: "short_strangle",
		Underlying:  "SPY",
		EntryTime:   now.AddDate(0, 0, -10),
		Status:      ledger.StatusOpen,
		Components: map[string]*ledger.PositionComponent{
			"c-1": {
				ID:         "c-1",
				LegType:    ledger.LegNakedShortPut,
				Strike:     440,
				Expiry:     now.AddDate(0, 0, 40),
				Quantity:   -1,
				EntryPrice: 10.0,
				ImpliedVol: 0.22,
				Status:     ledger.ComponentOpen,
			},
		},
	}
}

func TestDeltaBreachRecommendsHedge(t *testing.T) {
	e := testDefense()
	now := time.Now()

	// Put moderately in the money: |delta| near 0.70, past the 0.60
	// breach threshold but short of the 1.5x escalation at 0.90.
	ctx := MarketContext{
		Now:         now,
		Spots:       map[string]float64{"SPY": 420},
		Marks:       map[string]float64{"c-1": 10.0},
		Regime:      regime.Normal,
		RegimeKnown: true,
	}
	a := e.Evaluate(livePut(now), ctx)

	assert.Greater(t, a.Metrics.AbsDelta, 0.60)
	assert.Less(t, a.Metrics.AbsDelta, 0.90)

	var delta *Trigger
	for i := range a.Triggers {
		if a.Triggers[i].Kind == TriggerDelta {
			delta = &a.Triggers[i]
		}
	}
	require.NotNil(t, delta, "delta past the per-tag threshold must fire DELTA")
	assert.Equal(t, SeverityHigh, delta.Severity)
	assert.Equal(t, StatusDefensiveNeeded, a.Status)

	var kinds []ActionKind
	for _, act := range a.Actions {
		kinds = append(kinds, act.Kind)
	}
	assert.Contains(t, kinds, ActionAddHedge)
	assert.NotContains(t, kinds, ActionRollTestedSide)
}

func TestDeltaBreachCriticalRollsTestedSide(t *testing.T) {
	e := testDefense()
	now := time.Now()

	// Deep in the money: |delta| saturates near 1.0, past 1.5x the 0.60
	// threshold.
	ctx := MarketContext{
		Now:         now,
		Spots:       map[string]float64{"SPY": 300},
		Marks:       map[string]float64{"c-1": 10.0},
		Regime:      regime.Normal,
		RegimeKnown: true,
	}
	a := e.Evaluate(livePut(now), ctx)

	assert.Greater(t, a.Metrics.AbsDelta, 0.90)

	var delta *Trigger
	for i := range a.Triggers {
		if a.Triggers[i].Kind == TriggerDelta {
			delta = &a.Triggers[i]
		}
	}
	require.NotNil(t, delta)
	assert.Equal(t, SeverityCritical, delta.Severity)
	assert.Equal(t, StatusEmergency, a.Status)

	var kinds []ActionKind
	for _, act := range a.Actions {
		kinds = append(kinds, act.Kind)
	}
	assert.Contains(t, kinds, ActionRollTestedSide)
	assert.NotContains(t, kinds, ActionAddHedge)
}

func TestDebitPositionPnLDirection(t *testing.T) {
	e := testDefense()

	pos := &ledger.CompositePosition{
		ID:          "pos-debit",
		StrategyTag: "long_leap",
		Underlying:  "SPY",
		EntryTime:   testNow.AddDate(0, 0, -5),
		Status:      ledger.StatusOpen,
		Components: map[string]*ledger.PositionComponent{
			"c-1": {
				ID:         "c-1",
				LegType:    ledger.LegLongCall,
				Strike:     450,
				Expiry:     testNow.AddDate(0, 0, 200),
				Quantity:   1,
				EntryPrice: 20.0,
				ImpliedVol: 0.20,
				Status:     ledger.ComponentOpen,
			},
		},
	}

	// Debit 2000 now worth 2400: +20%
	ctx := MarketContext{Now: testNow, Marks: map[string]float64{"c-1": 24.0}, Regime: regime.Normal, RegimeKnown: true}
	a := e.Evaluate(pos, ctx)
	assert.False(t, a.Metrics.IsCredit)
	assert.InDelta(t, 0.20, a.Metrics.PnLPercent, 0.001)

	// Worth 1400: -30%
	ctx.Marks["c-1"] = 14.0
	a = e.Evaluate(pos, ctx)
	assert.InDelta(t, -0.30, a.Metrics.PnLPercent, 0.001)
}
