package defense

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/ledger"
)

const contractMultiplier = 100.0

// Engine evaluates open positions against the per-strategy rule table
type Engine struct {
	rules  *RulesConfig
	greeks *greeks.Engine
	logger zerolog.Logger
}

// NewEngine creates a defensive decision engine
func NewEngine(rules *RulesConfig, ge *greeks.Engine, logger zerolog.Logger) *Engine {
	if rules == nil {
		rules = DefaultRulesConfig()
	}
	return &Engine{
		rules:  rules,
		greeks: ge,
		logger: logger.With().Str("component", "defense").Logger(),
	}
}

// Evaluate assesses one position against its rule set. Triggers are
// evaluated independently; status follows the fixed priority order:
// CRITICAL LOSS or VOLATILITY closes immediately, any other CRITICAL is
// an emergency, any HIGH needs defense, any trigger at all watches.
func (e *Engine) Evaluate(pos *ledger.CompositePosition, ctx MarketContext) Assessment {
	rules := e.rules.RulesFor(pos.StrategyTag)
	metrics := e.computeMetrics(pos, ctx)

	var triggers []Trigger
	triggers = appendTrigger(triggers, e.checkProfit(metrics, rules))
	triggers = appendTrigger(triggers, e.checkLoss(metrics, rules))
	triggers = appendTrigger(triggers, e.checkTime(metrics, rules))
	triggers = appendTrigger(triggers, e.checkDelta(metrics, rules))
	triggers = appendTrigger(triggers, e.checkVolatility(ctx, rules))

	status := deriveStatus(triggers)
	urgency := deriveUrgency(status, triggers)
	actions := e.recommendActions(pos, metrics, rules, triggers)

	assessment := Assessment{
		PositionID:  pos.ID,
		StrategyTag: pos.StrategyTag,
		Underlying:  pos.Underlying,
		Status:      status,
		Urgency:     urgency,
		Metrics:     metrics,
		Triggers:    triggers,
		Actions:     actions,
		EvaluatedAt: ctx.Now,
	}

	if status != StatusHealthy {
		e.logger.Info().
			Str("position_id", pos.ID).
			Str("strategy", pos.StrategyTag).
			Str("status", status.String()).
			Str("urgency", urgency.String()).
			Int("triggers", len(triggers)).
			Msg("position needs attention")
	}
	return assessment
}

// computeMetrics derives DTE, P&L percent, and greek exposure for one
// position from caller-supplied market data.
func (e *Engine) computeMetrics(pos *ledger.CompositePosition, ctx MarketContext) PositionMetrics {
	var m PositionMetrics

	// Entry basis: gross premium, credit when the net entry cashflow is
	// short (negative signed quantity dominates).
	netEntry := 0.0
	currentValue := 0.0
	totalPnL := 0.0
	minDTE := -1
	for _, comp := range pos.Components {
		netEntry += comp.EntryPrice * float64(comp.Quantity) * contractMultiplier
		if comp.Status != ledger.ComponentOpen {
			// Closed leg: its P&L was realized at close and must stay
			// in the position metric.
			totalPnL += comp.PnL
			continue
		}
		mark, ok := ctx.Marks[comp.ID]
		if !ok {
			mark = comp.CurrentMark
		}
		currentValue += mark * math.Abs(float64(comp.Quantity)) * contractMultiplier
		totalPnL += (mark - comp.EntryPrice) * float64(comp.Quantity) * contractMultiplier

		if !comp.Expiry.IsZero() {
			days := int(math.Ceil(comp.Expiry.Sub(ctx.Now).Hours() / 24.0))
			if days < 0 {
				days = 0
			}
			if minDTE < 0 || days < minDTE {
				minDTE = days
			}
		}
	}
	if minDTE < 0 {
		minDTE = 0
	}
	m.DTE = minDTE
	m.CurrentValue = currentValue
	m.IsCredit = netEntry < 0
	m.EntryBasis = math.Abs(netEntry)
	m.DaysHeld = int(ctx.Now.Sub(pos.EntryTime).Hours() / 24.0)

	// P&L percent vs entry credit/debit: realized plus marked P&L over
	// the gross entry cashflow, so a leg bought back at a loss keeps
	// dragging on the position after it closes.
	if m.EntryBasis > 0 {
		m.PnLPercent = totalPnL / m.EntryBasis
	}

	if spot, ok := ctx.Spots[pos.Underlying]; ok && spot > 0 && e.greeks != nil {
		net := e.greeks.PositionGreeks(pos, spot)
		m.AbsDelta = math.Abs(net.Delta)
		m.VegaExposure = net.Vega
	}
	return m
}

func appendTrigger(triggers []Trigger, t *Trigger) []Trigger {
	if t == nil {
		return triggers
	}
	return append(triggers, *t)
}

// checkProfit fires when the profit target is reached
func (e *Engine) checkProfit(m PositionMetrics, rules RuleSet) *Trigger {
	if rules.ProfitTargetPct <= 0 || m.PnLPercent < rules.ProfitTargetPct {
		return nil
	}
	return &Trigger{
		Kind:     TriggerProfit,
		Severity: SeverityModerate,
		Detail:   fmt.Sprintf("profit %.0f%% reached target %.0f%%", m.PnLPercent*100, rules.ProfitTargetPct*100),
		Value:    m.PnLPercent,
		Limit:    rules.ProfitTargetPct,
	}
}

// checkLoss fires HIGH when the loss passes 70% of the stop, CRITICAL
// at or beyond the stop itself.
func (e *Engine) checkLoss(m PositionMetrics, rules RuleSet) *Trigger {
	if rules.StopLossPct <= 0 || m.PnLPercent >= 0 {
		return nil
	}
	loss := -m.PnLPercent
	switch {
	case loss >= rules.StopLossPct:
		return &Trigger{
			Kind:     TriggerLoss,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("loss %.0f%% breached stop %.0f%%", loss*100, rules.StopLossPct*100),
			Value:    -loss,
			Limit:    -rules.StopLossPct,
		}
	case loss >= rules.StopLossPct*0.7:
		return &Trigger{
			Kind:     TriggerLoss,
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("loss %.0f%% approaching stop %.0f%%", loss*100, rules.StopLossPct*100),
			Value:    -loss,
			Limit:    -rules.StopLossPct,
		}
	}
	return nil
}

// checkTime fires MODERATE inside the warn window above the management
// threshold, HIGH at or below it, CRITICAL at the emergency floor.
func (e *Engine) checkTime(m PositionMetrics, rules RuleSet) *Trigger {
	if rules.DTEThreshold <= 0 {
		return nil
	}
	switch {
	case m.DTE <= rules.DTEEmergency:
		return &Trigger{
			Kind:     TriggerTime,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("%d DTE at emergency floor %d", m.DTE, rules.DTEEmergency),
			Value:    float64(m.DTE),
			Limit:    float64(rules.DTEEmergency),
		}
	case m.DTE <= rules.DTEThreshold:
		return &Trigger{
			Kind:     TriggerTime,
			Severity: SeverityHigh,
			Detail:   fmt.Sprintf("%d DTE at management threshold %d", m.DTE, rules.DTEThreshold),
			Value:    float64(m.DTE),
			Limit:    float64(rules.DTEThreshold),
		}
	case m.DTE <= rules.DTEThreshold+rules.DTEWarnWindow:
		return &Trigger{
			Kind:     TriggerTime,
			Severity: SeverityModerate,
			Detail:   fmt.Sprintf("%d DTE approaching management threshold %d", m.DTE, rules.DTEThreshold),
			Value:    float64(m.DTE),
			Limit:    float64(rules.DTEThreshold),
		}
	}
	return nil
}

// checkDelta fires when the position's net delta exposure breaches the
// per-strategy threshold; 1.5x the threshold is critical.
func (e *Engine) checkDelta(m PositionMetrics, rules RuleSet) *Trigger {
	if rules.DeltaBreach <= 0 || m.AbsDelta < rules.DeltaBreach {
		return nil
	}
	severity := SeverityHigh
	if m.AbsDelta >= rules.DeltaBreach*1.5 {
		severity = SeverityCritical
	}
	return &Trigger{
		Kind:     TriggerDelta,
		Severity: severity,
		Detail:   fmt.Sprintf("|delta| %.2f breached %.2f", m.AbsDelta, rules.DeltaBreach),
		Value:    m.AbsDelta,
		Limit:    rules.DeltaBreach,
	}
}

// checkVolatility fires CRITICAL when the active regime reaches the
// rule's emergency band. An unknown regime never fires: the host
// degrades to conservative sizing instead.
func (e *Engine) checkVolatility(ctx MarketContext, rules RuleSet) *Trigger {
	if !ctx.RegimeKnown || ctx.Regime < rules.EmergencyRegime {
		return nil
	}
	return &Trigger{
		Kind:     TriggerVolatility,
		Severity: SeverityCritical,
		Detail:   fmt.Sprintf("regime %s at emergency threshold %s", ctx.Regime, rules.EmergencyRegime),
		Value:    float64(ctx.Regime),
		Limit:    float64(rules.EmergencyRegime),
	}
}

// deriveStatus applies the fixed priority order
func deriveStatus(triggers []Trigger) HealthStatus {
	status := StatusHealthy
	for _, t := range triggers {
		var candidate HealthStatus
		switch {
		case t.Severity == SeverityCritical && (t.Kind == TriggerLoss || t.Kind == TriggerVolatility):
			candidate = StatusCloseImmediately
		case t.Severity == SeverityCritical:
			candidate = StatusEmergency
		case t.Severity == SeverityHigh:
			candidate = StatusDefensiveNeeded
		default:
			candidate = StatusWatchList
		}
		if candidate > status {
			status = candidate
		}
	}
	return status
}

// deriveUrgency maps status to urgency, escalating to IMMEDIATE when
// more than one CRITICAL trigger fires.
func deriveUrgency(status HealthStatus, triggers []Trigger) Urgency {
	criticals := 0
	for _, t := range triggers {
		if t.Severity == SeverityCritical {
			criticals++
		}
	}
	if criticals > 1 {
		return UrgencyImmediate
	}

	switch status {
	case StatusCloseImmediately:
		return UrgencyImmediate
	case StatusEmergency, StatusDefensiveNeeded:
		return UrgencyHigh
	case StatusWatchList:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// recommendActions maps trigger kinds to defensive moves plus
// strategy-specific overrides.
func (e *Engine) recommendActions(pos *ledger.CompositePosition, m PositionMetrics, rules RuleSet, triggers []Trigger) []RecommendedAction {
	var actions []RecommendedAction
	seen := make(map[ActionKind]bool)
	add := func(kind ActionKind, trigger TriggerKind, reason string) {
		if seen[kind] {
			return
		}
		seen[kind] = true
		actions = append(actions, RecommendedAction{Kind: kind, Trigger: trigger, Reason: reason})
	}

	for _, t := range triggers {
		switch t.Kind {
		case TriggerProfit:
			add(ActionTakeProfit, t.Kind, t.Detail)
		case TriggerLoss:
			if t.Severity == SeverityCritical {
				add(ActionClose, t.Kind, t.Detail)
			} else {
				add(ActionRollTestedSide, t.Kind, t.Detail)
			}
		case TriggerTime:
			if t.Severity == SeverityCritical {
				add(ActionClose, t.Kind, t.Detail)
			} else if t.Severity == SeverityHigh {
				add(ActionRollUntestedSide, t.Kind, t.Detail)
			}
		case TriggerDelta:
			if t.Severity == SeverityCritical {
				add(ActionRollTestedSide, t.Kind, t.Detail)
			} else {
				add(ActionAddHedge, t.Kind, t.Detail)
			}
		case TriggerVolatility:
			add(ActionClose, t.Kind, t.Detail)
		}
	}

	// Strategy override: long-held hedged positions become eligible for
	// hedge monetization regardless of trigger state.
	if rules.HedgeMonetizeDays > 0 && m.DaysHeld >= rules.HedgeMonetizeDays && hasHedgeLeg(pos) {
		add(ActionMonetizeHedge, TriggerTime,
			fmt.Sprintf("held %d days beyond monetization point %d", m.DaysHeld, rules.HedgeMonetizeDays))
	}
	return actions
}

// hasHedgeLeg reports whether the position carries a long protective leg
func hasHedgeLeg(pos *ledger.CompositePosition) bool {
	for _, comp := range pos.Components {
		if comp.Status != ledger.ComponentOpen {
			continue
		}
		switch comp.LegType {
		case ledger.LegLongPut, ledger.LegLongPutWing, ledger.LegLongCallWing, ledger.LegLongLEAPCall, ledger.LegLongCall:
			if comp.Quantity > 0 {
				return true
			}
		}
	}
	return false
}
