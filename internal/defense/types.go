// Package defense is the top-level consumer of the risk engine: per
// open position it pulls metrics from the ledger, greeks engine, and
// regime classifier, evaluates fixed triggers in priority order, and
// emits prioritized recommended actions.
package defense

import (
	"time"

	"github.com/quantdesk/riskcore/internal/regime"
)

// TriggerKind names the condition class that fired
type TriggerKind int

const (
	TriggerTime TriggerKind = iota
	TriggerProfit
	TriggerLoss
	TriggerDelta
	TriggerVolatility
)

func (tk TriggerKind) String() string {
	switch tk {
	case TriggerTime:
		return "TIME"
	case TriggerProfit:
		return "PROFIT"
	case TriggerLoss:
		return "LOSS"
	case TriggerDelta:
		return "DELTA"
	case TriggerVolatility:
		return "VOLATILITY"
	default:
		return "UNKNOWN"
	}
}

// Severity ranks a fired trigger
type Severity int

const (
	SeverityModerate Severity = iota
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "MODERATE"
	}
}

// Trigger is one fired defensive condition
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Detail   string      `json:"detail"`
	Value    float64     `json:"value"`
	Limit    float64     `json:"limit"`
}

// HealthStatus is the per-position assessment, in priority order
type HealthStatus int

const (
	StatusHealthy HealthStatus = iota
	StatusWatchList
	StatusDefensiveNeeded
	StatusEmergency
	StatusCloseImmediately
)

func (hs HealthStatus) String() string {
	switch hs {
	case StatusWatchList:
		return "WATCH_LIST"
	case StatusDefensiveNeeded:
		return "DEFENSIVE_NEEDED"
	case StatusEmergency:
		return "EMERGENCY"
	case StatusCloseImmediately:
		return "CLOSE_IMMEDIATELY"
	default:
		return "HEALTHY"
	}
}

// Urgency derives from status; more than one CRITICAL trigger escalates
// to IMMEDIATE.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyImmediate
)

func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "MEDIUM"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyImmediate:
		return "IMMEDIATE"
	default:
		return "LOW"
	}
}

// ActionKind is a recommended defensive move
type ActionKind int

const (
	ActionClose ActionKind = iota
	ActionRollUntestedSide
	ActionRollTestedSide
	ActionAddHedge
	ActionTakeProfit
	ActionMonetizeHedge
)

func (ak ActionKind) String() string {
	switch ak {
	case ActionClose:
		return "close"
	case ActionRollUntestedSide:
		return "roll_untested_side"
	case ActionRollTestedSide:
		return "roll_tested_side"
	case ActionAddHedge:
		return "add_hedge"
	case ActionTakeProfit:
		return "take_profit"
	case ActionMonetizeHedge:
		return "monetize_hedge"
	default:
		return "unknown"
	}
}

// RecommendedAction pairs an action with the trigger that produced it
type RecommendedAction struct {
	Kind    ActionKind  `json:"kind"`
	Trigger TriggerKind `json:"trigger"`
	Reason  string      `json:"reason"`
}

// PositionMetrics are the derived inputs the rule table evaluates
type PositionMetrics struct {
	DTE          int     `json:"dte"`
	PnLPercent   float64 `json:"pnl_percent"` // vs entry credit/debit
	AbsDelta     float64 `json:"abs_delta"`
	VegaExposure float64 `json:"vega_exposure"`
	DaysHeld     int     `json:"days_held"`
	EntryBasis   float64 `json:"entry_basis"` // gross entry credit or debit
	CurrentValue float64 `json:"current_value"`
	IsCredit     bool    `json:"is_credit"`
}

// Assessment is the per-position evaluation result
type Assessment struct {
	PositionID  string              `json:"position_id"`
	StrategyTag string              `json:"strategy_tag"`
	Underlying  string              `json:"underlying"`
	Status      HealthStatus        `json:"status"`
	Urgency     Urgency             `json:"urgency"`
	Metrics     PositionMetrics     `json:"metrics"`
	Triggers    []Trigger           `json:"triggers,omitempty"`
	Actions     []RecommendedAction `json:"actions,omitempty"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
}

// MarketContext carries everything a tick supplies synchronously:
// spots per underlying, per-component marks, the active regime, and the
// confidence of the price source that produced the spots.
type MarketContext struct {
	Now             time.Time
	Spots           map[string]float64
	Marks           map[string]float64 // component id -> per-share mark
	Regime          regime.Band
	RegimeKnown     bool
	PriceConfidence float64 // 0-1, from the market data resolver
}
