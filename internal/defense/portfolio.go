package defense

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantdesk/riskcore/internal/ledger"
)

// concentrationLimit is the open-position count per underlying or
// strategy tag beyond which the portfolio review raises an alert.
const concentrationLimit = 3

// PortfolioHealth summarizes the whole book
type PortfolioHealth int

const (
	PortfolioStable PortfolioHealth = iota
	PortfolioStressed
	PortfolioCritical
)

func (ph PortfolioHealth) String() string {
	switch ph {
	case PortfolioStressed:
		return "STRESSED"
	case PortfolioCritical:
		return "CRITICAL"
	default:
		return "STABLE"
	}
}

// PrioritizedAction is a recommended action ranked across the portfolio
type PrioritizedAction struct {
	PositionID string            `json:"position_id"`
	Underlying string            `json:"underlying"`
	Urgency    Urgency           `json:"urgency"`
	Action     RecommendedAction `json:"action"`
	Priority   float64           `json:"priority"`
}

// PortfolioReview is the result of one full defensive pass
type PortfolioReview struct {
	Health       PortfolioHealth     `json:"health"`
	Assessments  []Assessment        `json:"assessments"`
	StatusCounts map[string]int      `json:"status_counts"`
	Actions      []PrioritizedAction `json:"actions,omitempty"`
	Alerts       []string            `json:"alerts,omitempty"`
}

// EvaluatePortfolio assesses every open position and ranks the resulting
// actions. One bad position never blocks the pass: positions are
// evaluated independently against the same market context.
func (e *Engine) EvaluatePortfolio(positions []*ledger.CompositePosition, ctx MarketContext) PortfolioReview {
	review := PortfolioReview{StatusCounts: make(map[string]int)}

	byUnderlying := make(map[string]int)
	byTag := make(map[string]int)

	for _, pos := range positions {
		if pos.Status == ledger.StatusClosed {
			continue
		}
		byUnderlying[pos.Underlying]++
		byTag[pos.StrategyTag]++

		a := e.Evaluate(pos, ctx)
		review.Assessments = append(review.Assessments, a)
		review.StatusCounts[a.Status.String()]++

		for _, action := range a.Actions {
			review.Actions = append(review.Actions, PrioritizedAction{
				PositionID: a.PositionID,
				Underlying: a.Underlying,
				Urgency:    a.Urgency,
				Action:     action,
				Priority:   actionPriority(a, action),
			})
		}
	}

	sort.Slice(review.Actions, func(i, j int) bool {
		if review.Actions[i].Priority != review.Actions[j].Priority {
			return review.Actions[i].Priority > review.Actions[j].Priority
		}
		return review.Actions[i].PositionID < review.Actions[j].PositionID
	})

	review.Alerts = concentrationAlerts(byUnderlying, byTag)
	review.Health = deriveHealth(review.StatusCounts, len(review.Assessments))

	if review.Health != PortfolioStable {
		e.logger.Warn().
			Str("health", review.Health.String()).
			Int("positions", len(review.Assessments)).
			Int("actions", len(review.Actions)).
			Msg("portfolio review flagged")
	}
	return review
}

// actionPriority orders actions for execution: urgency dominates, then
// the action's own weight, then the size of the position's drawdown.
func actionPriority(a Assessment, action RecommendedAction) float64 {
	p := float64(a.Urgency) * 100
	p += actionWeight(action.Kind)
	if a.Metrics.PnLPercent < 0 {
		p += math.Min(math.Abs(a.Metrics.PnLPercent)*10, 50)
	}
	return p
}

func actionWeight(kind ActionKind) float64 {
	switch kind {
	case ActionClose:
		return 30
	case ActionRollTestedSide:
		return 20
	case ActionRollUntestedSide:
		return 15
	case ActionAddHedge:
		return 12
	case ActionTakeProfit:
		return 10
	case ActionMonetizeHedge:
		return 5
	default:
		return 0
	}
}

func concentrationAlerts(byUnderlying, byTag map[string]int) []string {
	var alerts []string
	for _, sym := range sortedKeys(byUnderlying) {
		if n := byUnderlying[sym]; n > concentrationLimit {
			alerts = append(alerts, fmt.Sprintf("%d open positions on %s exceeds concentration limit %d", n, sym, concentrationLimit))
		}
	}
	for _, tag := range sortedKeys(byTag) {
		if n := byTag[tag]; n > concentrationLimit {
			alerts = append(alerts, fmt.Sprintf("%d open %s positions exceeds concentration limit %d", n, tag, concentrationLimit))
		}
	}
	return alerts
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// deriveHealth maps the status distribution to a portfolio verdict:
// any CLOSE_IMMEDIATELY or EMERGENCY is critical, more than a third of
// the book needing defense is stressed.
func deriveHealth(counts map[string]int, total int) PortfolioHealth {
	if counts[StatusCloseImmediately.String()] > 0 || counts[StatusEmergency.String()] > 0 {
		return PortfolioCritical
	}
	if total == 0 {
		return PortfolioStable
	}
	needy := counts[StatusDefensiveNeeded.String()]
	if needy > 0 && float64(needy)/float64(total) > 1.0/3.0 {
		return PortfolioStressed
	}
	return PortfolioStable
}
