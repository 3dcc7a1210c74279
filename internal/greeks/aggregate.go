package greeks

import (
	"math"

	"github.com/quantdesk/riskcore/internal/ledger"
)

// Risk ceilings for the whole portfolio. Breaches are reported, never
// auto-enforced here.
const (
	DeltaLimit = 50.0
	GammaLimit = 5.0
	ThetaFloor = -500.0 // per day
	VegaLimit  = 1000.0
)

// deltaNeutralBand is the |delta| band treated as neutral
const deltaNeutralBand = 10.0

// ViolationKind names the breached ceiling
type ViolationKind string

const (
	ViolationDelta ViolationKind = "delta"
	ViolationGamma ViolationKind = "gamma"
	ViolationTheta ViolationKind = "theta"
	ViolationVega  ViolationKind = "vega"
)

// ViolationSeverity ranks a ceiling breach
type ViolationSeverity string

const (
	SeverityModerate ViolationSeverity = "MODERATE"
	SeverityHigh     ViolationSeverity = "HIGH"
)

// Violation is one breached risk ceiling
type Violation struct {
	Kind     ViolationKind     `json:"kind"`
	Limit    float64           `json:"limit"`
	Value    float64           `json:"value"`
	Severity ViolationSeverity `json:"severity"`
}

// Portfolio is the derived portfolio-wide snapshot. It is never
// persisted; recompute it per tick.
type Portfolio struct {
	Totals        Greeks      `json:"totals"`
	PositionCount int         `json:"position_count"`
	DeltaNeutral  bool        `json:"delta_neutral"`
	GammaRisk     float64     `json:"gamma_risk"` // normalized 0-1
	VegaRisk      float64     `json:"vega_risk"`  // normalized 0-1
	Violations    []Violation `json:"violations,omitempty"`
	MissingSpots  []string    `json:"missing_spots,omitempty"`
}

// PortfolioGreeks aggregates over OPEN positions only, using the
// caller-supplied spot per underlying. Positions whose underlying has
// no spot are skipped and surfaced in MissingSpots, never silently
// priced off a substitute.
func (e *Engine) PortfolioGreeks(positions []*ledger.CompositePosition, spots map[string]float64) Portfolio {
	var out Portfolio
	missing := make(map[string]bool)

	for _, pos := range positions {
		if pos.Status == ledger.StatusClosed {
			continue
		}
		spot, ok := spots[pos.Underlying]
		if !ok || spot <= 0 {
			if !missing[pos.Underlying] {
				missing[pos.Underlying] = true
				out.MissingSpots = append(out.MissingSpots, pos.Underlying)
			}
			continue
		}
		net := e.PositionGreeks(pos, spot)
		out.Totals.Delta += net.Delta
		out.Totals.Gamma += net.Gamma
		out.Totals.Theta += net.Theta
		out.Totals.Vega += net.Vega
		out.PositionCount++
	}

	out.DeltaNeutral = math.Abs(out.Totals.Delta) < deltaNeutralBand
	out.GammaRisk = normalizeRisk(out.Totals.Gamma, GammaLimit)
	out.VegaRisk = normalizeRisk(out.Totals.Vega, VegaLimit)
	out.Violations = CheckLimits(out.Totals)

	if len(out.Violations) > 0 {
		e.logger.Warn().
			Int("violations", len(out.Violations)).
			Float64("delta", out.Totals.Delta).
			Float64("vega", out.Totals.Vega).
			Msg("portfolio risk ceilings breached")
	}
	return out
}

// CheckLimits compares aggregate totals against the fixed ceilings and
// returns one Violation per breach. Values exactly at a ceiling do not
// violate it. Delta and vega breaches are HIGH severity.
func CheckLimits(totals Greeks) []Violation {
	var out []Violation
	if math.Abs(totals.Delta) > DeltaLimit {
		out = append(out, Violation{Kind: ViolationDelta, Limit: DeltaLimit, Value: totals.Delta, Severity: SeverityHigh})
	}
	if math.Abs(totals.Gamma) > GammaLimit {
		out = append(out, Violation{Kind: ViolationGamma, Limit: GammaLimit, Value: totals.Gamma, Severity: SeverityModerate})
	}
	if totals.Theta < ThetaFloor {
		out = append(out, Violation{Kind: ViolationTheta, Limit: ThetaFloor, Value: totals.Theta, Severity: SeverityModerate})
	}
	if math.Abs(totals.Vega) > VegaLimit {
		out = append(out, Violation{Kind: ViolationVega, Limit: VegaLimit, Value: totals.Vega, Severity: SeverityHigh})
	}
	return out
}

// normalizeRisk maps |value| against its ceiling into [0,1]
func normalizeRisk(value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	r := math.Abs(value) / limit
	if r > 1 {
		r = 1
	}
	return r
}
