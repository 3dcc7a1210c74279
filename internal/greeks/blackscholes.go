package greeks

import (
	"math"
)

// daysPerYear converts calendar days-to-expiry to year fractions
const daysPerYear = 365.0

// stdNormPDF is the standard normal density
func stdNormPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

// stdNormCDF is the standard normal cumulative distribution
func stdNormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// blackScholes computes per-contract sensitivities under the standard
// closed-form approximation. Theta is per calendar day; vega is per one
// volatility point (1%). Degenerate inputs never panic:
//   - t <= 0 collapses to expiry values (delta in {-1, 0, 1} by
//     moneyness, all other sensitivities zero)
//   - non-positive spot, strike, or vol degrades to all zeros
func blackScholes(isCall bool, spot, strike, tYears, vol, riskFree float64) Greeks {
	if spot <= 0 || strike <= 0 || vol <= 0 || math.IsNaN(spot) || math.IsNaN(strike) || math.IsNaN(vol) {
		return Greeks{}
	}

	if tYears <= 0 {
		return expiryGreeks(isCall, spot, strike)
	}

	sqrtT := math.Sqrt(tYears)
	d1 := (math.Log(spot/strike) + (riskFree+vol*vol/2)*tYears) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	var delta float64
	if isCall {
		delta = stdNormCDF(d1)
	} else {
		delta = stdNormCDF(d1) - 1
	}

	gamma := stdNormPDF(d1) / (spot * vol * sqrtT)
	vega := spot * stdNormPDF(d1) * sqrtT / 100

	discounted := strike * math.Exp(-riskFree*tYears)
	var thetaYearly float64
	if isCall {
		thetaYearly = -spot*stdNormPDF(d1)*vol/(2*sqrtT) - riskFree*discounted*stdNormCDF(d2)
	} else {
		thetaYearly = -spot*stdNormPDF(d1)*vol/(2*sqrtT) + riskFree*discounted*stdNormCDF(-d2)
	}

	return Greeks{
		Delta: clampDelta(delta, isCall),
		Gamma: gamma,
		Theta: thetaYearly / daysPerYear,
		Vega:  vega,
	}
}

// expiryGreeks is the t<=0 degenerate case: delta snaps to intrinsic
// exposure by moneyness, everything else is zero.
func expiryGreeks(isCall bool, spot, strike float64) Greeks {
	g := Greeks{}
	if isCall {
		if spot > strike {
			g.Delta = 1
		}
	} else {
		if spot < strike {
			g.Delta = -1
		}
	}
	return g
}

// clampDelta keeps delta strictly inside (-1, 1) with the right sign
func clampDelta(delta float64, isCall bool) float64 {
	const eps = 1e-9
	if isCall {
		if delta < 0 {
			return 0
		}
		if delta >= 1 {
			return 1 - eps
		}
	} else {
		if delta > 0 {
			return 0
		}
		if delta <= -1 {
			return -1 + eps
		}
	}
	return delta
}

// estimateIVFromMoneyness is the documented fallback when a contract
// carries no implied volatility: a flat 20% base plus a smile term that
// widens with distance from at-the-money.
func estimateIVFromMoneyness(spot, strike float64) float64 {
	if spot <= 0 || strike <= 0 {
		return 0.20
	}
	moneyness := math.Abs(math.Log(strike / spot))
	iv := 0.20 + 0.35*moneyness
	if iv > 1.0 {
		iv = 1.0
	}
	return iv
}
