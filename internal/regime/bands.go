// Package regime classifies a rolling volatility-index reading into one
// of six ordered bands and derives buying-power ceilings, position-size
// multipliers, and strategy gates from the active band.
package regime

// Band is a discrete volatility regime. Bands are ordered and
// contiguous, covering [0, +inf) with half-open ranges and no gaps.
type Band int

const (
	VeryLow  Band = iota // [0, 12)
	Low                  // [12, 16)
	Normal               // [16, 20)
	Elevated             // [20, 25)
	High                 // [25, 30)
	Extreme              // [30, +inf)
)

func (b Band) String() string {
	switch b {
	case VeryLow:
		return "VERY_LOW"
	case Low:
		return "LOW"
	case Normal:
		return "NORMAL"
	case Elevated:
		return "ELEVATED"
	case High:
		return "HIGH"
	case Extreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// bandBounds holds the half-open [lower, upper) range for each band.
// Extreme's upper bound is +inf, expressed as a negative sentinel.
var bandBounds = []struct {
	band  Band
	lower float64
	upper float64 // -1 means unbounded
}{
	{VeryLow, 0, 12},
	{Low, 12, 16},
	{Normal, 16, 20},
	{Elevated, 20, 25},
	{High, 25, 30},
	{Extreme, 30, -1},
}

// ClassifyReading maps a volatility reading to its band. The transition
// is a pure function of the latest reading; there is no hysteresis.
// Negative readings clamp to VeryLow.
func ClassifyReading(reading float64) Band {
	for _, bb := range bandBounds {
		if reading >= bb.lower && (bb.upper < 0 || reading < bb.upper) {
			return bb.band
		}
	}
	return VeryLow
}

// Flag is a qualitative restriction a band places on strategy entry
type Flag string

const (
	FlagAvoidShortPremium  Flag = "avoid_short_premium"
	FlagAvoidSameDayExpiry Flag = "avoid_same_day_expiry"
	FlagAvoidNewEntries    Flag = "avoid_new_entries"
	FlagPreferDefinedRisk  Flag = "prefer_defined_risk"
)

// bandFlags lists the active restrictions per band
var bandFlags = map[Band][]Flag{
	VeryLow:  {FlagAvoidShortPremium},
	Low:      nil,
	Normal:   nil,
	Elevated: {FlagAvoidSameDayExpiry},
	High:     {FlagAvoidSameDayExpiry, FlagPreferDefinedRisk},
	Extreme:  {FlagAvoidSameDayExpiry, FlagAvoidNewEntries},
}

// HasFlag reports whether the band carries the given restriction
func (b Band) HasFlag(f Flag) bool {
	for _, bf := range bandFlags[b] {
		if bf == f {
			return true
		}
	}
	return false
}
