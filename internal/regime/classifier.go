package regime

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrDataUnavailable marks a missing or malformed volatility reading.
// The classifier retains the last known regime instead of faulting.
var ErrDataUnavailable = errors.New("volatility reading unavailable")

// historyLimit bounds the rolling sample window (~one trading year)
const historyLimit = 252

// trendWindow is the sample count used for rising/falling queries
const trendWindow = 5

// Sample is one recorded reading with its assigned band
type Sample struct {
	Reading float64   `json:"reading"`
	Band    Band      `json:"band"`
	At      time.Time `json:"at"`
}

// Trend describes the direction of recent readings
type Trend int

const (
	TrendFlat Trend = iota
	TrendRising
	TrendFalling
)

func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "flat"
	}
}

// SpikeOpportunity describes the one-shot deployment window EXTREME
// exposes. The classifier only describes it; callers decide whether to
// act.
type SpikeOpportunity struct {
	DeployFraction float64       `json:"deploy_fraction"` // of buying power
	HoldingWindow  time.Duration `json:"holding_window"`
	TriggeredAt    time.Time     `json:"triggered_at"`
	Reading        float64       `json:"reading"`
}

// TierPolicy carries the per-account-tier knobs for one band
type TierPolicy struct {
	MaxBuyingPower map[int]float64 `yaml:"max_buying_power"` // tier -> fraction
	SizeMultiplier float64         `yaml:"size_multiplier"`
}

// defaultTierPolicies holds the production sizing table. Tier 1 is the
// smallest account tier; multipliers above lowTierMultiplierCap are
// capped for tiers 1 and 2.
var defaultTierPolicies = map[Band]TierPolicy{
	VeryLow:  {MaxBuyingPower: map[int]float64{1: 0.35, 2: 0.40, 3: 0.50, 4: 0.60}, SizeMultiplier: 0.5},
	Low:      {MaxBuyingPower: map[int]float64{1: 0.40, 2: 0.45, 3: 0.55, 4: 0.65}, SizeMultiplier: 0.8},
	Normal:   {MaxBuyingPower: map[int]float64{1: 0.45, 2: 0.50, 3: 0.60, 4: 0.70}, SizeMultiplier: 1.0},
	Elevated: {MaxBuyingPower: map[int]float64{1: 0.35, 2: 0.40, 3: 0.50, 4: 0.60}, SizeMultiplier: 0.7},
	High:     {MaxBuyingPower: map[int]float64{1: 0.25, 2: 0.30, 3: 0.40, 4: 0.50}, SizeMultiplier: 0.5},
	Extreme:  {MaxBuyingPower: map[int]float64{1: 0.10, 2: 0.15, 3: 0.25, 4: 0.35}, SizeMultiplier: 2.0},
}

// lowTierMultiplierCap bounds the EXTREME multiplier for tiers 1 and 2
const lowTierMultiplierCap = 1.5

// strategyFlagSensitivity maps a strategy tag to the flags that gate it
var strategyFlagSensitivity = map[string][]Flag{
	"short_strangle":    {FlagAvoidShortPremium, FlagAvoidNewEntries},
	"naked_put":         {FlagAvoidShortPremium, FlagAvoidNewEntries},
	"iron_condor":       {FlagAvoidShortPremium, FlagAvoidNewEntries},
	"put_credit_spread": {FlagAvoidShortPremium, FlagAvoidNewEntries},
	"zero_dte_condor":   {FlagAvoidSameDayExpiry, FlagAvoidNewEntries},
	"weekly_call":       {FlagAvoidSameDayExpiry, FlagAvoidNewEntries},
	"long_leap":         nil, // long premium welcomes volatility
}

// Classifier tracks the current volatility band and a bounded rolling
// history of readings for trend queries.
type Classifier struct {
	mu           sync.RWMutex
	history      []Sample
	current      Band
	haveReading  bool
	spikeArmed   bool
	spike        *SpikeOpportunity
	tierPolicies map[Band]TierPolicy
	logger       zerolog.Logger
}

// NewClassifier creates a classifier with the production sizing table
func NewClassifier(logger zerolog.Logger) *Classifier {
	return &Classifier{
		tierPolicies: defaultTierPolicies,
		logger:       logger.With().Str("component", "regime").Logger(),
	}
}

// Update records a new volatility reading. A NaN or negative reading
// returns ErrDataUnavailable and leaves the current regime in place.
func (c *Classifier) Update(reading float64, at time.Time) error {
	if math.IsNaN(reading) || reading < 0 {
		c.logger.Warn().Float64("reading", reading).Msg("unusable volatility reading, regime retained")
		return fmt.Errorf("reading %.2f: %w", reading, ErrDataUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	band := ClassifyReading(reading)
	prev := c.current

	c.history = append(c.history, Sample{Reading: reading, Band: band, At: at})
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}

	if band != prev || !c.haveReading {
		c.logger.Info().
			Str("from", prev.String()).
			Str("to", band.String()).
			Float64("reading", reading).
			Msg("regime transition")
	}

	// Arriving in EXTREME arms a fresh one-shot spike descriptor;
	// leaving it clears any unconsumed one.
	if band == Extreme && (prev != Extreme || !c.haveReading) {
		c.spikeArmed = true
		c.spike = &SpikeOpportunity{
			DeployFraction: 0.10,
			HoldingWindow:  5 * 24 * time.Hour,
			TriggeredAt:    at,
			Reading:        reading,
		}
	} else if band != Extreme {
		c.spikeArmed = false
		c.spike = nil
	}

	c.current = band
	c.haveReading = true
	return nil
}

// CurrentRegime returns the active band and whether any reading has
// been recorded. With no reading the host should size conservatively.
func (c *Classifier) CurrentRegime() (Band, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.haveReading
}

// LatestReading returns the most recent raw reading
func (c *Classifier) LatestReading() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return 0, false
	}
	return c.history[len(c.history)-1].Reading, true
}

// History returns a copy of the bounded sample window
func (c *Classifier) History() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.history))
	copy(out, c.history)
	return out
}

// MaxBuyingPowerFraction returns the buying-power ceiling for the
// account tier under the active regime. Unknown tiers clamp to the
// nearest defined tier.
func (c *Classifier) MaxBuyingPowerFraction(tier int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	policy := c.tierPolicies[c.current]
	if frac, ok := policy.MaxBuyingPower[tier]; ok {
		return frac
	}
	if tier < 1 {
		return policy.MaxBuyingPower[1]
	}
	return policy.MaxBuyingPower[4]
}

// SizeMultiplier returns the position-size multiplier for the account
// tier under the active regime. The EXTREME multiplier is capped for
// the two lowest tiers.
func (c *Classifier) SizeMultiplier(tier int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mult := c.tierPolicies[c.current].SizeMultiplier
	if tier <= 2 && mult > lowTierMultiplierCap {
		mult = lowTierMultiplierCap
	}
	return mult
}

// ShouldAvoidStrategy checks the active regime's flags against the
// strategy tag's sensitivity table.
func (c *Classifier) ShouldAvoidStrategy(tag string) (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, flag := range strategyFlagSensitivity[tag] {
		if c.current.HasFlag(flag) {
			return true, fmt.Sprintf("regime %s: %s", c.current, flag)
		}
	}
	return false, ""
}

// Trend reports whether readings are rising or falling over the last
// trendWindow samples. Fewer samples than the window reports flat.
func (c *Classifier) Trend() Trend {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.history) < trendWindow {
		return TrendFlat
	}
	window := c.history[len(c.history)-trendWindow:]
	first, last := window[0].Reading, window[len(window)-1].Reading
	switch {
	case last > first*1.02:
		return TrendRising
	case last < first*0.98:
		return TrendFalling
	default:
		return TrendFlat
	}
}

// SpikeOpportunity returns the one-shot EXTREME deployment descriptor.
// The first call after an EXTREME transition consumes it; subsequent
// calls return nil until the regime leaves and re-enters EXTREME.
func (c *Classifier) SpikeOpportunity() *SpikeOpportunity {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != Extreme || !c.spikeArmed || c.spike == nil {
		return nil
	}
	c.spikeArmed = false
	spike := *c.spike
	return &spike
}
