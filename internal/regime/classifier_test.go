package regime

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReadingTotalPartition(t *testing.T) {
	cases := []struct {
		reading float64
		want    Band
	}{
		{0, VeryLow},
		{11.999, VeryLow},
		{12, Low},
		{15.999, Low},
		{16, Normal},
		{19.999, Normal},
		{20, Elevated},
		{24.999, Elevated},
		{25, High},
		{29.999, High},
		{30, Extreme},
		{80, Extreme},
		{1000, Extreme},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyReading(tc.reading), "reading %.3f", tc.reading)
	}

	// Exhaustive sweep: exactly one band matches every reading
	for r := 0.0; r < 60.0; r += 0.25 {
		matches := 0
		for _, bb := range bandBounds {
			if r >= bb.lower && (bb.upper < 0 || r < bb.upper) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "reading %.2f must match exactly one band", r)
	}
}

func TestScenarioReading11(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	require.NoError(t, c.Update(11, time.Now()))

	band, ok := c.CurrentRegime()
	require.True(t, ok)
	assert.Equal(t, VeryLow, band)
	assert.InDelta(t, 0.40, c.MaxBuyingPowerFraction(2), 1e-9)
	assert.InDelta(t, 0.5, c.SizeMultiplier(2), 1e-9)
}

func TestScenarioReading32(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	require.NoError(t, c.Update(32, time.Now()))

	band, ok := c.CurrentRegime()
	require.True(t, ok)
	assert.Equal(t, Extreme, band)

	// 2.0 multiplier, capped at 1.5 for tiers <= 2
	assert.InDelta(t, 2.0, c.SizeMultiplier(3), 1e-9)
	assert.InDelta(t, 2.0, c.SizeMultiplier(4), 1e-9)
	assert.InDelta(t, 1.5, c.SizeMultiplier(1), 1e-9)
	assert.InDelta(t, 1.5, c.SizeMultiplier(2), 1e-9)
}

func TestSizeMultiplierTable(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	cases := []struct {
		reading float64
		want    float64
	}{
		{5, 0.5},   // VERY_LOW
		{14, 0.8},  // LOW
		{18, 1.0},  // NORMAL
		{22, 0.7},  // ELEVATED
		{27, 0.5},  // HIGH
		{35, 2.0},  // EXTREME (tier 3)
	}
	for _, tc := range cases {
		require.NoError(t, c.Update(tc.reading, time.Now()))
		assert.InDelta(t, tc.want, c.SizeMultiplier(3), 1e-9, "reading %.0f", tc.reading)
	}
}

func TestBadReadingRetainsRegime(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	require.NoError(t, c.Update(18, time.Now()))

	err := c.Update(-1, time.Now())
	assert.ErrorIs(t, err, ErrDataUnavailable)
	err = c.Update(math.NaN(), time.Now())
	assert.ErrorIs(t, err, ErrDataUnavailable)

	band, ok := c.CurrentRegime()
	assert.True(t, ok)
	assert.Equal(t, Normal, band)
}

func TestNoReadingReportsUnknown(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	_, ok := c.CurrentRegime()
	assert.False(t, ok)
}

func TestShouldAvoidStrategy(t *testing.T) {
	c := NewClassifier(zerolog.Nop())

	// VERY_LOW blocks short premium
	require.NoError(t, c.Update(8, time.Now()))
	avoid, reason := c.ShouldAvoidStrategy("short_strangle")
	assert.True(t, avoid)
	assert.Contains(t, reason, "VERY_LOW")

	// NORMAL allows it
	require.NoError(t, c.Update(18, time.Now()))
	avoid, _ = c.ShouldAvoidStrategy("short_strangle")
	assert.False(t, avoid)

	// ELEVATED blocks same-day expiry strategies but not strangles
	require.NoError(t, c.Update(22, time.Now()))
	avoid, _ = c.ShouldAvoidStrategy("zero_dte_condor")
	assert.True(t, avoid)
	avoid, _ = c.ShouldAvoidStrategy("short_strangle")
	assert.False(t, avoid)

	// EXTREME blocks new short entries, long LEAPs stay eligible
	require.NoError(t, c.Update(40, time.Now()))
	avoid, _ = c.ShouldAvoidStrategy("short_strangle")
	assert.True(t, avoid)
	avoid, _ = c.ShouldAvoidStrategy("long_leap")
	assert.False(t, avoid)
}

func TestTrend(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	now := time.Now()

	for i, r := range []float64{15, 16, 17, 19, 22} {
		require.NoError(t, c.Update(r, now.Add(time.Duration(i)*time.Hour)))
	}
	assert.Equal(t, TrendRising, c.Trend())

	for i, r := range []float64{22, 20, 18, 17, 16} {
		require.NoError(t, c.Update(r, now.Add(time.Duration(5+i)*time.Hour)))
	}
	assert.Equal(t, TrendFalling, c.Trend())
}

func TestHistoryBounded(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	now := time.Now()
	for i := 0; i < historyLimit+50; i++ {
		require.NoError(t, c.Update(18, now.Add(time.Duration(i)*time.Minute)))
	}
	assert.Len(t, c.History(), historyLimit)
}

func TestSpikeOpportunityOneShot(t *testing.T) {
	c := NewClassifier(zerolog.Nop())
	now := time.Now()

	// Not EXTREME: nothing offered
	require.NoError(t, c.Update(18, now))
	assert.Nil(t, c.SpikeOpportunity())

	// Entering EXTREME arms one descriptor
	require.NoError(t, c.Update(34, now))
	spike := c.SpikeOpportunity()
	require.NotNil(t, spike)
	assert.InDelta(t, 0.10, spike.DeployFraction, 1e-9)
	assert.Equal(t, 5*24*time.Hour, spike.HoldingWindow)

	// Consumed: second query returns nil even while still EXTREME
	require.NoError(t, c.Update(36, now.Add(time.Hour)))
	assert.Nil(t, c.SpikeOpportunity())

	// Leaving and re-entering EXTREME re-arms
	require.NoError(t, c.Update(24, now.Add(2*time.Hour)))
	require.NoError(t, c.Update(31, now.Add(3*time.Hour)))
	assert.NotNil(t, c.SpikeOpportunity())
}
