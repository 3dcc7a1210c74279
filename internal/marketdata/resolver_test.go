package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotSourceQuote(t *testing.T) {
	src := NewSnapshotSource("broker", 1.0)
	asOf := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	src.Update(map[string]float64{"SPY": 451.25}, asOf)

	q, err := src.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 451.25, q.Value)
	assert.Equal(t, 1.0, q.Confidence)
	assert.Equal(t, asOf, q.AsOf)

	_, err = src.Quote(context.Background(), "QQQ")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestResolverPrefersHighestConfidence(t *testing.T) {
	broker := NewSnapshotSource("broker", 1.0)
	broker.Update(map[string]float64{"SPY": 450.00}, time.Now())
	vendor := NewSnapshotSource("vendor", 0.8)
	vendor.Update(map[string]float64{"SPY": 449.50, "QQQ": 380.00}, time.Now())

	// Registration order should not matter
	r := NewResolver(zerolog.Nop(), vendor, broker)

	q, err := r.Resolve(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, "broker", q.Source)
	assert.Equal(t, 450.00, q.Value)

	// Falls through to the lower-confidence source
	q, err = r.Resolve(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.Equal(t, "vendor", q.Source)

	_, err = r.Resolve(context.Background(), "IWM")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestResolveBatchReportsMissingAndConfidence(t *testing.T) {
	broker := NewSnapshotSource("broker", 1.0)
	broker.Update(map[string]float64{"SPY": 450.00}, time.Now())
	vendor := NewSnapshotSource("vendor", 0.8)
	vendor.Update(map[string]float64{"QQQ": 380.00}, time.Now())

	r := NewResolver(zerolog.Nop(), broker, vendor)
	values, confidence, missing := r.ResolveBatch(context.Background(), []string{"SPY", "QQQ", "IWM"})

	assert.Equal(t, map[string]float64{"SPY": 450.00, "QQQ": 380.00}, values)
	assert.Equal(t, 0.8, confidence)
	assert.Equal(t, []string{"IWM"}, missing)
}

func TestResolveBatchAllMissing(t *testing.T) {
	r := NewResolver(zerolog.Nop(), NewSnapshotSource("broker", 1.0))
	values, confidence, missing := r.ResolveBatch(context.Background(), []string{"SPY"})

	assert.Empty(t, values)
	assert.Zero(t, confidence)
	assert.Equal(t, []string{"SPY"}, missing)
}

func TestLiveSourceFetchAndGuards(t *testing.T) {
	calls := 0
	src := NewLiveSource(DefaultLiveSourceConfig("vendor"), func(_ context.Context, symbol string) (float64, error) {
		calls++
		if symbol == "BAD" {
			return 0, errors.New("provider error")
		}
		return 450.00, nil
	}, zerolog.Nop())

	q, err := src.Quote(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 450.00, q.Value)
	assert.Equal(t, 0.90, q.Confidence)

	_, err = src.Quote(context.Background(), "BAD")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestLiveSourceBreakerOpensOnConsecutiveFailures(t *testing.T) {
	calls := 0
	src := NewLiveSource(DefaultLiveSourceConfig("vendor"), func(context.Context, string) (float64, error) {
		calls++
		return 0, errors.New("provider down")
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := src.Quote(context.Background(), "SPY")
		assert.Error(t, err)
	}
	// Breaker is open now; the fetch must not be invoked again
	_, err := src.Quote(context.Background(), "SPY")
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestLiveSourceRateLimit(t *testing.T) {
	cfg := DefaultLiveSourceConfig("vendor")
	cfg.RequestsPerSec = 0.001
	cfg.Burst = 1

	src := NewLiveSource(cfg, func(context.Context, string) (float64, error) {
		return 450.00, nil
	}, zerolog.Nop())

	_, err := src.Quote(context.Background(), "SPY")
	require.NoError(t, err)

	_, err = src.Quote(context.Background(), "SPY")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
