// Package greeks computes per-contract option sensitivities via a
// closed-form approximation and aggregates them across multi-leg
// positions and the whole portfolio.
package greeks

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/riskcore/internal/ledger"
)

// Greeks holds the four tracked sensitivities for one contract or one
// aggregate. Theta is per calendar day, vega per volatility point.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// ContractSpec identifies one option contract for pricing
type ContractSpec struct {
	Underlying string
	IsCall     bool
	Strike     float64
	Expiry     time.Time
	ImpliedVol float64 // 0 means unknown; estimated from moneyness
}

// EngineConfig tunes the engine. Zero values take defaults.
type EngineConfig struct {
	RiskFreeRate float64       `yaml:"risk_free_rate"` // default 0.045
	CacheTTL     time.Duration `yaml:"cache_ttl"`      // default 5m
}

// DefaultEngineConfig returns production pricing defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RiskFreeRate: 0.045,
		CacheTTL:     5 * time.Minute,
	}
}

type cacheKey struct {
	underlying string
	isCall     bool
	strike     float64
	expiry     int64
	spotCents  int64
}

type cacheEntry struct {
	greeks   Greeks
	storedAt time.Time
}

// Engine owns an instance-scoped result cache; its lifetime is tied to
// the engine, never a package-level singleton.
type Engine struct {
	cfg    EngineConfig
	mu     sync.Mutex
	cache  map[cacheKey]cacheEntry
	nowFn  func() time.Time
	logger zerolog.Logger
}

// NewEngine creates a Greeks engine with the given config
func NewEngine(cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = DefaultEngineConfig().RiskFreeRate
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultEngineConfig().CacheTTL
	}
	return &Engine{
		cfg:    cfg,
		cache:  make(map[cacheKey]cacheEntry),
		nowFn:  time.Now,
		logger: logger.With().Str("component", "greeks").Logger(),
	}
}

// OptionGreeks prices one contract at the given spot. Results are
// cached by (contract identity, spot rounded to a cent) with a short
// TTL; repeated queries inside the window return identical output.
// Malformed inputs degrade to all-zero Greeks rather than raising past
// the aggregation boundary.
func (e *Engine) OptionGreeks(spec ContractSpec, spot float64) Greeks {
	now := e.nowFn()
	key := cacheKey{
		underlying: spec.Underlying,
		isCall:     spec.IsCall,
		strike:     spec.Strike,
		expiry:     spec.Expiry.Unix(),
		spotCents:  int64(math.Round(spot * 100)),
	}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok && now.Sub(entry.storedAt) < e.cfg.CacheTTL {
		e.mu.Unlock()
		return entry.greeks
	}
	e.mu.Unlock()

	iv := spec.ImpliedVol
	if iv <= 0 {
		iv = estimateIVFromMoneyness(spot, spec.Strike)
	}

	tYears := spec.Expiry.Sub(now).Hours() / 24.0 / daysPerYear
	result := blackScholes(spec.IsCall, spot, spec.Strike, tYears, iv, e.cfg.RiskFreeRate)

	e.mu.Lock()
	e.cache[key] = cacheEntry{greeks: result, storedAt: now}
	e.mu.Unlock()
	return result
}

// PositionGreeks sums signed, quantity-weighted component Greeks over
// the position's open components. Short quantities negate the sign.
func (e *Engine) PositionGreeks(pos *ledger.CompositePosition, spot float64) Greeks {
	var net Greeks
	for _, comp := range pos.Components {
		if comp.Status != ledger.ComponentOpen {
			continue
		}
		spec, ok := specFromComponent(pos.Underlying, comp)
		if !ok {
			continue
		}
		g := e.OptionGreeks(spec, spot)
		qty := float64(comp.Quantity)
		net.Delta += g.Delta * qty
		net.Gamma += g.Gamma * qty
		net.Theta += g.Theta * qty
		net.Vega += g.Vega * qty
	}
	return net
}

// specFromComponent derives a priceable contract from a ledger leg.
// Futures and unknown legs are skipped (linear exposure carries no
// option sensitivities here).
func specFromComponent(underlying string, comp *ledger.PositionComponent) (ContractSpec, bool) {
	var isCall bool
	switch {
	case comp.LegType.IsCall():
		isCall = true
	case comp.LegType.IsPut():
		isCall = false
	default:
		return ContractSpec{}, false
	}
	return ContractSpec{
		Underlying: underlying,
		IsCall:     isCall,
		Strike:     comp.Strike,
		Expiry:     comp.Expiry,
		ImpliedVol: comp.ImpliedVol,
	}, true
}
