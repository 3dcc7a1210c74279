// Package correlation groups instruments into correlated buckets,
// tracks live exposure per group, and enforces per-account-tier
// concurrent-position caps.
package correlation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// GroupID names one correlation bucket
type GroupID string

const (
	GroupEquityIndex GroupID = "equity_index"
	GroupRates       GroupID = "rates"
	GroupMetals      GroupID = "metals"
	GroupEnergy      GroupID = "energy"
	GroupMegaTech    GroupID = "mega_tech"
	GroupVolatility  GroupID = "volatility"
)

// Group is one correlated bucket of underlyings. CrisisWeight in [0,1]
// is a static judgment of how tightly the group's members move together
// in a crash; caps and weights are business configuration, not engine
// constants.
type Group struct {
	ID           GroupID     `yaml:"id"`
	Symbols      []string    `yaml:"symbols"`
	MaxPositions map[int]int `yaml:"max_positions"` // tier -> cap
	CrisisWeight float64     `yaml:"crisis_weight"`
}

// Config is the externally supplied group table
type Config struct {
	Groups []Group `yaml:"groups"`
}

// LoadConfig parses a YAML group table
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse correlation config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects malformed group tables: empty ids, crisis weights
// outside [0,1], and symbols claimed by more than one group.
func (c *Config) Validate() error {
	seen := make(map[string]GroupID)
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("correlation group with empty id")
		}
		if g.CrisisWeight < 0 || g.CrisisWeight > 1 {
			return fmt.Errorf("group %s: crisis weight %.2f outside [0,1]", g.ID, g.CrisisWeight)
		}
		for _, sym := range g.Symbols {
			if prev, dup := seen[sym]; dup {
				return fmt.Errorf("symbol %s in both %s and %s", sym, prev, g.ID)
			}
			seen[sym] = g.ID
		}
	}
	return nil
}

// DefaultConfig returns the embedded production group table, used when
// no external configuration is supplied.
func DefaultConfig() *Config {
	return &Config{
		Groups: []Group{
			{
				ID:           GroupEquityIndex,
				Symbols:      []string{"SPY", "SPX", "QQQ", "IWM", "DIA", "ES", "NQ", "RTY", "MES", "MNQ"},
				MaxPositions: map[int]int{1: 2, 2: 3, 3: 4, 4: 6},
				CrisisWeight: 0.95,
			},
			{
				ID:           GroupMegaTech,
				Symbols:      []string{"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN", "META", "TSLA"},
				MaxPositions: map[int]int{1: 2, 2: 3, 3: 4, 4: 5},
				CrisisWeight: 0.85,
			},
			{
				ID:           GroupRates,
				Symbols:      []string{"TLT", "IEF", "ZB", "ZN", "TBT"},
				MaxPositions: map[int]int{1: 2, 2: 2, 3: 3, 4: 4},
				CrisisWeight: 0.60,
			},
			{
				ID:           GroupMetals,
				Symbols:      []string{"GLD", "SLV", "GC", "SI", "GDX"},
				MaxPositions: map[int]int{1: 1, 2: 2, 3: 3, 4: 4},
				CrisisWeight: 0.50,
			},
			{
				ID:           GroupEnergy,
				Symbols:      []string{"USO", "CL", "XLE", "UNG", "NG"},
				MaxPositions: map[int]int{1: 1, 2: 2, 3: 3, 4: 4},
				CrisisWeight: 0.55,
			},
			{
				ID:           GroupVolatility,
				Symbols:      []string{"VIX", "UVXY", "VXX", "SVXY"},
				MaxPositions: map[int]int{1: 1, 2: 1, 3: 2, 4: 2},
				CrisisWeight: 1.0,
			},
		},
	}
}

// looksIndexShaped is the fallback heuristic for unclassified symbols:
// short all-uppercase tickers resemble index products and ETFs and get
// bucketed with the broadest equity group rather than left uncapped.
func looksIndexShaped(symbol string) bool {
	if len(symbol) < 2 || len(symbol) > 4 {
		return false
	}
	for _, r := range symbol {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return strings.ToUpper(symbol) == symbol
}
