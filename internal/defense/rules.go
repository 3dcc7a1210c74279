package defense

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/quantdesk/riskcore/internal/regime"
)

// RuleSet holds the defensive thresholds for one strategy tag
type RuleSet struct {
	ProfitTargetPct   float64     `yaml:"profit_target_pct"`   // 0.50 takes profit at 50%
	StopLossPct       float64     `yaml:"stop_loss_pct"`       // 2.0 stops at -200%
	DTEThreshold      int         `yaml:"dte_threshold"`       // management point, e.g. 21
	DTEWarnWindow     int         `yaml:"dte_warn_window"`     // days above threshold that warn
	DTEEmergency      int         `yaml:"dte_emergency"`       // at or below is critical
	DeltaBreach       float64     `yaml:"delta_breach"`        // |position delta| that breaches
	EmergencyRegime   regime.Band `yaml:"emergency_regime"`    // at or above is critical
	HedgeMonetizeDays int         `yaml:"hedge_monetize_days"` // held beyond this, hedges monetize
}

// RulesConfig is the externally supplied per-tag rule table
type RulesConfig struct {
	Default RuleSet            `yaml:"default"`
	ByTag   map[string]RuleSet `yaml:"by_tag"`
}

// DefaultRulesConfig returns the production rule table
func DefaultRulesConfig() *RulesConfig {
	return &RulesConfig{
		Default: RuleSet{
			ProfitTargetPct:   0.50,
			StopLossPct:       2.0,
			DTEThreshold:      21,
			DTEWarnWindow:     7,
			DTEEmergency:      5,
			DeltaBreach:       0.60,
			EmergencyRegime:   regime.Extreme,
			HedgeMonetizeDays: 0,
		},
		ByTag: map[string]RuleSet{
			"short_strangle": {
				ProfitTargetPct: 0.50,
				StopLossPct:     2.0,
				DTEThreshold:    21,
				DTEWarnWindow:   7,
				DTEEmergency:    5,
				DeltaBreach:     0.60,
				EmergencyRegime: regime.Extreme,
			},
			"iron_condor": {
				ProfitTargetPct: 0.50,
				StopLossPct:     1.5,
				DTEThreshold:    21,
				DTEWarnWindow:   7,
				DTEEmergency:    5,
				DeltaBreach:     0.50,
				EmergencyRegime: regime.Extreme,
			},
			"naked_put": {
				ProfitTargetPct: 0.60,
				StopLossPct:     2.5,
				DTEThreshold:    14,
				DTEWarnWindow:   7,
				DTEEmergency:    3,
				DeltaBreach:     0.70,
				EmergencyRegime: regime.High,
			},
			"long_leap": {
				ProfitTargetPct:   1.00,
				StopLossPct:       0.50,
				DTEThreshold:      90,
				DTEWarnWindow:     30,
				DTEEmergency:      30,
				DeltaBreach:       3.0,
				EmergencyRegime:   regime.Extreme,
				HedgeMonetizeDays: 60,
			},
		},
	}
}

// LoadRulesConfig parses a YAML rule table and fills gaps from defaults
func LoadRulesConfig(data []byte) (*RulesConfig, error) {
	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse defense rules: %w", err)
	}
	defaults := DefaultRulesConfig()
	if cfg.Default.ProfitTargetPct == 0 {
		cfg.Default = defaults.Default
	}
	if cfg.ByTag == nil {
		cfg.ByTag = make(map[string]RuleSet)
	}
	return &cfg, nil
}

// RulesFor returns the rule set for a strategy tag, falling back to the
// default set for unknown tags.
func (rc *RulesConfig) RulesFor(tag string) RuleSet {
	if rs, ok := rc.ByTag[tag]; ok {
		return rs
	}
	return rc.Default
}
