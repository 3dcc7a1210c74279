package defense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/riskcore/internal/regime"
)

func TestLoadRulesConfigOverrides(t *testing.T) {
	data := []byte(`
default:
  profit_target_pct: 0.40
  stop_loss_pct: 1.8
  dte_threshold: 25
  dte_warn_window: 5
  dte_emergency: 7
  delta_breach: 0.55
  emergency_regime: 5
by_tag:
  short_strangle:
    profit_target_pct: 0.55
    stop_loss_pct: 2.2
    dte_threshold: 21
    dte_warn_window: 7
    dte_emergency: 5
    delta_breach: 0.60
    emergency_regime: 5
`)
	cfg, err := LoadRulesConfig(data)
	require.NoError(t, err)

	assert.Equal(t, 0.40, cfg.Default.ProfitTargetPct)
	assert.Equal(t, regime.Extreme, cfg.Default.EmergencyRegime)

	rs := cfg.RulesFor("short_strangle")
	assert.Equal(t, 0.55, rs.ProfitTargetPct)
	assert.Equal(t, 21, rs.DTEThreshold)
}

func TestLoadRulesConfigBadYAML(t *testing.T) {
	_, err := LoadRulesConfig([]byte("default: ["))
	assert.Error(t, err)
}

func TestRulesForUnknownTagFallsBack(t *testing.T) {
	cfg := DefaultRulesConfig()
	rs := cfg.RulesFor("calendar_spread")
	assert.Equal(t, cfg.Default, rs)
}
