package correlation

import (
	"fmt"

	"github.com/rs/zerolog"
)

// riskScore blend weights: occupancy, concentration, crisis correlation
const (
	occupancyWeight     = 0.4
	concentrationWeight = 0.4
	crisisWeight        = 0.2
)

// disasterPositionFloor is the concurrent-position count at which the
// most disaster-prone group trips the dedicated guard.
const disasterPositionFloor = 3

// OpenExposure is the caller-supplied view of one currently-open
// position: the ledger scans these live rather than keeping a counter
// that can drift.
type OpenExposure struct {
	Underlying  string
	MarketValue float64 // absolute notional, same currency as equity
}

// Ledger classifies symbols into correlation groups and evaluates
// group-level risk. All queries are pure and safely retryable.
type Ledger struct {
	groups   map[GroupID]Group
	bySymbol map[string]GroupID
	logger   zerolog.Logger
}

// NewLedger builds the classification table from config
func NewLedger(cfg *Config, logger zerolog.Logger) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := &Ledger{
		groups:   make(map[GroupID]Group, len(cfg.Groups)),
		bySymbol: make(map[string]GroupID),
		logger:   logger.With().Str("component", "correlation").Logger(),
	}
	for _, g := range cfg.Groups {
		l.groups[g.ID] = g
		for _, sym := range g.Symbols {
			l.bySymbol[sym] = g.ID
		}
	}
	return l
}

// Classify maps a symbol to its correlation group. Unclassified symbols
// that look index/ETF-shaped default to the broadest equity group;
// anything else is unrestricted (no group).
func (l *Ledger) Classify(symbol string) (GroupID, bool) {
	if id, ok := l.bySymbol[symbol]; ok {
		return id, true
	}
	if looksIndexShaped(symbol) {
		if _, ok := l.groups[GroupEquityIndex]; ok {
			return GroupEquityIndex, true
		}
	}
	return "", false
}

// CanAdd reports whether a new position in symbol fits under the
// group's per-tier cap. Counting is a live scan of the supplied open
// positions; CanAdd never mutates state.
func (l *Ledger) CanAdd(symbol string, tier int, open []OpenExposure) (bool, string, int, int) {
	groupID, classified := l.Classify(symbol)
	if !classified {
		return true, "symbol unrestricted", 0, 0
	}
	group := l.groups[groupID]

	max, ok := group.MaxPositions[tier]
	if !ok {
		// Unknown tier falls back to the most conservative cap
		max = group.MaxPositions[1]
	}

	current := l.countGroup(groupID, open)
	if current >= max {
		reason := fmt.Sprintf("group %s at cap: %d/%d positions", groupID, current, max)
		l.logger.Warn().
			Str("symbol", symbol).
			Str("group", string(groupID)).
			Int("current", current).
			Int("max", max).
			Msg("position blocked by correlation cap")
		return false, reason, current, max
	}
	return true, fmt.Sprintf("group %s under cap: %d/%d", groupID, current, max), current, max
}

// RiskScore blends per-group occupancy, notional concentration, and
// crisis correlation into a portfolio score in [0,100], aggregating
// groups by their share of portfolio equity. Zero equity scores zero.
func (l *Ledger) RiskScore(tier int, open []OpenExposure, equity float64) float64 {
	if equity <= 0 {
		return 0
	}

	type groupStat struct {
		count int
		value float64
	}
	stats := make(map[GroupID]*groupStat)
	for _, exp := range open {
		id, ok := l.Classify(exp.Underlying)
		if !ok {
			continue
		}
		st := stats[id]
		if st == nil {
			st = &groupStat{}
			stats[id] = st
		}
		st.count++
		st.value += exp.MarketValue
	}

	score := 0.0
	for id, st := range stats {
		group := l.groups[id]

		max, ok := group.MaxPositions[tier]
		if !ok || max <= 0 {
			max = 1
		}
		occupancy := float64(st.count) / float64(max) * 100
		if occupancy > 100 {
			occupancy = 100
		}

		// 50% of equity concentrated in one group maps to 100
		concentration := st.value / equity / 0.50 * 100
		if concentration > 100 {
			concentration = 100
		}

		crisis := group.CrisisWeight * 100

		groupScore := occupancyWeight*occupancy + concentrationWeight*concentration + crisisWeight*crisis
		equityShare := st.value / equity
		score += groupScore * equityShare
	}

	if score > 100 {
		score = 100
	}
	return score
}

// DisasterExposure independently flags when the single most
// disaster-prone group (highest crisis weight) holds three or more
// concurrent positions.
func (l *Ledger) DisasterExposure(open []OpenExposure) (bool, GroupID, int) {
	var worst GroupID
	worstWeight := -1.0
	for id, g := range l.groups {
		if g.CrisisWeight > worstWeight {
			worst = id
			worstWeight = g.CrisisWeight
		}
	}
	if worst == "" {
		return false, "", 0
	}

	count := l.countGroup(worst, open)
	if count >= disasterPositionFloor {
		l.logger.Error().
			Str("group", string(worst)).
			Int("count", count).
			Msg("disaster-prone group holds too many concurrent positions")
		return true, worst, count
	}
	return false, worst, count
}

// GroupCount returns the live position count for one group
func (l *Ledger) GroupCount(id GroupID, open []OpenExposure) int {
	return l.countGroup(id, open)
}

func (l *Ledger) countGroup(id GroupID, open []OpenExposure) int {
	count := 0
	for _, exp := range open {
		if gid, ok := l.Classify(exp.Underlying); ok && gid == id {
			count++
		}
	}
	return count
}
