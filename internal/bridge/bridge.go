// Package bridge keeps a denormalized flat view of the composite
// position ledger for legacy consumers. The bridge is the only writer of
// the flat view: the ledger pushes every mutation through the
// ledger.Mirror interface and divergence is detected, never silently
// repaired.
package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/riskcore/internal/ledger"
)

// FlatPositionView is the legacy projection of one composite position
type FlatPositionView struct {
	ID             string                `json:"id"`
	StrategyTag    string                `json:"strategy_tag"`
	Underlying     string                `json:"underlying"`
	EntryTime      time.Time             `json:"entry_time"`
	Status         ledger.PositionStatus `json:"status"`
	ComponentCount int                   `json:"component_count"`
	OpenComponents int                   `json:"open_components"`
	TotalPnL       float64               `json:"total_pnl"`
	Degraded       bool                  `json:"degraded,omitempty"` // true when the ledger entry is missing
}

// QueryFilter narrows Query results. Zero values match everything.
type QueryFilter struct {
	Status      *ledger.PositionStatus
	StrategyTag string
	Underlying  string
}

// IntegrityReport compares live counts between the ledger and the flat
// view. It is a pure diagnostic: nothing is healed here.
type IntegrityReport struct {
	LedgerOpen    int  `json:"ledger_open"`
	LedgerClosed  int  `json:"ledger_closed"`
	MirroredOpen  int  `json:"mirrored_open"`
	MirrorTotal   int  `json:"mirror_total"`
	LedgerTotal   int  `json:"ledger_total"`
	InSync        bool `json:"in_sync"`
	StatusSkew    int  `json:"status_skew"`    // entries whose status disagrees
	MissingMirror int  `json:"missing_mirror"` // ledger entries with no flat view
}

// Bridge mirrors ledger mutations into flat views
type Bridge struct {
	mu     sync.RWMutex
	views  map[string]*FlatPositionView
	source *ledger.Ledger
	logger zerolog.Logger
}

// New creates a bridge reading enrichment data from the given ledger
func New(source *ledger.Ledger, logger zerolog.Logger) *Bridge {
	return &Bridge{
		views:  make(map[string]*FlatPositionView),
		source: source,
		logger: logger.With().Str("component", "sync_bridge").Logger(),
	}
}

// MirrorOpen records the flat view for a newly created position
func (b *Bridge) MirrorOpen(pos *ledger.CompositePosition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.views[pos.ID] = &FlatPositionView{
		ID:             pos.ID,
		StrategyTag:    pos.StrategyTag,
		Underlying:     pos.Underlying,
		EntryTime:      pos.EntryTime,
		Status:         pos.Status,
		ComponentCount: len(pos.Components),
		OpenComponents: pos.OpenComponents(),
		TotalPnL:       pos.TotalPnL(),
	}
}

// MirrorComponentClose updates the flat view after a partial close
func (b *Bridge) MirrorComponentClose(positionID, componentID string, status ledger.PositionStatus, totalPnL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	view, ok := b.views[positionID]
	if !ok {
		b.logger.Error().
			Str("position_id", positionID).
			Str("component_id", componentID).
			Msg("component close pushed for unmirrored position")
		return
	}
	view.Status = status
	view.TotalPnL = totalPnL
	if view.OpenComponents > 0 {
		view.OpenComponents--
	}
}

// MirrorClose updates the flat view after a full close
func (b *Bridge) MirrorClose(positionID string, totalPnL float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	view, ok := b.views[positionID]
	if !ok {
		b.logger.Error().
			Str("position_id", positionID).
			Msg("close pushed for unmirrored position")
		return
	}
	view.Status = ledger.StatusClosed
	view.OpenComponents = 0
	view.TotalPnL = totalPnL
}

// Query returns flat views matching the filter, enriched with live
// aggregate P&L and component counts where the ledger entry exists. A
// view whose ledger entry is gone is returned degraded with an explicit
// divergence log, never dropped silently.
func (b *Bridge) Query(filter *QueryFilter) []FlatPositionView {
	// Snapshot under the bridge lock, enrich outside it: the ledger
	// notifies the bridge while holding its own lock, so holding both
	// here would invert the lock order.
	b.mu.RLock()
	snapshot := make([]FlatPositionView, 0, len(b.views))
	for _, view := range b.views {
		snapshot = append(snapshot, *view)
	}
	b.mu.RUnlock()

	out := make([]FlatPositionView, 0, len(snapshot))
	for _, v := range snapshot {
		pos, err := b.source.Get(v.ID)
		if err != nil {
			v.Degraded = true
			b.logger.Warn().
				Str("position_id", v.ID).
				Msg("flat view has no ledger entry, returning degraded record")
		} else {
			v.TotalPnL = pos.TotalPnL()
			v.ComponentCount = len(pos.Components)
			v.OpenComponents = pos.OpenComponents()
		}

		if filter != nil {
			if filter.Status != nil && v.Status != *filter.Status {
				continue
			}
			if filter.StrategyTag != "" && v.StrategyTag != filter.StrategyTag {
				continue
			}
			if filter.Underlying != "" && v.Underlying != filter.Underlying {
				continue
			}
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Integrity compares live per-status counts between ledger and mirror.
// A close performed on the ledger without notifying the bridge shows up
// as InSync=false.
func (b *Bridge) Integrity() IntegrityReport {
	b.mu.RLock()
	views := make(map[string]FlatPositionView, len(b.views))
	for id, view := range b.views {
		views[id] = *view
	}
	b.mu.RUnlock()

	ledgerCounts := b.source.CountByStatus()
	report := IntegrityReport{
		LedgerOpen:   ledgerCounts[ledger.StatusOpen] + ledgerCounts[ledger.StatusPartiallyClosed],
		LedgerClosed: ledgerCounts[ledger.StatusClosed],
	}
	for _, n := range ledgerCounts {
		report.LedgerTotal += n
	}
	report.MirrorTotal = len(views)

	for _, view := range views {
		if view.Status != ledger.StatusClosed {
			report.MirroredOpen++
		}
	}

	// Per-entry status comparison catches skews the counts would mask
	for _, pos := range b.source.AllPositions() {
		view, ok := views[pos.ID]
		if !ok {
			report.MissingMirror++
			continue
		}
		if view.Status != pos.Status {
			report.StatusSkew++
		}
	}

	report.InSync = report.LedgerTotal == report.MirrorTotal &&
		report.LedgerOpen == report.MirroredOpen &&
		report.StatusSkew == 0 &&
		report.MissingMirror == 0

	if !report.InSync {
		b.logger.Error().
			Int("ledger_total", report.LedgerTotal).
			Int("mirror_total", report.MirrorTotal).
			Int("status_skew", report.StatusSkew).
			Int("missing_mirror", report.MissingMirror).
			Msg("ledger and flat view have diverged")
	}
	return report
}
