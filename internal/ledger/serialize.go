package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// snapshotVersion is bumped whenever the persisted layout changes
const snapshotVersion = 1

// snapshot is the versioned wire form of the whole ledger. One blob per
// snapshot; the persistence layer keys and retains them.
type snapshot struct {
	Version   int                `json:"version"`
	SavedAt   time.Time          `json:"saved_at"`
	Positions []positionSnapshot `json:"positions"`
}

type positionSnapshot struct {
	ID          string              `json:"id"`
	StrategyTag string              `json:"strategy_tag"`
	Underlying  string              `json:"underlying"`
	EntryTime   time.Time           `json:"entry_time"`
	Status      string              `json:"status"`
	Components  []componentSnapshot `json:"components"`
}

type componentSnapshot struct {
	ID          string    `json:"id"`
	LegType     string    `json:"leg_type"`
	Strike      float64   `json:"strike"`
	Expiry      time.Time `json:"expiry"`
	Quantity    int       `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	CurrentMark float64   `json:"current_mark"`
	PnL         float64   `json:"pnl"`
	ImpliedVol  float64   `json:"implied_vol"`
	Status      string    `json:"status"`
}

// Serialize captures every position and component with full fidelity for
// crash recovery. Output is deterministic: positions and components are
// ordered by id.
func (l *Ledger) Serialize() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: l.nowFn().UTC(),
	}
	for _, pos := range l.positions {
		ps := positionSnapshot{
			ID:          pos.ID,
			StrategyTag: pos.StrategyTag,
			Underlying:  pos.Underlying,
			EntryTime:   pos.EntryTime,
			Status:      pos.Status.String(),
		}
		for _, comp := range pos.Components {
			ps.Components = append(ps.Components, componentSnapshot{
				ID:          comp.ID,
				LegType:     comp.LegType.String(),
				Strike:      comp.Strike,
				Expiry:      comp.Expiry,
				Quantity:    comp.Quantity,
				EntryPrice:  comp.EntryPrice,
				CurrentMark: comp.CurrentMark,
				PnL:         comp.PnL,
				ImpliedVol:  comp.ImpliedVol,
				Status:      comp.Status.String(),
			})
		}
		sort.Slice(ps.Components, func(i, j int) bool { return ps.Components[i].ID < ps.Components[j].ID })
		snap.Positions = append(snap.Positions, ps)
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger snapshot: %w", err)
	}
	return data, nil
}

// Deserialize replaces the ledger's state with the snapshot contents.
// The ledger is untouched when the blob cannot be decoded.
func (l *Ledger) Deserialize(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode ledger snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	positions := make(map[string]*CompositePosition, len(snap.Positions))
	for _, ps := range snap.Positions {
		pos := &CompositePosition{
			ID:          ps.ID,
			StrategyTag: ps.StrategyTag,
			Underlying:  ps.Underlying,
			EntryTime:   ps.EntryTime,
			Status:      ParsePositionStatus(ps.Status),
			Components:  make(map[string]*PositionComponent, len(ps.Components)),
		}
		for _, cs := range ps.Components {
			status := ComponentOpen
			if cs.Status == "CLOSED" {
				status = ComponentClosed
			}
			pos.Components[cs.ID] = &PositionComponent{
				ID:          cs.ID,
				LegType:     ParseLegType(cs.LegType),
				Strike:      cs.Strike,
				Expiry:      cs.Expiry,
				Quantity:    cs.Quantity,
				EntryPrice:  cs.EntryPrice,
				CurrentMark: cs.CurrentMark,
				PnL:         cs.PnL,
				ImpliedVol:  cs.ImpliedVol,
				Status:      status,
			}
		}
		positions[pos.ID] = pos
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = positions

	l.logger.Info().
		Int("positions", len(positions)).
		Time("saved_at", snap.SavedAt).
		Msg("ledger restored from snapshot")
	return nil
}
