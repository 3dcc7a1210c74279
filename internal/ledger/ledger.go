package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sentinel errors for the ledger taxonomy. NotFound is a programmer or
// caller error (unknown id); InvalidState is an illegal lifecycle
// transition (mutating a CLOSED position, double-closing a component).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
)

// contractMultiplier converts a per-share option price to contract value
const contractMultiplier = 100.0

// Ledger is the canonical record of every open and partially-open
// composite position. All mutations are serialized behind a single lock
// so partial-close and full-close on one position never interleave.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*CompositePosition
	mirror    Mirror
	logger    zerolog.Logger
	nowFn     func() time.Time
}

// NewLedger creates an empty ledger
func NewLedger(logger zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*CompositePosition),
		logger:    logger.With().Str("component", "ledger").Logger(),
		nowFn:     time.Now,
	}
}

// SetMirror wires the sync bridge that receives every mutation. Passing
// nil detaches the mirror; integrity checks will then report divergence.
func (l *Ledger) SetMirror(m Mirror) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = m
}

// CreatePosition allocates a new OPEN position with no components
func (l *Ledger) CreatePosition(strategyTag, underlying string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := &CompositePosition{
		ID:          uuid.New().String(),
		StrategyTag: strategyTag,
		Underlying:  underlying,
		EntryTime:   l.nowFn(),
		Status:      StatusOpen,
		Components:  make(map[string]*PositionComponent),
	}
	l.positions[pos.ID] = pos

	l.logger.Info().
		Str("position_id", pos.ID).
		Str("strategy", strategyTag).
		Str("underlying", underlying).
		Msg("position created")

	if l.mirror != nil {
		l.mirror.MirrorOpen(pos.clone())
	}
	return pos.ID
}

// AddComponent attaches a new leg to an existing position. Fails with
// ErrInvalidState when the position is already CLOSED.
func (l *Ledger) AddComponent(positionID string, spec ComponentSpec, quantity int, entryPrice float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return "", fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	if pos.Status == StatusClosed {
		return "", fmt.Errorf("position %s is CLOSED: %w", positionID, ErrInvalidState)
	}

	comp := &PositionComponent{
		ID:          uuid.New().String(),
		LegType:     spec.LegType,
		Strike:      spec.Strike,
		Expiry:      spec.Expiry,
		Quantity:    quantity,
		EntryPrice:  entryPrice,
		CurrentMark: entryPrice,
		ImpliedVol:  spec.ImpliedVol,
		Status:      ComponentOpen,
	}
	pos.Components[comp.ID] = comp
	pos.Status = l.recomputeStatus(pos)

	l.logger.Info().
		Str("position_id", positionID).
		Str("component_id", comp.ID).
		Str("leg", spec.LegType.String()).
		Float64("strike", spec.Strike).
		Int("qty", quantity).
		Msg("component added")

	return comp.ID, nil
}

// CloseComponent marks one component CLOSED and recomputes the aggregate
// status. Fails with ErrNotFound on an unknown or already-closed
// component; the ledger is left untouched on failure.
func (l *Ledger) CloseComponent(positionID, componentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	comp, ok := pos.Components[componentID]
	if !ok {
		return fmt.Errorf("component %s in position %s: %w", componentID, positionID, ErrNotFound)
	}
	if comp.Status == ComponentClosed {
		return fmt.Errorf("component %s already closed: %w", componentID, ErrNotFound)
	}

	comp.Status = ComponentClosed
	pos.Status = l.recomputeStatus(pos)

	l.logger.Info().
		Str("position_id", positionID).
		Str("component_id", componentID).
		Str("status", pos.Status.String()).
		Msg("component closed")

	if l.mirror != nil {
		l.mirror.MirrorComponentClose(positionID, componentID, pos.Status, pos.TotalPnL())
	}
	return nil
}

// ClosePosition closes all remaining components and transitions the
// position to CLOSED. Idempotent: closing an already-CLOSED position is
// a no-op success.
func (l *Ledger) ClosePosition(positionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	if pos.Status == StatusClosed {
		return nil
	}

	for _, comp := range pos.Components {
		comp.Status = ComponentClosed
	}
	pos.Status = StatusClosed

	l.logger.Info().
		Str("position_id", positionID).
		Float64("total_pnl", pos.TotalPnL()).
		Msg("position closed")

	if l.mirror != nil {
		l.mirror.MirrorClose(positionID, pos.TotalPnL())
	}
	return nil
}

// MarkToMarket applies caller-supplied marks (per component id, per-share
// price) to open components, recomputing component P&L. Components with
// no mark supplied keep their last mark.
func (l *Ledger) MarkToMarket(positionID string, marks map[string]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	for id, comp := range pos.Components {
		if comp.Status != ComponentOpen {
			continue
		}
		mark, ok := marks[id]
		if !ok {
			continue
		}
		comp.CurrentMark = mark
		comp.PnL = (mark - comp.EntryPrice) * float64(comp.Quantity) * contractMultiplier
	}
	return nil
}

// CurrentValue returns the cost to close the position's open components
// at the supplied marks (absolute quantities, per-share prices).
func (l *Ledger) CurrentValue(positionID string, marks map[string]float64) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return 0, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	total := 0.0
	for id, comp := range pos.Components {
		if comp.Status != ComponentOpen {
			continue
		}
		mark, ok := marks[id]
		if !ok {
			mark = comp.CurrentMark
		}
		total += mark * math.Abs(float64(comp.Quantity)) * contractMultiplier
	}
	return total, nil
}

// CurrentDTE returns the smallest days-to-expiry across open components,
// floored at zero. Positions with no open components report zero.
func (l *Ledger) CurrentDTE(positionID string, now time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return 0, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	dte := -1
	for _, comp := range pos.Components {
		if comp.Status != ComponentOpen || comp.Expiry.IsZero() {
			continue
		}
		days := int(math.Ceil(comp.Expiry.Sub(now).Hours() / 24.0))
		if days < 0 {
			days = 0
		}
		if dte < 0 || days < dte {
			dte = days
		}
	}
	if dte < 0 {
		dte = 0
	}
	return dte, nil
}

// Get returns a deep copy of one position
func (l *Ledger) Get(positionID string) (*CompositePosition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	return pos.clone(), nil
}

// OpenPositions returns deep copies of every position that is not fully
// closed, ordered by entry time for deterministic iteration.
func (l *Ledger) OpenPositions() []*CompositePosition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*CompositePosition, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Status != StatusClosed {
			out = append(out, pos.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// AllPositions returns deep copies of every position regardless of status
func (l *Ledger) AllPositions() []*CompositePosition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*CompositePosition, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountByStatus tallies positions per aggregate status
func (l *Ledger) CountByStatus() map[PositionStatus]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[PositionStatus]int)
	for _, pos := range l.positions {
		counts[pos.Status]++
	}
	return counts
}

// recomputeStatus derives aggregate status from component statuses
func (l *Ledger) recomputeStatus(pos *CompositePosition) PositionStatus {
	if len(pos.Components) == 0 {
		return StatusOpen
	}
	open, closed := 0, 0
	for _, comp := range pos.Components {
		if comp.Status == ComponentOpen {
			open++
		} else {
			closed++
		}
	}
	switch {
	case open == 0:
		return StatusClosed
	case closed == 0:
		return StatusOpen
	default:
		return StatusPartiallyClosed
	}
}
