package ledger

import (
	"time"
)

// LegType identifies the role a component plays inside a composite position
type LegType int

const (
	LegUnknown LegType = iota
	LegNakedShortPut
	LegLongPut
	LegShortCallWing
	LegLongCallWing
	LegShortPutWing
	LegLongPutWing
	LegLongLEAPCall
	LegWeeklyShortCall
	LegShortCall
	LegLongCall
	LegFuture
)

func (lt LegType) String() string {
	switch lt {
	case LegNakedShortPut:
		return "naked_short_put"
	case LegLongPut:
		return "long_put"
	case LegShortCallWing:
		return "short_call_wing"
	case LegLongCallWing:
		return "long_call_wing"
	case LegShortPutWing:
		return "short_put_wing"
	case LegLongPutWing:
		return "long_put_wing"
	case LegLongLEAPCall:
		return "long_leap_call"
	case LegWeeklyShortCall:
		return "weekly_short_call"
	case LegShortCall:
		return "short_call"
	case LegLongCall:
		return "long_call"
	case LegFuture:
		return "future"
	default:
		return "unknown"
	}
}

// ParseLegType converts the serialized form back to a LegType
func ParseLegType(s string) LegType {
	switch s {
	case "naked_short_put":
		return LegNakedShortPut
	case "long_put":
		return LegLongPut
	case "short_call_wing":
		return LegShortCallWing
	case "long_call_wing":
		return LegLongCallWing
	case "short_put_wing":
		return LegShortPutWing
	case "long_put_wing":
		return LegLongPutWing
	case "long_leap_call":
		return LegLongLEAPCall
	case "weekly_short_call":
		return LegWeeklyShortCall
	case "short_call":
		return LegShortCall
	case "long_call":
		return LegLongCall
	case "future":
		return LegFuture
	default:
		return LegUnknown
	}
}

// IsPut reports whether the leg is a put option
func (lt LegType) IsPut() bool {
	switch lt {
	case LegNakedShortPut, LegLongPut, LegShortPutWing, LegLongPutWing:
		return true
	}
	return false
}

// IsCall reports whether the leg is a call option
func (lt LegType) IsCall() bool {
	switch lt {
	case LegShortCallWing, LegLongCallWing, LegLongLEAPCall, LegWeeklyShortCall, LegShortCall, LegLongCall:
		return true
	}
	return false
}

// ComponentStatus tracks the lifecycle of a single leg
type ComponentStatus int

const (
	ComponentOpen ComponentStatus = iota
	ComponentClosed
)

func (cs ComponentStatus) String() string {
	if cs == ComponentClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// PositionStatus tracks the aggregate lifecycle of a composite position
type PositionStatus int

const (
	StatusOpen PositionStatus = iota
	StatusPartiallyClosed
	StatusClosed
)

func (ps PositionStatus) String() string {
	switch ps {
	case StatusPartiallyClosed:
		return "PARTIALLY_CLOSED"
	case StatusClosed:
		return "CLOSED"
	default:
		return "OPEN"
	}
}

// ParsePositionStatus converts the serialized form back to a PositionStatus
func ParsePositionStatus(s string) PositionStatus {
	switch s {
	case "PARTIALLY_CLOSED":
		return StatusPartiallyClosed
	case "CLOSED":
		return StatusClosed
	default:
		return StatusOpen
	}
}

// ComponentSpec describes the contract a new component is written on
type ComponentSpec struct {
	LegType    LegType
	Strike     float64
	Expiry     time.Time
	ImpliedVol float64 // 0 means unknown; consumers estimate from moneyness
}

// PositionComponent is one independently closeable leg of a composite
// position. Components are exclusively owned by a single CompositePosition.
type PositionComponent struct {
	ID          string          `json:"id"`
	LegType     LegType         `json:"-"`
	Strike      float64         `json:"strike"`
	Expiry      time.Time       `json:"expiry"`
	Quantity    int             `json:"quantity"` // signed: negative is short
	EntryPrice  float64         `json:"entry_price"`
	CurrentMark float64         `json:"current_mark"`
	PnL         float64         `json:"pnl"`
	ImpliedVol  float64         `json:"implied_vol"`
	Status      ComponentStatus `json:"-"`
}

// CompositePosition is a named multi-leg strategy instance.
//
// Invariants: Status is CLOSED iff all components are CLOSED,
// PARTIALLY_CLOSED iff some but not all; total P&L is the sum of
// component P&L.
type CompositePosition struct {
	ID          string                        `json:"id"`
	StrategyTag string                        `json:"strategy_tag"`
	Underlying  string                        `json:"underlying"`
	EntryTime   time.Time                     `json:"entry_time"`
	Status      PositionStatus                `json:"-"`
	Components  map[string]*PositionComponent `json:"components"`
}

// TotalPnL sums component P&L across all legs, open and closed
func (p *CompositePosition) TotalPnL() float64 {
	total := 0.0
	for _, c := range p.Components {
		total += c.PnL
	}
	return total
}

// OpenComponents returns the count of components still open
func (p *CompositePosition) OpenComponents() int {
	n := 0
	for _, c := range p.Components {
		if c.Status == ComponentOpen {
			n++
		}
	}
	return n
}

// clone returns a deep copy so callers never alias ledger-owned state
func (p *CompositePosition) clone() *CompositePosition {
	cp := *p
	cp.Components = make(map[string]*PositionComponent, len(p.Components))
	for id, c := range p.Components {
		cc := *c
		cp.Components[id] = &cc
	}
	return &cp
}

// BrokerHolding is one broker-reported contract holding used during
// restart reconciliation.
type BrokerHolding struct {
	Underlying string
	LegType    LegType
	Strike     float64
	Expiry     time.Time
	Quantity   int
}

// Mismatch flags a quantity disagreement between the ledger and the
// broker. Mismatches are reported, never silently auto-corrected.
type Mismatch struct {
	Underlying string
	LegType    LegType
	Strike     float64
	LedgerQty  int
	BrokerQty  int
	Note       string
}

// Mirror receives every ledger mutation so a secondary flat view can be
// kept consistent. The sync bridge is the only production implementation.
type Mirror interface {
	MirrorOpen(pos *CompositePosition)
	MirrorComponentClose(positionID, componentID string, status PositionStatus, totalPnL float64)
	MirrorClose(positionID string, totalPnL float64)
}
