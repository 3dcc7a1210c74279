package ledger

import (
	"fmt"
)

// contractKey identifies one contract across ledger and broker views
type contractKey struct {
	underlying string
	legType    LegType
	strike     float64
	expiry     int64 // unix day granularity
}

func (k contractKey) String() string {
	return fmt.Sprintf("%s %s %.2f", k.underlying, k.legType, k.strike)
}

// ReconcileWithBroker compares open ledger quantities against
// broker-reported holdings and flags every disagreement. The ledger is
// never auto-corrected; the host decides whether to trust the broker or
// halt. Run on restart before trusting a restored snapshot.
func (l *Ledger) ReconcileWithBroker(holdings []BrokerHolding) []Mismatch {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ledgerQty := make(map[contractKey]int)
	for _, pos := range l.positions {
		for _, comp := range pos.Components {
			if comp.Status != ComponentOpen {
				continue
			}
			key := contractKey{
				underlying: pos.Underlying,
				legType:    comp.LegType,
				strike:     comp.Strike,
				expiry:     comp.Expiry.Unix() / 86400,
			}
			ledgerQty[key] += comp.Quantity
		}
	}

	brokerQty := make(map[contractKey]int)
	for _, h := range holdings {
		key := contractKey{
			underlying: h.Underlying,
			legType:    h.LegType,
			strike:     h.Strike,
			expiry:     h.Expiry.Unix() / 86400,
		}
		brokerQty[key] += h.Quantity
	}

	var mismatches []Mismatch
	for key, lq := range ledgerQty {
		bq := brokerQty[key]
		if lq != bq {
			mismatches = append(mismatches, Mismatch{
				Underlying: key.underlying,
				LegType:    key.legType,
				Strike:     key.strike,
				LedgerQty:  lq,
				BrokerQty:  bq,
				Note:       "quantity disagreement",
			})
		}
	}
	for key, bq := range brokerQty {
		if _, seen := ledgerQty[key]; !seen && bq != 0 {
			mismatches = append(mismatches, Mismatch{
				Underlying: key.underlying,
				LegType:    key.legType,
				Strike:     key.strike,
				LedgerQty:  0,
				BrokerQty:  bq,
				Note:       "broker holding unknown to ledger",
			})
		}
	}

	for _, m := range mismatches {
		l.logger.Warn().
			Str("underlying", m.Underlying).
			Str("leg", m.LegType.String()).
			Float64("strike", m.Strike).
			Int("ledger_qty", m.LedgerQty).
			Int("broker_qty", m.BrokerQty).
			Msg("reconciliation mismatch")
	}
	return mismatches
}
