// Package marketdata resolves spot prices and volatility readings from
// ranked sources. Every quote carries the confidence of the source that
// produced it; consumers degrade on low confidence instead of pricing
// off silently substituted data.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDataUnavailable is returned when no source can quote a symbol
var ErrDataUnavailable = errors.New("market data unavailable")

// Quote is one resolved observation
type Quote struct {
	Symbol     string    `json:"symbol"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"` // 0-1
	Source     string    `json:"source"`
	AsOf       time.Time `json:"as_of"`
}

// Source quotes symbols at a fixed confidence level
type Source interface {
	Name() string
	Confidence() float64
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// SnapshotSource serves values handed in per tick, typically the broker
// feed snapshot. It is safe for concurrent use; Update replaces the
// whole snapshot.
type SnapshotSource struct {
	name       string
	confidence float64

	mu     sync.RWMutex
	values map[string]float64
	asOf   time.Time
}

func NewSnapshotSource(name string, confidence float64) *SnapshotSource {
	return &SnapshotSource{
		name:       name,
		confidence: confidence,
		values:     make(map[string]float64),
	}
}

func (s *SnapshotSource) Name() string        { return s.name }
func (s *SnapshotSource) Confidence() float64 { return s.confidence }

// Update replaces the snapshot with this tick's values
func (s *SnapshotSource) Update(values map[string]float64, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]float64, len(values))
	for k, v := range values {
		s.values[k] = v
	}
	s.asOf = asOf
}

func (s *SnapshotSource) Quote(_ context.Context, symbol string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[symbol]
	if !ok || v <= 0 {
		return Quote{}, fmt.Errorf("%s has no %s: %w", s.name, symbol, ErrDataUnavailable)
	}
	return Quote{Symbol: symbol, Value: v, Confidence: s.confidence, Source: s.name, AsOf: s.asOf}, nil
}
