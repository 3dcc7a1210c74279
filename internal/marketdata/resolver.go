package marketdata

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Resolver queries sources in descending confidence order and returns
// the first usable quote.
type Resolver struct {
	sources []Source
	logger  zerolog.Logger
}

func NewResolver(logger zerolog.Logger, sources ...Source) *Resolver {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence() > ordered[j].Confidence()
	})
	return &Resolver{
		sources: ordered,
		logger:  logger.With().Str("component", "marketdata").Logger(),
	}
}

// Resolve quotes one symbol. Source failures fall through to the next
// source; only total failure surfaces ErrDataUnavailable.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (Quote, error) {
	for _, src := range r.sources {
		q, err := src.Quote(ctx, symbol)
		if err == nil {
			return q, nil
		}
		r.logger.Debug().Str("source", src.Name()).Str("symbol", symbol).Err(err).Msg("source miss")
	}
	return Quote{}, fmt.Errorf("no source quoted %s: %w", symbol, ErrDataUnavailable)
}

// ResolveBatch quotes a set of symbols for one tick. It returns the
// resolved values, the lowest confidence among them, and the symbols no
// source could quote. Partial results are usable: missing symbols are
// reported, never substituted.
func (r *Resolver) ResolveBatch(ctx context.Context, symbols []string) (map[string]float64, float64, []string) {
	values := make(map[string]float64, len(symbols))
	confidence := 1.0
	var missing []string

	for _, sym := range symbols {
		q, err := r.Resolve(ctx, sym)
		if err != nil {
			missing = append(missing, sym)
			continue
		}
		values[sym] = q.Value
		if q.Confidence < confidence {
			confidence = q.Confidence
		}
	}
	if len(values) == 0 {
		confidence = 0
	}
	if len(missing) > 0 {
		r.logger.Warn().Strs("symbols", missing).Msg("unresolved symbols this tick")
	}
	return values, confidence, missing
}
