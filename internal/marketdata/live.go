package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// FetchFunc pulls one symbol's value from a live provider
type FetchFunc func(ctx context.Context, symbol string) (float64, error)

// LiveSourceConfig bounds the live provider
type LiveSourceConfig struct {
	Name           string  `yaml:"name"`
	Confidence     float64 `yaml:"confidence"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	Burst          int     `yaml:"burst"`
}

func DefaultLiveSourceConfig(name string) LiveSourceConfig {
	return LiveSourceConfig{
		Name:           name,
		Confidence:     0.90,
		RequestsPerSec: 5,
		Burst:          10,
	}
}

// LiveSource wraps a provider fetch behind a circuit breaker and a
// token-bucket rate limit. A tripped breaker or exhausted bucket quotes
// nothing; the resolver falls through to the next source.
type LiveSource struct {
	cfg     LiveSourceConfig
	fetch   FetchFunc
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  zerolog.Logger
	nowFn   func() time.Time
}

func NewLiveSource(cfg LiveSourceConfig, fetch FetchFunc, logger zerolog.Logger) *LiveSource {
	st := gobreaker.Settings{Name: cfg.Name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	logger = logger.With().Str("component", "marketdata").Str("source", cfg.Name).Logger()
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
	}

	return &LiveSource{
		cfg:     cfg,
		fetch:   fetch,
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		logger:  logger,
		nowFn:   time.Now,
	}
}

func (s *LiveSource) Name() string        { return s.cfg.Name }
func (s *LiveSource) Confidence() float64 { return s.cfg.Confidence }

func (s *LiveSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	if !s.limiter.Allow() {
		return Quote{}, fmt.Errorf("%s rate limited: %w", s.cfg.Name, ErrDataUnavailable)
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, symbol)
	})
	if err != nil {
		return Quote{}, fmt.Errorf("%s fetch %s: %w", s.cfg.Name, symbol, err)
	}
	value, ok := out.(float64)
	if !ok || value <= 0 {
		return Quote{}, fmt.Errorf("%s returned unusable value for %s: %w", s.cfg.Name, symbol, ErrDataUnavailable)
	}
	return Quote{Symbol: symbol, Value: value, Confidence: s.cfg.Confidence, Source: s.cfg.Name, AsOf: s.nowFn()}, nil
}
