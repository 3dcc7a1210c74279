package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantdesk/riskcore/internal/bridge"
	"github.com/quantdesk/riskcore/internal/config"
	"github.com/quantdesk/riskcore/internal/correlation"
	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/ledger"
	"github.com/quantdesk/riskcore/internal/marketdata"
	"github.com/quantdesk/riskcore/internal/monitor"
	"github.com/quantdesk/riskcore/internal/persistence"
	"github.com/quantdesk/riskcore/internal/regime"
)

// volSymbol is the reading the regime classifier consumes
const volSymbol = "VIX"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the evaluation loop and the monitoring HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().Duration("interval", 15*time.Minute, "Evaluation tick cadence")
	cmd.Flags().String("quote-url", "", "Live quote endpoint, %s substitutes the symbol")
	cmd.Flags().Int("tier", 3, "Account tier for sizing and correlation caps")
	return cmd
}

// engine bundles everything one tick touches
type engine struct {
	cfg        *config.Config
	book       *ledger.Ledger
	mirror     *bridge.Bridge
	classifier *regime.Classifier
	groups     *correlation.Ledger
	pricer     *greeks.Engine
	defender   *defense.Engine
	resolver   *marketdata.Resolver
	store      persistence.SnapshotStore
	server     *monitor.Server
	metrics    *monitor.Metrics
	tier       int
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	interval, _ := cmd.Flags().GetDuration("interval")
	quoteURL, _ := cmd.Flags().GetString("quote-url")
	tier, _ := cmd.Flags().GetInt("tier")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	eng, err := buildEngine(ctx, cfg, store, quoteURL, tier)
	if err != nil {
		return err
	}

	go func() {
		if err := eng.server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor server failed")
			stop()
		}
	}()

	log.Info().Dur("interval", interval).Msg("evaluation loop starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	eng.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return eng.server.Shutdown(shutdownCtx)
		case <-ticker.C:
			eng.tick(ctx)
		}
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (persistence.SnapshotStore, error) {
	switch cfg.Persistence.Backend {
	case "postgres":
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Persistence.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
		store := persistence.NewPostgresStore(db, cfg.Persistence.Timeout, log.Logger)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		client := redis.NewClient(&redis.Options{Addr: cfg.Persistence.RedisAddr})
		return persistence.NewRedisStore(client, cfg.Persistence.Timeout, log.Logger), nil
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, store persistence.SnapshotStore, quoteURL string, tier int) (*engine, error) {
	book := ledger.NewLedger(log.Logger)
	mirror := bridge.New(book, log.Logger)
	book.SetMirror(mirror)

	// Restore the last snapshot and rebuild the flat view from it
	rec, err := store.Latest(ctx)
	switch {
	case err == persistence.ErrNoSnapshot:
		log.Info().Msg("no snapshot found, starting with an empty ledger")
	case err != nil:
		return nil, err
	default:
		if err := book.Deserialize(rec.Blob); err != nil {
			return nil, fmt.Errorf("failed to restore snapshot %s: %w", rec.ID, err)
		}
		for _, pos := range book.AllPositions() {
			mirror.MirrorOpen(pos)
		}
		log.Info().Str("snapshot_id", rec.ID).Time("taken_at", rec.TakenAt).Msg("ledger restored")
	}

	sources := []marketdata.Source{}
	if quoteURL != "" {
		live := marketdata.NewLiveSource(cfg.MarketData, httpFetcher(quoteURL), log.Logger)
		sources = append(sources, live)
	}

	pricer := greeks.NewEngine(cfg.Greeks, log.Logger)
	metrics := monitor.NewMetrics()

	return &engine{
		cfg:        cfg,
		book:       book,
		mirror:     mirror,
		classifier: regime.NewClassifier(log.Logger),
		groups:     correlation.NewLedger(&cfg.Correlation, log.Logger),
		pricer:     pricer,
		defender:   defense.NewEngine(&cfg.Defense, pricer, log.Logger),
		resolver:   marketdata.NewResolver(log.Logger, sources...),
		store:      store,
		server:     monitor.NewServer(cfg.Server, metrics, log.Logger),
		metrics:    metrics,
		tier:       tier,
	}, nil
}

// httpFetcher quotes one symbol from a JSON endpoint shaped
// {"symbol": "...", "price": 123.45}
func httpFetcher(urlTemplate string) marketdata.FetchFunc {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context, symbol string) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(urlTemplate, symbol), nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("quote endpoint returned %d for %s", resp.StatusCode, symbol)
		}
		var body struct {
			Price float64 `json:"price"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, err
		}
		return body.Price, nil
	}
}

// tick runs one full evaluation pass
func (e *engine) tick(ctx context.Context) {
	now := time.Now()
	open := e.book.OpenPositions()

	symbols := make([]string, 0, len(open)+1)
	seen := map[string]bool{volSymbol: true}
	symbols = append(symbols, volSymbol)
	for _, pos := range open {
		if !seen[pos.Underlying] {
			seen[pos.Underlying] = true
			symbols = append(symbols, pos.Underlying)
		}
	}

	spots, confidence, _ := e.resolver.ResolveBatch(ctx, symbols)

	if vix, ok := spots[volSymbol]; ok {
		if err := e.classifier.Update(vix, now); err != nil {
			log.Warn().Err(err).Msg("volatility reading rejected")
		}
		delete(spots, volSymbol)
	}
	band, regimeKnown := e.classifier.CurrentRegime()
	e.metrics.SetRegime(band, regimeKnown)

	mctx := defense.MarketContext{
		Now:             now,
		Spots:           spots,
		Regime:          band,
		RegimeKnown:     regimeKnown,
		PriceConfidence: confidence,
	}

	review := e.defender.EvaluatePortfolio(open, mctx)
	portfolio := e.pricer.PortfolioGreeks(open, spots)
	integrity := e.mirror.Integrity()

	exposures, equity := openExposures(open)
	risk := e.groups.RiskScore(e.tier, exposures, equity)
	e.metrics.SetCorrelationRisk(risk)

	e.metrics.RecordTick(review, portfolio)
	e.server.Publish(review, portfolio, integrity, now)

	e.persist(ctx, now)

	log.Info().
		Int("open_positions", len(open)).
		Str("health", review.Health.String()).
		Float64("net_delta", portfolio.Totals.Delta).
		Float64("correlation_risk", risk).
		Bool("in_sync", integrity.InSync).
		Msg("tick complete")
}

// openExposures derives per-underlying market value for the correlation
// ledger from the last stored marks.
func openExposures(open []*ledger.CompositePosition) ([]correlation.OpenExposure, float64) {
	var exposures []correlation.OpenExposure
	equity := 0.0
	for _, pos := range open {
		value := 0.0
		for _, comp := range pos.Components {
			if comp.Status != ledger.ComponentOpen {
				continue
			}
			mark := comp.CurrentMark
			if mark == 0 {
				mark = comp.EntryPrice
			}
			if comp.Quantity < 0 {
				value += mark * float64(-comp.Quantity) * 100
			} else {
				value += mark * float64(comp.Quantity) * 100
			}
		}
		exposures = append(exposures, correlation.OpenExposure{Underlying: pos.Underlying, MarketValue: value})
		equity += value
	}
	return exposures, equity
}

func (e *engine) persist(ctx context.Context, now time.Time) {
	blob, err := e.book.Serialize()
	if err != nil {
		log.Error().Err(err).Msg("snapshot serialization failed")
		return
	}
	rec := persistence.Record{ID: uuid.New().String(), TakenAt: now, Blob: blob}
	if err := e.store.Save(ctx, rec); err != nil {
		log.Error().Err(err).Msg("snapshot save failed")
		return
	}
	if _, err := e.store.Prune(ctx, e.cfg.Persistence.KeepHistory); err != nil {
		log.Warn().Err(err).Msg("snapshot prune failed")
	}
}
