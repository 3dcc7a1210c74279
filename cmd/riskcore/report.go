package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantdesk/riskcore/internal/config"
	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/ledger"
	"github.com/quantdesk/riskcore/internal/persistence"
	"github.com/quantdesk/riskcore/internal/regime"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the position book from the latest stored snapshot",
		RunE:  runReport,
	}
	cmd.Flags().String("status", "", "Filter by position status (OPEN|PARTIALLY_CLOSED|CLOSED)")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "One-shot defensive evaluation of the latest stored snapshot",
		RunE:  runMonitor,
	}
	cmd.Flags().Float64("vol", 0, "Volatility index reading for regime classification")
	return cmd
}

// restoreBook loads the latest snapshot into a fresh ledger
func restoreBook(cmd *cobra.Command) (*config.Config, *ledger.Ledger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := buildStore(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	rec, err := store.Latest(cmd.Context())
	if err == persistence.ErrNoSnapshot {
		return nil, nil, fmt.Errorf("no snapshot stored yet, run serve first")
	}
	if err != nil {
		return nil, nil, err
	}

	book := ledger.NewLedger(log.Logger)
	if err := book.Deserialize(rec.Blob); err != nil {
		return nil, nil, fmt.Errorf("failed to restore snapshot %s: %w", rec.ID, err)
	}
	log.Info().Str("snapshot_id", rec.ID).Time("taken_at", rec.TakenAt).Msg("snapshot loaded")
	return cfg, book, nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	_, book, err := restoreBook(cmd)
	if err != nil {
		return err
	}
	statusFilter, _ := cmd.Flags().GetString("status")
	now := time.Now()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Strategy", "Underlying", "Status", "Legs", "DTE", "P&L")

	totalPnL := 0.0
	shown := 0
	for _, pos := range book.AllPositions() {
		if statusFilter != "" && pos.Status.String() != statusFilter {
			continue
		}
		dteLabel := "-"
		if pos.Status != ledger.StatusClosed {
			if dte, err := book.CurrentDTE(pos.ID, now); err == nil {
				dteLabel = fmt.Sprintf("%d", dte)
			}
		}
		pnl := pos.TotalPnL()
		totalPnL += pnl
		shown++

		table.Append(
			pos.ID[:8],
			pos.StrategyTag,
			pos.Underlying,
			pos.Status.String(),
			fmt.Sprintf("%d/%d", pos.OpenComponents(), len(pos.Components)),
			dteLabel,
			formatMoney(pnl),
		)
	}
	table.Render()

	fmt.Printf("\n%d positions, total P&L %s\n", shown, formatMoney(totalPnL))
	return nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, book, err := restoreBook(cmd)
	if err != nil {
		return err
	}
	vol, _ := cmd.Flags().GetFloat64("vol")

	now := time.Now()
	classifier := regime.NewClassifier(log.Logger)
	if vol > 0 {
		if err := classifier.Update(vol, now); err != nil {
			return err
		}
	}
	band, known := classifier.CurrentRegime()

	pricer := greeks.NewEngine(cfg.Greeks, log.Logger)
	defender := defense.NewEngine(&cfg.Defense, pricer, log.Logger)

	review := defender.EvaluatePortfolio(book.OpenPositions(), defense.MarketContext{
		Now:         now,
		Regime:      band,
		RegimeKnown: known,
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Position", "Underlying", "Status", "Urgency", "DTE", "P&L%", "Triggers")

	for _, a := range review.Assessments {
		triggerLabel := "-"
		if len(a.Triggers) > 0 {
			triggerLabel = ""
			for i, tr := range a.Triggers {
				if i > 0 {
					triggerLabel += ","
				}
				triggerLabel += tr.Kind.String()
			}
		}
		table.Append(
			a.PositionID[:8],
			a.Underlying,
			a.Status.String(),
			a.Urgency.String(),
			fmt.Sprintf("%d", a.Metrics.DTE),
			fmt.Sprintf("%.0f%%", a.Metrics.PnLPercent*100),
			triggerLabel,
		)
	}
	table.Render()

	fmt.Printf("\nPortfolio health: %s\n", review.Health.String())
	for _, alert := range review.Alerts {
		fmt.Printf("ALERT: %s\n", alert)
	}
	if len(review.Actions) > 0 {
		fmt.Println("\nRecommended actions, highest priority first:")
		for _, act := range review.Actions {
			fmt.Printf("  [%s] %s %s: %s\n", act.Urgency.String(), act.PositionID[:8], act.Action.Kind.String(), act.Action.Reason)
		}
	}
	return nil
}
