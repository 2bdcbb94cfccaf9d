package reporter

import (
	"context"
	"fmt"
	"io"

	"swingbot/internal/domain"
	"swingbot/internal/ports"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter renders the trade journal as a summary table. It is read-only over
// the journal and typically runs once at shutdown.
type Reporter struct {
	trades ports.TradeRepository
	out    io.Writer
}

// New creates a reporter writing to out.
func New(trades ports.TradeRepository, out io.Writer) *Reporter {
	return &Reporter{trades: trades, out: out}
}

// WriteSummary renders the most recent trades for the symbol plus aggregate
// figures underneath.
func (r *Reporter) WriteSummary(ctx context.Context, symbol string, limit int) error {
	trades, err := r.trades.FindBySymbol(ctx, symbol, limit)
	if err != nil {
		return fmt.Errorf("loading trades for report: %w", err)
	}
	totalPNL, err := r.trades.TotalPNL(ctx, symbol)
	if err != nil {
		return fmt.Errorf("summing PNL for report: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(fmt.Sprintf("Trade summary: %s", symbol))
	t.AppendHeader(table.Row{"#", "Side", "Entry", "Exit", "Qty", "PNL", "Rule", "Closed By", "Entered", "Exited"})

	wins := 0
	for _, tr := range trades {
		if tr.PNL > 0 {
			wins++
		}
		t.AppendRow(table.Row{
			tr.ID,
			tr.Side,
			fmt.Sprintf("%.2f", tr.EntryPrice),
			fmt.Sprintf("%.2f", tr.ExitPrice),
			fmt.Sprintf("%.4f", tr.Quantity),
			fmt.Sprintf("%+.2f", tr.PNL),
			tr.EntryRule,
			formatCloseReason(tr.CloseReason),
			tr.EntryTime.Format("2006-01-02 15:04"),
			tr.ExitTime.Format("2006-01-02 15:04"),
		})
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%+.2f", totalPNL),
		fmt.Sprintf("win %.0f%%", winRate), "", "", fmt.Sprintf("%d trades", len(trades))})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "PNL", Align: text.AlignRight},
		{Name: "Entry", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Qty", Align: text.AlignRight},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}

func formatCloseReason(reason domain.CloseReason) string {
	switch reason {
	case domain.CloseReasonStopLoss:
		return "stop loss"
	case domain.CloseReasonTakeProfit:
		return "take profit"
	case domain.CloseReasonSignal:
		return "exit signal"
	case domain.CloseReasonReconciled:
		return "reconciled"
	default:
		return "unknown"
	}
}
