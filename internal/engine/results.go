package engine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"backsim/internal/types"
)

// EquityPoint is one point on the equity curve
type EquityPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Equity     float64   `json:"equity"`
	Drawdown   float64   `json:"drawdown"`
	PeakEquity float64   `json:"peak_equity"`
}

// RunResults contains backtest run results
type RunResults struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	ProcessedBars  int           `json:"processed_bars"`

	InitialCapital     float64 `json:"initial_capital"`
	FinalEquity        float64 `json:"final_equity"`
	FinalCash          float64 `json:"final_cash"`
	TotalReturn        float64 `json:"total_return"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	RealizedPnL        float64 `json:"realized_pnl"`
	TotalFeesPaid      float64 `json:"total_fees_paid"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	ProfitFactor       float64 `json:"profit_factor"`
	WinRate            float64 `json:"win_rate"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`

	OrdersSubmitted int `json:"orders_submitted"`
	OrdersFilled    int `json:"orders_filled"`
	OrdersRejected  int `json:"orders_rejected"`
	OrdersCancelled int `json:"orders_cancelled"`

	Trades      []types.TradeRecord `json:"trades"`
	EquityCurve []EquityPoint       `json:"equity_curve"`
	RiskEvents  []types.RiskEvent   `json:"risk_events"`
}

// computeTradeStats fills win/loss statistics from realized trade P&L.
// Only trades that realized P&L (position reductions) count toward the
// win/loss split; pure entries carry zero realized P&L and are skipped.
func (r *RunResults) computeTradeStats() {
	r.TotalTrades = len(r.Trades)
	if r.TotalTrades == 0 {
		return
	}

	var totalWin, totalLoss float64
	var closed int
	for _, trade := range r.Trades {
		if trade.RealizedPnL == 0 {
			continue
		}
		closed++
		if trade.RealizedPnL > 0 {
			totalWin += trade.RealizedPnL
			r.WinningTrades++
			if trade.RealizedPnL > r.LargestWin {
				r.LargestWin = trade.RealizedPnL
			}
		} else {
			totalLoss += math.Abs(trade.RealizedPnL)
			r.LosingTrades++
			if trade.RealizedPnL < r.LargestLoss {
				r.LargestLoss = trade.RealizedPnL
			}
		}
	}

	if closed > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(closed) * 100
	}
	if r.WinningTrades > 0 {
		r.AvgWin = totalWin / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = totalLoss / float64(r.LosingTrades)
	}
	if totalLoss > 0 {
		r.ProfitFactor = totalWin / totalLoss
	}
}

// appendEquityPoint extends the equity curve and keeps max drawdown current
func (r *RunResults) appendEquityPoint(at time.Time, equity float64) {
	peak := equity
	if n := len(r.EquityCurve); n > 0 && r.EquityCurve[n-1].PeakEquity > peak {
		peak = r.EquityCurve[n-1].PeakEquity
	}

	var drawdown float64
	if peak > 0 {
		drawdown = (peak - equity) / peak * 100
	}
	if drawdown > r.MaxDrawdownPercent {
		r.MaxDrawdownPercent = drawdown
	}

	r.EquityCurve = append(r.EquityCurve, EquityPoint{
		Timestamp:  at,
		Equity:     equity,
		Drawdown:   drawdown,
		PeakEquity: peak,
	})
}

// SaveResults writes the run results to the results directory: a JSON
// report plus an optional trades CSV
func (r *RunResults) SaveResults(resultsDirectory string, exportTrades bool) error {
	if err := os.MkdirAll(resultsDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	baseName := fmt.Sprintf("backtest_%s", timestamp)

	if err := r.saveJSON(filepath.Join(resultsDirectory, baseName+".json")); err != nil {
		return err
	}

	if exportTrades {
		if err := r.exportTradesCSV(filepath.Join(resultsDirectory, baseName+"_trades.csv")); err != nil {
			return err
		}
	}
	return nil
}

// saveJSON saves results as JSON
func (r *RunResults) saveJSON(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// exportTradesCSV exports the trade history to CSV
func (r *RunResults) exportTradesCSV(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create trades file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Timestamp", "Symbol", "Side", "Quantity", "Price", "Fees", "RealizedPnL", "Quality", "CashAfter", "EquityAfter"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, trade := range r.Trades {
		record := []string{
			trade.Timestamp.Format(time.RFC3339),
			trade.Symbol,
			trade.Side.String(),
			fmt.Sprintf("%.8f", trade.Quantity),
			fmt.Sprintf("%.8f", trade.Price),
			fmt.Sprintf("%.8f", trade.Fees),
			fmt.Sprintf("%.8f", trade.RealizedPnL),
			string(trade.Quality),
			fmt.Sprintf("%.2f", trade.CashAfter),
			fmt.Sprintf("%.2f", trade.EquityAfter),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}
