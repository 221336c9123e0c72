package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backsim/internal/types"
)

func TestComputeTradeStats(t *testing.T) {
	r := &RunResults{Trades: []types.TradeRecord{
		{RealizedPnL: 0},   // entry, not counted in win/loss
		{RealizedPnL: 50},
		{RealizedPnL: -20},
		{RealizedPnL: 30},
		{RealizedPnL: -10},
	}}
	r.computeTradeStats()

	if r.WinningTrades != 2 || r.LosingTrades != 2 {
		t.Errorf("win/loss = %d/%d, want 2/2", r.WinningTrades, r.LosingTrades)
	}
	if r.WinRate != 50 {
		t.Errorf("win rate = %v, want 50", r.WinRate)
	}
	if r.AvgWin != 40 || r.AvgLoss != 15 {
		t.Errorf("avg win/loss = %v/%v, want 40/15", r.AvgWin, r.AvgLoss)
	}
	if r.LargestWin != 50 || r.LargestLoss != -20 {
		t.Errorf("largest win/loss = %v/%v, want 50/-20", r.LargestWin, r.LargestLoss)
	}
	// 80 won / 30 lost.
	if r.ProfitFactor < 2.66 || r.ProfitFactor > 2.67 {
		t.Errorf("profit factor = %v, want 80/30", r.ProfitFactor)
	}
}

func TestEquityCurveDrawdown(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &RunResults{}

	r.appendEquityPoint(at, 10000)
	r.appendEquityPoint(at.AddDate(0, 0, 1), 11000)
	r.appendEquityPoint(at.AddDate(0, 0, 2), 9900) // 10% off the 11000 peak
	r.appendEquityPoint(at.AddDate(0, 0, 3), 11500)

	if r.MaxDrawdownPercent != 10 {
		t.Errorf("max drawdown = %v, want 10", r.MaxDrawdownPercent)
	}
	last := r.EquityCurve[len(r.EquityCurve)-1]
	if last.PeakEquity != 11500 || last.Drawdown != 0 {
		t.Errorf("last point = %+v, want peak 11500 and zero drawdown", last)
	}
}

func TestSaveResults(t *testing.T) {
	dir := t.TempDir()
	r := &RunResults{
		InitialCapital: 10000,
		FinalEquity:    10500,
		Trades: []types.TradeRecord{{
			ID: "t1", Symbol: "BTCUSDT", Side: types.OrderSideBuy,
			Quantity: 1, Price: 100, Quality: types.ExecutionExcellent,
			Timestamp: time.Now(),
		}},
	}

	if err := r.SaveResults(dir, true); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var jsonFile, csvFile string
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), "_trades.csv"):
			csvFile = e.Name()
		case strings.HasSuffix(e.Name(), ".json"):
			jsonFile = e.Name()
		}
	}
	if jsonFile == "" || csvFile == "" {
		t.Fatalf("missing outputs, got %v", entries)
	}

	data, err := os.ReadFile(filepath.Join(dir, jsonFile))
	if err != nil {
		t.Fatal(err)
	}
	var loaded RunResults
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("results JSON does not parse: %v", err)
	}
	if loaded.FinalEquity != 10500 {
		t.Errorf("round-tripped final equity = %v, want 10500", loaded.FinalEquity)
	}
}
