package strategy

import (
	"testing"
	"time"

	"backsim/internal/types"
)

func feedCloses(t *testing.T, s *SMACross, closes []float64) [][]types.OrderRequest {
	t.Helper()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var batches [][]types.OrderRequest
	for i, close := range closes {
		bar := types.NewBar("BTCUSDT", start.AddDate(0, 0, i),
			close, close*1.01, close*0.99, close, 1000)
		batches = append(batches, s.OnBar(bar.Timestamp, map[string]types.Bar{"BTCUSDT": bar}))
	}
	return batches
}

func TestSMACrossSignals(t *testing.T) {
	s := NewSMACross(2, 3, 1.5)

	// Decline, sharp rise (golden cross), then collapse (death cross).
	closes := []float64{10, 9, 8, 9, 12, 7, 6}
	batches := feedCloses(t, s, closes)

	// Bars before the slow window has a prior value emit nothing.
	for i := 0; i < 3; i++ {
		if len(batches[i]) != 0 {
			t.Errorf("bar %d emitted %d signals during warmup", i, len(batches[i]))
		}
	}

	// The rise to 12 lifts the fast SMA through the slow one.
	buy := batches[4]
	if len(buy) != 1 {
		t.Fatalf("bar 4 emitted %d signals, want the entry", len(buy))
	}
	if buy[0].Side != "buy" || buy[0].OrderType != "market" {
		t.Errorf("entry signal = %+v, want market buy", buy[0])
	}
	if buy[0].Quantity != 1.5 {
		t.Errorf("entry quantity = %v, want 1.5", buy[0].Quantity)
	}

	// The collapse to 6 drops the fast SMA back below.
	exit := batches[6]
	if len(exit) != 1 {
		t.Fatalf("bar 6 emitted %d signals, want the exit", len(exit))
	}
	if exit[0].Side != "close" {
		t.Errorf("exit signal side = %q, want close", exit[0].Side)
	}
}

func TestSMACrossNoRepeatedEntries(t *testing.T) {
	s := NewSMACross(2, 3, 1)

	// After the entry the trend keeps rising; no further signals fire.
	closes := []float64{10, 9, 8, 9, 12, 13, 14, 15}
	batches := feedCloses(t, s, closes)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 1 {
		t.Errorf("emitted %d signals over a single sustained trend, want 1", total)
	}
}

func TestSMACrossSwapsInvertedPeriods(t *testing.T) {
	s := NewSMACross(30, 10, 1)
	if s.fastPeriod != 10 || s.slowPeriod != 30 {
		t.Errorf("periods = %d/%d, want swapped to 10/30", s.fastPeriod, s.slowPeriod)
	}
}
