package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
	"backsim/internal/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPct:    0.20,
		MaxPortfolioHeat:  0.20,
		MaxOpenPositions:  5,
		MinNotional:       10,
		DailyLossLimitPct: 5.0,
		MaxDrawdownPct:    20.0,
	}
}

func newTestRisk(cfg config.RiskConfig, pm *PortfolioManager) *RiskManager {
	return NewRiskManager(cfg, pm, logging.NewComponentLogger("test"))
}

func TestCheckPositionRiskGates(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		quantity float64
		price    float64
		wantErr  bool
	}{
		{"below min notional", 0.05, 100, true},
		{"within all limits", 4, 100, false},
		{"exceeds position pct", 25, 100, true}, // 2500 > 20% of 10000
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := newTestPortfolio(10000)
			rm := newTestRisk(testRiskConfig(), pm)
			err := rm.CheckPositionRisk("BTCUSDT", tt.quantity, tt.price, pm.Snapshot(now))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRiskRejected) {
				t.Errorf("error = %v, want wrapped ErrRiskRejected", err)
			}
		})
	}
}

func TestPortfolioHeatCeiling(t *testing.T) {
	now := time.Now()
	pm := newTestPortfolio(10000)

	// Existing exposure: 15 units at 100 = 1500 notional, equity still 10000.
	pm.ProcessFill(buyFill("ETHUSDT", 15, 100, 0))
	rm := newTestRisk(testRiskConfig(), pm)

	// Ceiling is 20% of 10000 = 2000. Adding 700 would reach 2200.
	if err := rm.CheckPositionRisk("BTCUSDT", 7, 100, pm.Snapshot(now)); err == nil {
		t.Error("2200 aggregate exposure should exceed the 2000 heat ceiling")
	}

	// 400 keeps the aggregate at 1900, inside the ceiling.
	if err := rm.CheckPositionRisk("BTCUSDT", 4, 100, pm.Snapshot(now)); err != nil {
		t.Errorf("1900 aggregate exposure rejected: %v", err)
	}
}

func TestOpenPositionCountCeiling(t *testing.T) {
	now := time.Now()
	pm := newTestPortfolio(100000)
	pm.ProcessFill(buyFill("ETHUSDT", 1, 100, 0))

	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 1
	cfg.MaxPortfolioHeat = 1.0
	rm := newTestRisk(cfg, pm)

	// A new symbol would open a second position.
	if err := rm.CheckPositionRisk("BTCUSDT", 1, 100, pm.Snapshot(now)); err == nil {
		t.Error("second symbol should exceed the open-position ceiling")
	}

	// Adding to the existing symbol does not open a new position.
	if err := rm.CheckPositionRisk("ETHUSDT", 1, 100, pm.Snapshot(now)); err != nil {
		t.Errorf("adding to an existing position rejected: %v", err)
	}
}

func TestValidateSignalsDropsOnlyFailures(t *testing.T) {
	pm := newTestPortfolio(10000)
	rm := newTestRisk(testRiskConfig(), pm)

	prices := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50}
	signals := []types.OrderRequest{
		{Symbol: "BTCUSDT", Side: "buy", Quantity: 4, OrderType: "market"},
		{Symbol: "UNKNOWN", Side: "buy", Quantity: 4, OrderType: "market"}, // no reference price
		{Symbol: "ETHUSDT", Side: "buy", Quantity: 8, OrderType: "market"},
	}

	accepted := rm.ValidateSignals(signals, prices)
	if len(accepted) != 2 {
		t.Fatalf("accepted = %d signals, want 2", len(accepted))
	}
	if accepted[0].Symbol != "BTCUSDT" || accepted[1].Symbol != "ETHUSDT" {
		t.Errorf("signal order not preserved: %+v", accepted)
	}
}

func TestValidateSignalsTruncatesToSlots(t *testing.T) {
	pm := newTestPortfolio(100000)
	pm.ProcessFill(buyFill("SOLUSDT", 1, 100, 0))

	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 3
	cfg.MaxPortfolioHeat = 1.0
	rm := newTestRisk(cfg, pm)

	prices := map[string]float64{"AUSDT": 100, "BUSDT": 100, "CUSDT": 100}
	signals := []types.OrderRequest{
		{Symbol: "AUSDT", Side: "buy", Quantity: 1, OrderType: "market"},
		{Symbol: "BUSDT", Side: "buy", Quantity: 1, OrderType: "market"},
		{Symbol: "CUSDT", Side: "buy", Quantity: 1, OrderType: "market"},
	}

	// One slot is taken, so only the first two survive, in order.
	accepted := rm.ValidateSignals(signals, prices)
	if len(accepted) != 2 {
		t.Fatalf("accepted = %d signals, want 2", len(accepted))
	}
	if accepted[0].Symbol != "AUSDT" || accepted[1].Symbol != "BUSDT" {
		t.Errorf("truncation changed order: %+v", accepted)
	}
}

func TestValidateSignalsCloseSurvivesFullPortfolio(t *testing.T) {
	pm := newTestPortfolio(100000)
	pm.ProcessFill(buyFill("BTCUSDT", 1, 100, 0))

	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 1
	cfg.MaxPortfolioHeat = 1.0
	rm := newTestRisk(cfg, pm)

	prices := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100}
	signals := []types.OrderRequest{
		{Symbol: "BTCUSDT", Side: "close", OrderType: "market"},
		{Symbol: "ETHUSDT", Side: "buy", Quantity: 1, OrderType: "market"},
	}

	// The close consumes no slot even though the portfolio is at its
	// position ceiling; the fresh entry is the one that gets dropped.
	accepted := rm.ValidateSignals(signals, prices)
	if len(accepted) != 1 {
		t.Fatalf("accepted = %d signals, want 1", len(accepted))
	}
	if accepted[0].Side != "close" || accepted[0].Symbol != "BTCUSDT" {
		t.Errorf("close signal dropped at the position ceiling: %+v", accepted)
	}
}

func TestValidateSignalsExistingSymbolConsumesNoSlot(t *testing.T) {
	pm := newTestPortfolio(100000)
	pm.ProcessFill(buyFill("BTCUSDT", 1, 100, 0))

	cfg := testRiskConfig()
	cfg.MaxOpenPositions = 1
	cfg.MaxPortfolioHeat = 1.0
	rm := newTestRisk(cfg, pm)

	signals := []types.OrderRequest{
		{Symbol: "BTCUSDT", Side: "buy", Quantity: 1, OrderType: "market"},
	}
	accepted := rm.ValidateSignals(signals, map[string]float64{"BTCUSDT": 100})
	if len(accepted) != 1 {
		t.Errorf("add to an already-open symbol dropped at the position ceiling")
	}
}

func TestValidateSignalsCloseBypassesEntryGates(t *testing.T) {
	pm := newTestPortfolio(10000)
	pm.ProcessFill(buyFill("BTCUSDT", 1, 100, 0))

	cfg := testRiskConfig()
	cfg.MinNotional = 1e9 // would reject any entry
	cfg.MaxOpenPositions = 5
	rm := newTestRisk(cfg, pm)

	signals := []types.OrderRequest{{Symbol: "BTCUSDT", Side: "close", OrderType: "market"}}
	accepted := rm.ValidateSignals(signals, map[string]float64{"BTCUSDT": 100})
	if len(accepted) != 1 {
		t.Errorf("close signal dropped by entry gates")
	}
}

func TestDailyLossLimitEvent(t *testing.T) {
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	pm := newTestPortfolio(10000)
	pm.ProcessFill(buyFill("BTCUSDT", 10, 100, 0))

	rm := newTestRisk(testRiskConfig(), pm)
	rm.UpdateDailyRiskState(day) // day start at 10000

	// Price collapse: equity 9000 + 400 = 9400, a 6% daily loss.
	pm.UpdatePrices(map[string]float64{"BTCUSDT": 40})
	rm.UpdateDailyRiskState(day.Add(time.Hour))

	events := rm.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != types.RiskEventDailyLossLimit {
		t.Errorf("event type = %v, want daily_loss_limit", ev.Type)
	}
	if math.Abs(ev.Value-6.0) > 1e-9 {
		t.Errorf("event value = %v, want 6.0", ev.Value)
	}
	if ev.Severity != types.RiskSeverityWarning {
		t.Errorf("severity = %v, want warning", ev.Severity)
	}

	// Same breach on the same day does not repeat.
	rm.UpdateDailyRiskState(day.Add(2 * time.Hour))
	if len(rm.Events()) != 1 {
		t.Errorf("duplicate daily-loss event emitted")
	}

	// Positions stay open: breaches are recorded, never liquidated.
	if _, open := pm.Position("BTCUSDT"); !open {
		t.Error("risk event closed the position")
	}
}

func TestMaxDrawdownEvent(t *testing.T) {
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	pm := newTestPortfolio(10000)
	pm.ProcessFill(buyFill("BTCUSDT", 10, 100, 0))

	cfg := testRiskConfig()
	cfg.DailyLossLimitPct = 50 // keep the daily gate quiet
	cfg.MaxDrawdownPct = 5.0
	rm := newTestRisk(cfg, pm)

	rm.UpdateDailyRiskState(day) // peak 10000

	pm.UpdatePrices(map[string]float64{"BTCUSDT": 40})
	rm.UpdateDailyRiskState(day.Add(time.Hour))

	events := rm.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != types.RiskEventMaxDrawdown {
		t.Errorf("event type = %v, want max_drawdown", events[0].Type)
	}
	if math.Abs(events[0].Value-6.0) > 1e-9 {
		t.Errorf("drawdown value = %v, want 6.0", events[0].Value)
	}

	// Recovery re-arms the trigger.
	pm.UpdatePrices(map[string]float64{"BTCUSDT": 100})
	rm.UpdateDailyRiskState(day.Add(2 * time.Hour))
	pm.UpdatePrices(map[string]float64{"BTCUSDT": 40})
	rm.UpdateDailyRiskState(day.Add(3 * time.Hour))
	if len(rm.Events()) != 2 {
		t.Errorf("drawdown crossing after recovery not re-recorded, events = %d", len(rm.Events()))
	}
}

func TestDayBoundaryResetsDailyBaseline(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	pm := newTestPortfolio(10000)
	pm.ProcessFill(buyFill("BTCUSDT", 10, 100, 0))

	cfg := testRiskConfig()
	cfg.MaxDrawdownPct = 90
	rm := newTestRisk(cfg, pm)

	rm.UpdateDailyRiskState(day1)
	pm.UpdatePrices(map[string]float64{"BTCUSDT": 40})
	rm.UpdateDailyRiskState(day1.Add(time.Hour))
	if len(rm.Events()) != 1 {
		t.Fatalf("expected the day-1 loss event")
	}

	// The next day starts from the lower equity; a flat day emits nothing.
	rm.UpdateDailyRiskState(day2)
	rm.UpdateDailyRiskState(day2.Add(time.Hour))
	if len(rm.Events()) != 1 {
		t.Errorf("new day emitted a loss event without a new loss")
	}
}
