package engine

import (
	"math"
	"testing"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
)

func testFeeConfig() config.FeeConfig {
	return config.FeeConfig{
		Exchange: "binance",
		VolumeTiers: []config.FeeTier{
			{VolumeThreshold: 10000, MakerRate: 0.0008, TakerRate: 0.0016},
			{VolumeThreshold: 50000, MakerRate: 0.0006, TakerRate: 0.0012},
		},
		ExchangeDefaults: map[string]config.ExchangeFees{
			"binance": {MakerRate: 0.001, TakerRate: 0.001},
		},
		DefaultMakerRate: 0.002,
		DefaultTakerRate: 0.002,
	}
}

func TestFeeOverrideWins(t *testing.T) {
	cfg := testFeeConfig()
	cfg.UseOverride = true
	cfg.MakerOverride = 0.0005
	cfg.TakerOverride = 0.001

	fc := NewFeeCalculator(cfg, logging.NewComponentLogger("test"))

	if got := fc.Fee("BTCUSDT", 1, 1000, true); got != 0.5 {
		t.Errorf("maker fee = %v, want 0.5", got)
	}
	if got := fc.Fee("BTCUSDT", 1, 1000, false); got != 1.0 {
		t.Errorf("taker fee = %v, want 1.0", got)
	}
}

func TestFeeTierResolution(t *testing.T) {
	tests := []struct {
		name    string
		volume  float64
		isMaker bool
		want    float64 // fee on 1000 notional
	}{
		{"no tier qualifies, exchange schedule", 0, false, 1.0},
		{"first tier", 20000, false, 1.6},
		{"first tier maker", 20000, true, 0.8},
		{"highest qualifying tier", 75000, false, 1.2},
		{"threshold boundary qualifies", 50000, false, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := NewFeeCalculator(testFeeConfig(), logging.NewComponentLogger("test"))
			if tt.volume > 0 {
				fc.RecordVolume(tt.volume, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
			}
			if got := fc.Fee("BTCUSDT", 1, 1000, tt.isMaker); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("fee = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeeUnknownExchangeFallback(t *testing.T) {
	cfg := testFeeConfig()
	cfg.Exchange = "bitvavo"
	fc := NewFeeCalculator(cfg, logging.NewComponentLogger("test"))

	if got := fc.Fee("BTCUSDT", 1, 1000, false); got != 2.0 {
		t.Errorf("fallback fee = %v, want 2.0", got)
	}
}

func TestFeeMinimumFloor(t *testing.T) {
	cfg := testFeeConfig()
	cfg.MinimumFee = 0.1
	fc := NewFeeCalculator(cfg, logging.NewComponentLogger("test"))

	// 10 notional at 0.1% is 0.01, below the floor.
	if got := fc.Fee("BTCUSDT", 10, 1, false); got != 0.1 {
		t.Errorf("fee = %v, want minimum 0.1", got)
	}
}

func TestFeeNeverErrors(t *testing.T) {
	fc := NewFeeCalculator(testFeeConfig(), logging.NewComponentLogger("test"))

	tests := []struct {
		name     string
		quantity float64
		price    float64
	}{
		{"zero quantity", 0, 100},
		{"negative quantity", -5, 100},
		{"zero price", 10, 0},
		{"negative price", 10, -1},
		{"NaN quantity", math.NaN(), 100},
		{"NaN price", 10, math.NaN()},
		{"infinite price", 10, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fc.Fee("BTCUSDT", tt.quantity, tt.price, false); got != 0 {
				t.Errorf("fee = %v, want 0 for unusable inputs", got)
			}
		})
	}
}

func TestFeeRounding(t *testing.T) {
	fc := NewFeeCalculator(testFeeConfig(), logging.NewComponentLogger("test"))

	// 0.0123456789 * 1 * 0.001 = 0.0000123456789, rounds to 8 decimals.
	got := fc.Fee("BTCUSDT", 0.0123456789, 1, false)
	if math.Abs(got-0.00001235) > 1e-12 {
		t.Errorf("fee = %.12f, want 0.00001235", got)
	}
}

func TestMonthlyVolumeRollover(t *testing.T) {
	fc := NewFeeCalculator(testFeeConfig(), logging.NewComponentLogger("test"))

	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	fc.RecordVolume(30000, jan)
	fc.RecordVolume(40000, jan)
	if got := fc.MonthlyVolume(); got != 70000 {
		t.Fatalf("january volume = %v, want 70000", got)
	}

	fc.RecordVolume(5000, feb)
	if got := fc.MonthlyVolume(); got != 5000 {
		t.Errorf("february volume = %v, want 5000 after rollover", got)
	}

	// Non-positive notional is ignored.
	fc.RecordVolume(0, feb)
	fc.RecordVolume(-100, feb)
	if got := fc.MonthlyVolume(); got != 5000 {
		t.Errorf("volume = %v, want 5000 after ignoring bad notional", got)
	}

	fc.ResetMonthlyVolume()
	if got := fc.MonthlyVolume(); got != 0 {
		t.Errorf("volume = %v, want 0 after reset", got)
	}
}
