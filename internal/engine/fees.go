package engine

import (
	"math"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
)

// feePrecision rounds fees to 8 decimal places so small-notional trades do
// not truncate to zero.
const feePrecision = 1e8

// FeeCalculator maps (symbol, notional, maker/taker) to a fee amount.
// Resolution order: explicit override, then volume-tier schedule, then the
// exchange default schedule with a fallback table for unknown exchanges.
// The only state it carries is cumulative monthly volume, reset at a
// billing-period boundary. It never fails: unusable inputs degrade to a
// zero fee with a logged warning.
type FeeCalculator struct {
	cfg    config.FeeConfig
	logger *logging.Logger

	monthlyVolume float64
	billingMonth  time.Month
	billingYear   int
}

// NewFeeCalculator creates a fee calculator from config
func NewFeeCalculator(cfg config.FeeConfig, logger *logging.Logger) *FeeCalculator {
	return &FeeCalculator{
		cfg:    cfg,
		logger: logger,
	}
}

// Fee returns the fee for a trade of quantity at price. The fee is always
// non-negative and rounded to high precision.
func (fc *FeeCalculator) Fee(symbol string, quantity, price float64, isMaker bool) float64 {
	if quantity <= 0 || price <= 0 || math.IsNaN(quantity) || math.IsNaN(price) ||
		math.IsInf(quantity, 0) || math.IsInf(price, 0) {
		fc.logger.Warnf("unusable fee inputs for %s (qty=%v price=%v), charging zero fee", symbol, quantity, price)
		return 0
	}

	notional := quantity * price
	rate := fc.resolveRate(isMaker)

	fee := notional * rate
	if fee < fc.cfg.MinimumFee {
		fee = fc.cfg.MinimumFee
	}

	return math.Round(fee*feePrecision) / feePrecision
}

// resolveRate picks the fee rate per the resolution order
func (fc *FeeCalculator) resolveRate(isMaker bool) float64 {
	if fc.cfg.UseOverride {
		if isMaker {
			return fc.cfg.MakerOverride
		}
		return fc.cfg.TakerOverride
	}

	// Highest tier whose threshold does not exceed the month's volume; if
	// no tier qualifies the exchange schedule decides.
	var tier *config.FeeTier
	for i := range fc.cfg.VolumeTiers {
		if fc.cfg.VolumeTiers[i].VolumeThreshold <= fc.monthlyVolume {
			tier = &fc.cfg.VolumeTiers[i]
		}
	}
	if tier != nil {
		if isMaker {
			return tier.MakerRate
		}
		return tier.TakerRate
	}

	schedule, ok := fc.cfg.ExchangeDefaults[fc.cfg.Exchange]
	if !ok {
		if isMaker {
			return fc.cfg.DefaultMakerRate
		}
		return fc.cfg.DefaultTakerRate
	}
	if isMaker {
		return schedule.MakerRate
	}
	return schedule.TakerRate
}

// RecordVolume accumulates traded notional into the current billing month,
// rolling the counter over when the month changes
func (fc *FeeCalculator) RecordVolume(notional float64, at time.Time) {
	if notional <= 0 {
		return
	}
	if at.Month() != fc.billingMonth || at.Year() != fc.billingYear {
		fc.monthlyVolume = 0
		fc.billingMonth = at.Month()
		fc.billingYear = at.Year()
	}
	fc.monthlyVolume += notional
}

// MonthlyVolume returns the cumulative notional for the current billing month
func (fc *FeeCalculator) MonthlyVolume() float64 {
	return fc.monthlyVolume
}

// ResetMonthlyVolume clears the billing-period counter
func (fc *FeeCalculator) ResetMonthlyVolume() {
	fc.monthlyVolume = 0
}
