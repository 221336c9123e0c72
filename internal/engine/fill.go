package engine

import (
	"math"

	"backsim/internal/config"
	"backsim/internal/types"
)

// FillSimulator decides whether, at what price and in what quantity an
// order fills against one price bar. A nil fill means no-fill: the price
// was never touched or the computed quantity was not positive. No-fill is
// a normal outcome, not an error.
type FillSimulator struct {
	cfg config.FillConfig
}

// NewFillSimulator creates a fill simulator from config
func NewFillSimulator(cfg config.FillConfig) *FillSimulator {
	return &FillSimulator{cfg: cfg}
}

// Simulate evaluates the order against the bar and returns the resulting
// fill, or nil when the order cannot execute on this bar
func (fs *FillSimulator) Simulate(order *types.Order, bar types.Bar) *types.Fill {
	if !fs.feasible(order, bar) {
		return nil
	}

	base := fs.basePrice(order, bar)
	price := fs.applySlippage(order, bar, base)
	price = fs.applyImpact(order, bar, price, base)

	// The fill can never print outside the bar's traded range.
	price = clamp(price, bar.Low, bar.High)

	quantity := fs.fillQuantity(order, bar)
	if quantity <= 0 {
		return nil
	}

	slipPct := 0.0
	if base > 0 {
		slipPct = math.Abs(price-base) / base * 100
	}

	return &types.Fill{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: bar.Timestamp,
		Quality:   executionQuality(slipPct),
	}
}

// feasible checks whether the bar's range touches the order's trigger.
// Market orders always execute. The take-profit geometry deliberately
// mirrors stop-loss: a buy take-profit fires on the bar's low and a sell
// take-profit on the bar's high.
func (fs *FillSimulator) feasible(order *types.Order, bar types.Bar) bool {
	switch order.Type {
	case types.OrderTypeMarket:
		return true
	case types.OrderTypeLimit, types.OrderTypeTakeProfit:
		trigger := order.TriggerPrice()
		if order.Side == types.OrderSideBuy {
			return bar.Low <= trigger
		}
		return bar.High >= trigger
	case types.OrderTypeStopLoss:
		if order.Side == types.OrderSideBuy {
			return bar.High >= order.StopPrice
		}
		return bar.Low <= order.StopPrice
	}
	return false
}

// basePrice picks the pre-slippage price. Market orders trade at the open.
// Limit and stop orders trade at their trigger, pulled toward the open when
// the open is worse for the trader, so a fill is never better than the
// requested price.
func (fs *FillSimulator) basePrice(order *types.Order, bar types.Bar) float64 {
	if order.Type == types.OrderTypeMarket {
		return bar.Open
	}
	trigger := order.TriggerPrice()
	if order.Side == types.OrderSideBuy {
		return math.Max(trigger, bar.Open)
	}
	return math.Min(trigger, bar.Open)
}

// applySlippage adds adverse slippage proportional to the intrabar range,
// capped at a configured fraction of the base price
func (fs *FillSimulator) applySlippage(order *types.Order, bar types.Bar, base float64) float64 {
	slip := fs.cfg.SlippageFactor * bar.Range()
	if limit := fs.cfg.MaxSlippagePct * base; slip > limit {
		slip = limit
	}
	if order.Side == types.OrderSideBuy {
		return base + slip
	}
	return base - slip
}

// applyImpact adds adverse movement proportional to the order's share of
// the bar's volume
func (fs *FillSimulator) applyImpact(order *types.Order, bar types.Bar, price, base float64) float64 {
	if bar.Volume <= 0 {
		return price
	}
	participation := order.RemainingQuantity / bar.Volume
	impact := fs.cfg.ImpactFactor * participation * base
	if order.Side == types.OrderSideBuy {
		return price + impact
	}
	return price - impact
}

// fillQuantity returns the quantity this bar can absorb. Full remaining
// quantity unless partial fills are enabled, in which case the fill is
// capped at a fraction of the bar's volume with a minimum-fill floor.
func (fs *FillSimulator) fillQuantity(order *types.Order, bar types.Bar) float64 {
	remaining := order.RemainingQuantity
	if !fs.cfg.PartialFillsEnabled {
		return remaining
	}

	quantity := remaining
	if bar.Volume > 0 {
		if limit := fs.cfg.MaxVolumeFraction * bar.Volume; quantity > limit {
			quantity = limit
		}
	}
	if quantity < fs.cfg.MinFillQuantity {
		quantity = math.Min(fs.cfg.MinFillQuantity, remaining)
	}
	return quantity
}

// executionQuality buckets the fill by slippage percentage
func executionQuality(slipPct float64) types.ExecutionQuality {
	switch {
	case slipPct < 0.05:
		return types.ExecutionExcellent
	case slipPct < 0.15:
		return types.ExecutionGood
	case slipPct < 0.5:
		return types.ExecutionFair
	default:
		return types.ExecutionPoor
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
