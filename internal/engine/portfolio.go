package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"backsim/internal/logging"
	"backsim/internal/types"

	"github.com/google/uuid"
)

// ErrAccountingAnomaly reports that the recomputed equity diverged from the
// accounting identity. It signals a logic defect rather than a market
// condition and is the only error allowed to halt a run.
var ErrAccountingAnomaly = errors.New("accounting anomaly: equity identity violated")

// equityTolerance bounds the float drift allowed in the equity identity
// check before a run is halted.
const equityTolerance = 1e-6

// PortfolioManager applies fills to cash and positions and keeps the
// running equity identity consistent: total equity is always recomputed as
// cash plus the mark-to-market value of every open position, never patched
// incrementally.
type PortfolioManager struct {
	logger *logging.Logger

	initialCapital float64
	cash           float64
	positions      map[string]*types.Position
	lastPrices     map[string]float64

	realizedPnL   float64
	unrealizedPnL float64
	totalFees     float64
	totalEquity   float64

	tradeHistory []types.TradeRecord
	dailyStates  []types.DailyState
}

// NewPortfolioManager creates a portfolio with the given starting capital
func NewPortfolioManager(initialCapital float64, logger *logging.Logger) *PortfolioManager {
	return &PortfolioManager{
		logger:         logger,
		initialCapital: initialCapital,
		cash:           initialCapital,
		totalEquity:    initialCapital,
		positions:      make(map[string]*types.Position),
		lastPrices:     make(map[string]float64),
	}
}

// ProcessFill applies one fill: cash moves by notional plus fees, the
// position updates under weighted-average accounting, reductions extract
// realized P&L, and an immutable trade record with a post-trade snapshot
// is appended to the history
func (pm *PortfolioManager) ProcessFill(fill types.Fill) types.TradeRecord {
	notional := fill.Notional()
	if fill.Side == types.OrderSideBuy {
		pm.cash -= notional + fill.Fees
	} else {
		pm.cash += notional - fill.Fees
	}
	pm.totalFees += fill.Fees
	pm.lastPrices[fill.Symbol] = fill.Price

	signedQty := fill.Quantity
	if fill.Side == types.OrderSideSell {
		signedQty = -fill.Quantity
	}

	realized := pm.applyToPosition(fill.Symbol, signedQty, fill.Price, fill.Timestamp)
	pm.realizedPnL += realized

	pm.recompute()

	record := types.TradeRecord{
		ID:          uuid.New().String(),
		OrderID:     fill.OrderID,
		Symbol:      fill.Symbol,
		Side:        fill.Side,
		Quantity:    fill.Quantity,
		Price:       fill.Price,
		Fees:        fill.Fees,
		RealizedPnL: realized,
		Timestamp:   fill.Timestamp,
		Quality:     fill.Quality,
		CashAfter:   pm.cash,
		EquityAfter: pm.totalEquity,
	}
	pm.tradeHistory = append(pm.tradeHistory, record)

	pm.logger.LogPortfolio(pm.cash, pm.totalEquity, pm.realizedPnL, pm.unrealizedPnL, len(pm.positions))
	return record
}

// applyToPosition folds a signed quantity into the symbol's position and
// returns the realized P&L extracted by any reduction. Crossing through
// flat closes the old position and opens the remainder on the other side.
func (pm *PortfolioManager) applyToPosition(symbol string, signedQty, price float64, at time.Time) float64 {
	pos, ok := pm.positions[symbol]
	if !ok {
		pm.positions[symbol] = types.NewPosition(symbol, signedQty, price, at)
		return 0
	}

	// Same direction: weighted-average add.
	if pos.Quantity*signedQty > 0 {
		pos.Add(signedQty, price, at)
		return 0
	}

	closeQty := math.Min(math.Abs(signedQty), pos.AbsQuantity())
	realized := pos.Reduce(closeQty, price, at)

	if pos.IsFlat() {
		delete(pm.positions, symbol)
		leftover := math.Abs(signedQty) - closeQty
		if leftover > types.Epsilon {
			if signedQty < 0 {
				leftover = -leftover
			}
			pm.positions[symbol] = types.NewPosition(symbol, leftover, price, at)
		}
	}
	return realized
}

// UpdatePrices marks every open position to the supplied prices and
// recomputes equity. Calling it twice with the same prices leaves state
// unchanged.
func (pm *PortfolioManager) UpdatePrices(prices map[string]float64) {
	for symbol, price := range prices {
		pm.lastPrices[symbol] = price
	}
	pm.recompute()
}

// recompute rebuilds unrealized P&L and total equity from scratch. Equity
// is never adjusted incrementally, which keeps cash, position value and
// the reported figure from drifting apart.
func (pm *PortfolioManager) recompute() {
	var positionsValue, unrealized float64
	for symbol, pos := range pm.positions {
		price, ok := pm.lastPrices[symbol]
		if !ok {
			price = pos.AvgPrice
		}
		pos.MarkToMarket(price)
		positionsValue += pos.Quantity * price
		unrealized += pos.UnrealizedPnL
	}
	pm.unrealizedPnL = unrealized
	pm.totalEquity = pm.cash + positionsValue
	mtxEquity.Set(pm.totalEquity)
}

// CheckInvariant recomputes the equity identity independently and returns
// ErrAccountingAnomaly when the stored figure diverges beyond tolerance
func (pm *PortfolioManager) CheckInvariant() error {
	var positionsValue float64
	for symbol, pos := range pm.positions {
		price, ok := pm.lastPrices[symbol]
		if !ok {
			price = pos.AvgPrice
		}
		positionsValue += pos.Quantity * price
	}
	expected := pm.cash + positionsValue
	if math.Abs(expected-pm.totalEquity) > equityTolerance {
		return fmt.Errorf("%w: have %.10f, want %.10f", ErrAccountingAnomaly, pm.totalEquity, expected)
	}
	return nil
}

// RecordDailyState appends an equity/cash snapshot for later derivation of
// returns and drawdown
func (pm *PortfolioManager) RecordDailyState(at time.Time) {
	pm.dailyStates = append(pm.dailyStates, types.DailyState{
		Timestamp:     at,
		Cash:          pm.cash,
		TotalEquity:   pm.totalEquity,
		UnrealizedPnL: pm.unrealizedPnL,
		RealizedPnL:   pm.realizedPnL,
	})
}

// Position returns a copy of the open position for a symbol
func (pm *PortfolioManager) Position(symbol string) (*types.Position, bool) {
	pos, ok := pm.positions[symbol]
	if !ok {
		return nil, false
	}
	copied := *pos
	return &copied, true
}

// OpenPositions returns copies of every open position
func (pm *PortfolioManager) OpenPositions() []*types.Position {
	out := make([]*types.Position, 0, len(pm.positions))
	for _, pos := range pm.positions {
		copied := *pos
		out = append(out, &copied)
	}
	return out
}

// Snapshot exposes the read-only portfolio view collaborators consume
func (pm *PortfolioManager) Snapshot(at time.Time) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		Timestamp:          at,
		Cash:               pm.cash,
		PositionsValue:     pm.totalEquity - pm.cash,
		TotalEquity:        pm.totalEquity,
		RealizedPnL:        pm.realizedPnL,
		UnrealizedPnL:      pm.unrealizedPnL,
		TotalFeesPaid:      pm.totalFees,
		OpenPositionsCount: len(pm.positions),
	}
}

// Cash returns current cash
func (pm *PortfolioManager) Cash() float64 { return pm.cash }

// TotalEquity returns the current recomputed equity
func (pm *PortfolioManager) TotalEquity() float64 { return pm.totalEquity }

// InitialCapital returns the starting capital for the run
func (pm *PortfolioManager) InitialCapital() float64 { return pm.initialCapital }

// LastPrice returns the most recent price seen for a symbol
func (pm *PortfolioManager) LastPrice(symbol string) (float64, bool) {
	price, ok := pm.lastPrices[symbol]
	return price, ok
}

// TradeHistory returns the global immutable trade history
func (pm *PortfolioManager) TradeHistory() []types.TradeRecord {
	return pm.tradeHistory
}

// DailyStates returns the appended daily snapshots
func (pm *PortfolioManager) DailyStates() []types.DailyState {
	return pm.dailyStates
}
