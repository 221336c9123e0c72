package types

import (
	"time"
)

// PositionSide represents the direction of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position represents an open holding for one symbol. Quantity is signed:
// positive for long, negative for short. AvgPrice is the volume-weighted
// average entry price of the open quantity.
type Position struct {
	Symbol        string       `json:"symbol"`
	Quantity      float64      `json:"quantity"`
	AvgPrice      float64      `json:"avg_price"`
	Side          PositionSide `json:"side"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	OpenTime      time.Time    `json:"open_time"`
	UpdateTime    time.Time    `json:"update_time"`
}

// NewPosition opens a position from the first fill for a symbol
func NewPosition(symbol string, signedQty, price float64, at time.Time) *Position {
	p := &Position{
		Symbol:     symbol,
		Quantity:   signedQty,
		AvgPrice:   price,
		OpenTime:   at,
		UpdateTime: at,
	}
	p.refreshSide()
	return p
}

func (p *Position) refreshSide() {
	if p.Quantity >= 0 {
		p.Side = PositionSideLong
	} else {
		p.Side = PositionSideShort
	}
}

// IsFlat reports whether the open quantity is zero within Epsilon
func (p *Position) IsFlat() bool {
	return IsZero(p.Quantity)
}

// AbsQuantity returns the unsigned open quantity
func (p *Position) AbsQuantity() float64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// Notional returns the unsigned position notional at the given price
func (p *Position) Notional(price float64) float64 {
	return p.AbsQuantity() * price
}

// Add increases the position in its current direction using weighted
// average price accounting. signedQty must carry the same sign as the
// open quantity.
func (p *Position) Add(signedQty, price float64, at time.Time) {
	oldCost := p.Quantity * p.AvgPrice
	p.Quantity += signedQty
	if !IsZero(p.Quantity) {
		p.AvgPrice = (oldCost + signedQty*price) / p.Quantity
	}
	p.UpdateTime = at
	p.refreshSide()
}

// Reduce closes part of the position and returns the realized P&L for the
// closed quantity, signed by the original side. closeQty is unsigned and
// must not exceed the open quantity.
func (p *Position) Reduce(closeQty, price float64, at time.Time) float64 {
	var realized float64
	if p.Quantity > 0 {
		realized = closeQty * (price - p.AvgPrice)
		p.Quantity -= closeQty
	} else {
		realized = closeQty * (p.AvgPrice - price)
		p.Quantity += closeQty
	}
	p.UpdateTime = at
	p.refreshSide()
	return realized
}

// MarkToMarket revalues the open quantity at the given price and updates
// the unrealized P&L
func (p *Position) MarkToMarket(price float64) {
	if p.Quantity >= 0 {
		p.UnrealizedPnL = p.Quantity * (price - p.AvgPrice)
	} else {
		p.UnrealizedPnL = -p.Quantity * (p.AvgPrice - price)
	}
}
