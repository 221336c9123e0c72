package types

import (
	"time"
)

// ExecutionQuality is a qualitative label bucketed by slippage percentage.
// Diagnostics only: it never affects control flow.
type ExecutionQuality string

const (
	ExecutionExcellent ExecutionQuality = "excellent"
	ExecutionGood      ExecutionQuality = "good"
	ExecutionFair      ExecutionQuality = "fair"
	ExecutionPoor      ExecutionQuality = "poor"
)

// Fill is a completed (possibly partial) execution of an order against one
// bar. Immutable once created; appended to the owning order and to the
// global trade history.
type Fill struct {
	OrderID   string           `json:"order_id"`
	Symbol    string           `json:"symbol"`
	Side      OrderSide        `json:"side"`
	Quantity  float64          `json:"quantity"`
	Price     float64          `json:"fill_price"`
	Fees      float64          `json:"fees"`
	Timestamp time.Time        `json:"timestamp"`
	Quality   ExecutionQuality `json:"execution_quality"`
}

// Notional returns quantity times fill price
func (f Fill) Notional() float64 {
	return f.Quantity * f.Price
}
