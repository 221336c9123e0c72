package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Epsilon is the shared tolerance for float comparisons on quantities and
// the accounting identity. Every "is zero" check in the engine goes through
// IsZero so order completion and position removal agree.
const Epsilon = 1e-8

// IsZero reports whether v is zero within Epsilon
func IsZero(v float64) bool {
	return math.Abs(v) < Epsilon
}

// OrderSide represents the direction of an order
type OrderSide int

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

// String returns the wire form of the side
func (s OrderSide) String() string {
	if s == OrderSideBuy {
		return "buy"
	}
	return "sell"
}

// ParseOrderSide decodes the request vocabulary {buy, sell, long, short}
// into the closed side tag. "close" is intentionally not handled here: it
// resolves against the open position and is mapped by the order manager.
func ParseOrderSide(raw string) (OrderSide, error) {
	switch raw {
	case "buy", "long":
		return OrderSideBuy, nil
	case "sell", "short":
		return OrderSideSell, nil
	}
	return 0, fmt.Errorf("unrecognized order side %q", raw)
}

// MarshalJSON encodes the side as its wire string so exported results
// carry "buy"/"sell" instead of the internal tag
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the wire string back into the side tag
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseOrderSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Opposite returns the other side
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the type of order
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStopLoss
	OrderTypeTakeProfit
)

// String returns the wire form of the order type
func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	case OrderTypeStopLoss:
		return "stop_loss"
	case OrderTypeTakeProfit:
		return "take_profit"
	}
	return "unknown"
}

// ParseOrderType decodes the request order-type string into the closed tag
func ParseOrderType(raw string) (OrderType, error) {
	switch raw {
	case "market", "":
		return OrderTypeMarket, nil
	case "limit":
		return OrderTypeLimit, nil
	case "stop_loss", "stop":
		return OrderTypeStopLoss, nil
	case "take_profit":
		return OrderTypeTakeProfit, nil
	}
	return 0, fmt.Errorf("unrecognized order type %q", raw)
}

// MarshalJSON encodes the order type as its wire string
func (t OrderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the wire string back into the order-type tag
func (t *OrderType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseOrderType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// OrderRequest is the shape the strategy/signal layer submits. Side and
// order type arrive as strings ("buy", "sell", "close", "long", "short" /
// "market", "limit", "stop_loss", "take_profit") and are decoded exactly
// once when the request enters the order manager.
type OrderRequest struct {
	Symbol     string            `json:"symbol"`
	Side       string            `json:"side"`
	Quantity   float64           `json:"quantity"`
	OrderType  string            `json:"order_type"`
	LimitPrice float64           `json:"limit_price,omitempty"`
	StopPrice  float64           `json:"stop_price,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Order represents a trading order owned by the order manager. Quantity is
// always stored positive; direction lives in Side. FilledQuantity plus
// RemainingQuantity equals Quantity at all times (within Epsilon).
type Order struct {
	ID                string      `json:"id"`
	Symbol            string      `json:"symbol"`
	Side              OrderSide   `json:"side"`
	Type              OrderType   `json:"type"`
	Quantity          float64     `json:"quantity"`
	LimitPrice        float64     `json:"limit_price,omitempty"`
	StopPrice         float64     `json:"stop_price,omitempty"`
	Status            OrderStatus `json:"status"`
	FilledQuantity    float64     `json:"filled_quantity"`
	RemainingQuantity float64     `json:"remaining_quantity"`
	Fills             []Fill      `json:"fills"`
	RejectReason      string      `json:"reject_reason,omitempty"`
	CreateTime        time.Time   `json:"create_time"`
	UpdateTime        time.Time   `json:"update_time"`
}

// NewOrder creates a pending order
func NewOrder(id, symbol string, side OrderSide, orderType OrderType, quantity float64, created time.Time) *Order {
	return &Order{
		ID:                id,
		Symbol:            symbol,
		Side:              side,
		Type:              orderType,
		Quantity:          quantity,
		Status:            OrderStatusPending,
		RemainingQuantity: quantity,
		CreateTime:        created,
		UpdateTime:        created,
	}
}

// IsActive returns true while the order can still fill
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusPending
}

// ApplyFill records a fill against the order and transitions it to filled
// once the remaining quantity reaches zero within Epsilon
func (o *Order) ApplyFill(f Fill) {
	o.Fills = append(o.Fills, f)
	o.FilledQuantity += f.Quantity
	o.RemainingQuantity = o.Quantity - o.FilledQuantity
	o.UpdateTime = f.Timestamp

	if o.RemainingQuantity < 0 || IsZero(o.RemainingQuantity) {
		o.RemainingQuantity = 0
		o.FilledQuantity = o.Quantity
		o.Status = OrderStatusFilled
	}
}

// AvgFillPrice returns the volume-weighted average price across fills
func (o *Order) AvgFillPrice() float64 {
	if o.FilledQuantity == 0 {
		return 0
	}
	var notional float64
	for _, f := range o.Fills {
		notional += f.Quantity * f.Price
	}
	return notional / o.FilledQuantity
}

// TotalFees returns the fees accumulated across fills
func (o *Order) TotalFees() float64 {
	var fees float64
	for _, f := range o.Fills {
		fees += f.Fees
	}
	return fees
}

// Cancel moves a pending order to the cancelled terminal state
func (o *Order) Cancel(at time.Time) {
	if o.IsActive() {
		o.Status = OrderStatusCancelled
		o.UpdateTime = at
	}
}

// Reject moves the order directly to the rejected terminal state
func (o *Order) Reject(reason string, at time.Time) {
	o.Status = OrderStatusRejected
	o.RejectReason = reason
	o.UpdateTime = at
}

// TriggerPrice returns the price that gates feasibility for limit and stop
// orders; zero for market orders
func (o *Order) TriggerPrice() float64 {
	switch o.Type {
	case OrderTypeLimit:
		return o.LimitPrice
	case OrderTypeStopLoss, OrderTypeTakeProfit:
		return o.StopPrice
	}
	return 0
}
