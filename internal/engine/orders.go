package engine

import (
	"fmt"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
	"backsim/internal/types"

	"github.com/google/uuid"
)

// positionBook is the read-only view of open positions the order manager
// needs to resolve "close" requests
type positionBook interface {
	Position(symbol string) (*types.Position, bool)
}

// OrderOutcome is the per-order result of one processing step. A nil Fill
// with a nil Err means the order simply did not execute on this bar and
// stays pending.
type OrderOutcome struct {
	OrderID string
	Fill    *types.Fill
	Err     error
}

// OrderManager owns the order lifecycle: pending orders, terminal history
// and the per-bar evaluation loop that drives the fill simulator and fee
// calculator
type OrderManager struct {
	cfg       config.OrderConfig
	simulator *FillSimulator
	fees      *FeeCalculator
	positions positionBook
	logger    *logging.Logger

	pending      map[string]*types.Order
	pendingOrder []string // submission order, for deterministic evaluation
	history      []*types.Order
}

// NewOrderManager creates an order manager
func NewOrderManager(cfg config.OrderConfig, simulator *FillSimulator, fees *FeeCalculator, positions positionBook, logger *logging.Logger) *OrderManager {
	return &OrderManager{
		cfg:       cfg,
		simulator: simulator,
		fees:      fees,
		positions: positions,
		logger:    logger,
		pending:   make(map[string]*types.Order),
	}
}

// Submit validates a request and either enqueues a pending order or
// records a rejected one. Rejected orders never enter the pending set but
// are always appended to history with their reason.
func (om *OrderManager) Submit(req types.OrderRequest) (*types.Order, error) {
	side, orderType, quantity, reason := om.decodeRequest(req)
	if reason == "" {
		if n := om.pendingCount(req.Symbol); n >= om.cfg.MaxPendingPerSymbol {
			reason = fmt.Sprintf("pending order limit reached for %s (%d)", req.Symbol, n)
		}
	}

	order := types.NewOrder(uuid.New().String(), req.Symbol, side, orderType, quantity, req.Timestamp)
	order.LimitPrice = req.LimitPrice
	order.StopPrice = req.StopPrice

	if reason != "" {
		order.Reject(reason, req.Timestamp)
		om.history = append(om.history, order)
		mtxOrders.WithLabelValues(string(types.OrderStatusRejected)).Inc()
		om.logger.Warnf("order rejected: %s (%s %s %s)", reason, req.Symbol, req.Side, req.OrderType)
		return order, fmt.Errorf("order rejected: %s", reason)
	}

	om.pending[order.ID] = order
	om.pendingOrder = append(om.pendingOrder, order.ID)
	mtxOrders.WithLabelValues(string(types.OrderStatusPending)).Inc()
	return order, nil
}

// decodeRequest normalizes the request vocabulary into closed tags. The
// returned reason is empty when the request is valid.
func (om *OrderManager) decodeRequest(req types.OrderRequest) (types.OrderSide, types.OrderType, float64, string) {
	orderType, err := types.ParseOrderType(req.OrderType)
	if err != nil {
		return 0, 0, req.Quantity, err.Error()
	}

	quantity := req.Quantity
	var side types.OrderSide
	if req.Side == "close" {
		pos, ok := om.positions.Position(req.Symbol)
		if !ok {
			return 0, orderType, quantity, fmt.Sprintf("no open position to close for %s", req.Symbol)
		}
		if pos.Side == types.PositionSideLong {
			side = types.OrderSideSell
		} else {
			side = types.OrderSideBuy
		}
		if quantity <= 0 {
			quantity = pos.AbsQuantity()
		}
	} else {
		side, err = types.ParseOrderSide(req.Side)
		if err != nil {
			return 0, orderType, quantity, err.Error()
		}
	}

	if quantity <= 0 {
		return side, orderType, quantity, "quantity must be positive"
	}
	if orderType == types.OrderTypeLimit && req.LimitPrice <= 0 {
		return side, orderType, quantity, "limit order requires a limit price"
	}
	if (orderType == types.OrderTypeStopLoss || orderType == types.OrderTypeTakeProfit) && req.StopPrice <= 0 {
		return side, orderType, quantity, "stop order requires a stop price"
	}
	return side, orderType, quantity, ""
}

// Process evaluates every pending order whose symbol has bar data this
// step. An order is never evaluated against a bar at or before its own
// submission time; that strict next-bar-or-later rule is what prevents
// lookahead. A failure while evaluating one order is caught and reported
// in its outcome; the order stays pending and the rest of the batch is
// unaffected.
func (om *OrderManager) Process(bars map[string]types.Bar) []OrderOutcome {
	outcomes := make([]OrderOutcome, 0, len(om.pendingOrder))

	for _, id := range om.pendingOrder {
		order, ok := om.pending[id]
		if !ok {
			continue
		}
		bar, ok := bars[order.Symbol]
		if !ok {
			continue
		}
		if !bar.Timestamp.After(order.CreateTime) {
			continue
		}

		fill, err := om.evaluate(order, bar)
		if err != nil {
			om.logger.Errorf("order %s evaluation failed, skipping this bar: %v", order.ID, err)
			outcomes = append(outcomes, OrderOutcome{OrderID: order.ID, Err: err})
			continue
		}
		if fill == nil {
			continue
		}

		order.ApplyFill(*fill)
		om.fees.RecordVolume(fill.Notional(), fill.Timestamp)
		mtxFills.Inc()
		om.logger.LogFill(fill.OrderID, fill.Symbol, fill.Side.String(), fill.Quantity, fill.Price, fill.Fees, string(fill.Quality))

		if order.Status == types.OrderStatusFilled {
			om.retire(order)
			mtxOrders.WithLabelValues(string(types.OrderStatusFilled)).Inc()
		}
		outcomes = append(outcomes, OrderOutcome{OrderID: order.ID, Fill: fill})
	}

	om.compactPendingOrder()
	return outcomes
}

// evaluate runs one order through the fill simulator and fee calculator,
// converting a panic into an error so a defective order cannot abort the
// batch
func (om *OrderManager) evaluate(order *types.Order, bar types.Bar) (fill *types.Fill, err error) {
	defer func() {
		if r := recover(); r != nil {
			fill = nil
			err = fmt.Errorf("panic evaluating order %s: %v", order.ID, r)
		}
	}()

	fill = om.simulator.Simulate(order, bar)
	if fill == nil {
		return nil, nil
	}

	isMaker := order.Type == types.OrderTypeLimit
	fill.Fees = om.fees.Fee(order.Symbol, fill.Quantity, fill.Price, isMaker)
	return fill, nil
}

// Cancel transitions a pending order to cancelled. Cancellation commits
// before the next bar's evaluation; no fill can be produced afterwards.
func (om *OrderManager) Cancel(orderID string, at time.Time) error {
	order, ok := om.pending[orderID]
	if !ok {
		return fmt.Errorf("no pending order %s", orderID)
	}
	order.Cancel(at)
	om.retire(order)
	om.compactPendingOrder()
	mtxOrders.WithLabelValues(string(types.OrderStatusCancelled)).Inc()
	return nil
}

// CancelAll cancels every pending order for a symbol; an empty symbol
// cancels everything
func (om *OrderManager) CancelAll(symbol string, at time.Time) int {
	cancelled := 0
	for _, id := range om.pendingOrder {
		order, ok := om.pending[id]
		if !ok {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		order.Cancel(at)
		om.retire(order)
		mtxOrders.WithLabelValues(string(types.OrderStatusCancelled)).Inc()
		cancelled++
	}
	om.compactPendingOrder()
	return cancelled
}

// retire moves an order from the pending set into history
func (om *OrderManager) retire(order *types.Order) {
	delete(om.pending, order.ID)
	om.history = append(om.history, order)
}

// compactPendingOrder drops retired IDs from the evaluation order
func (om *OrderManager) compactPendingOrder() {
	kept := om.pendingOrder[:0]
	for _, id := range om.pendingOrder {
		if _, ok := om.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	om.pendingOrder = kept
}

func (om *OrderManager) pendingCount(symbol string) int {
	n := 0
	for _, order := range om.pending {
		if order.Symbol == symbol {
			n++
		}
	}
	return n
}

// PendingOrders returns the currently pending orders in submission order
func (om *OrderManager) PendingOrders() []*types.Order {
	orders := make([]*types.Order, 0, len(om.pendingOrder))
	for _, id := range om.pendingOrder {
		if order, ok := om.pending[id]; ok {
			orders = append(orders, order)
		}
	}
	return orders
}

// History returns all orders that reached a terminal state
func (om *OrderManager) History() []*types.Order {
	return om.history
}
