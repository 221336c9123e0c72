package types

import (
	"time"
)

// PortfolioSnapshot is the read-only view of portfolio state exposed to
// collaborators. The risk manager gates signals against it and never
// mutates the portfolio behind it.
type PortfolioSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	Cash               float64   `json:"cash"`
	PositionsValue     float64   `json:"positions_value"`
	TotalEquity        float64   `json:"total_equity"`
	RealizedPnL        float64   `json:"realized_pnl"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	TotalFeesPaid      float64   `json:"total_fees_paid"`
	OpenPositionsCount int       `json:"open_positions_count"`
}

// RiskEventType identifies the limit a risk event reports on
type RiskEventType string

const (
	RiskEventDailyLossLimit RiskEventType = "daily_loss_limit"
	RiskEventMaxDrawdown    RiskEventType = "max_drawdown"
)

// RiskSeverity grades a risk event
type RiskSeverity string

const (
	RiskSeverityWarning  RiskSeverity = "warning"
	RiskSeverityCritical RiskSeverity = "critical"
)

// RiskEvent records a crossed risk ceiling. Events are logged and
// accumulated for querying; they do not trigger liquidation.
type RiskEvent struct {
	Type      RiskEventType `json:"type"`
	Value     float64       `json:"value"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  RiskSeverity  `json:"severity"`
}

// TradeRecord is the immutable entry appended to the global trade history
// for every fill, carrying a post-trade cash/equity snapshot.
type TradeRecord struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"order_id"`
	Symbol      string           `json:"symbol"`
	Side        OrderSide        `json:"side"`
	Quantity    float64          `json:"quantity"`
	Price       float64          `json:"price"`
	Fees        float64          `json:"fees"`
	RealizedPnL float64          `json:"realized_pnl"`
	Timestamp   time.Time        `json:"timestamp"`
	Quality     ExecutionQuality `json:"execution_quality"`
	CashAfter   float64          `json:"cash_after"`
	EquityAfter float64          `json:"equity_after"`
}

// DailyState is an appended equity/cash snapshot used downstream to derive
// returns and drawdown. Never recomputed in place, only appended.
type DailyState struct {
	Timestamp     time.Time `json:"timestamp"`
	Cash          float64   `json:"cash"`
	TotalEquity   float64   `json:"total_equity"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
}
