package engine

import (
	"errors"
	"fmt"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
	"backsim/internal/types"
)

// ErrRiskRejected marks a signal dropped by a pre-trade gate
var ErrRiskRejected = errors.New("risk rejected")

// portfolioView is the read-only portfolio access the risk manager gets.
// It gates signals against this state and never mutates it.
type portfolioView interface {
	Snapshot(at time.Time) types.PortfolioSnapshot
	OpenPositions() []*types.Position
	LastPrice(symbol string) (float64, bool)
	Position(symbol string) (*types.Position, bool)
}

// RiskManager gates order requests against portfolio-derived limits before
// they reach the order manager, and tracks drawdown and daily loss over
// time. Limit breaches are logged and recorded; by design they trigger no
// automatic liquidation.
type RiskManager struct {
	cfg    config.RiskConfig
	view   portfolioView
	logger *logging.Logger

	dayStart           time.Time
	dayStartEquity     float64
	peakEquity         float64
	dailyLossTriggered bool
	drawdownTriggered  bool

	events []types.RiskEvent
}

// NewRiskManager creates a risk manager reading the given portfolio view
func NewRiskManager(cfg config.RiskConfig, view portfolioView, logger *logging.Logger) *RiskManager {
	return &RiskManager{
		cfg:    cfg,
		view:   view,
		logger: logger,
	}
}

// CheckPositionRisk rejects a prospective position when its notional
// exceeds the per-position share of equity, when aggregate portfolio heat
// would exceed its ceiling, when the open-position count is exhausted, or
// when the notional is below the configured minimum
func (rm *RiskManager) CheckPositionRisk(symbol string, quantity, price float64, snap types.PortfolioSnapshot) error {
	notional := quantity * price
	if notional < rm.cfg.MinNotional {
		return fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrRiskRejected, notional, rm.cfg.MinNotional)
	}
	if snap.TotalEquity <= 0 {
		return fmt.Errorf("%w: no equity available", ErrRiskRejected)
	}

	if maxNotional := rm.cfg.MaxPositionPct * snap.TotalEquity; notional > maxNotional {
		return fmt.Errorf("%w: notional %.2f exceeds position limit %.2f", ErrRiskRejected, notional, maxNotional)
	}

	exposure := rm.currentExposure()
	if heatCap := rm.cfg.MaxPortfolioHeat * snap.TotalEquity; exposure+notional > heatCap {
		return fmt.Errorf("%w: exposure %.2f would exceed heat ceiling %.2f", ErrRiskRejected, exposure+notional, heatCap)
	}

	if _, exists := rm.view.Position(symbol); !exists && snap.OpenPositionsCount >= rm.cfg.MaxOpenPositions {
		return fmt.Errorf("%w: open position limit %d reached", ErrRiskRejected, rm.cfg.MaxOpenPositions)
	}
	return nil
}

// currentExposure sums the absolute notional of every open position at its
// last seen price
func (rm *RiskManager) currentExposure() float64 {
	var exposure float64
	for _, pos := range rm.view.OpenPositions() {
		price, ok := rm.view.LastPrice(pos.Symbol)
		if !ok {
			price = pos.AvgPrice
		}
		exposure += pos.Notional(price)
	}
	return exposure
}

// ValidateSignals filters a signal batch. Each signal goes through the
// per-position check; a failure (including a panic) drops that signal
// alone, never its siblings. Signals that would open a new position are
// then admitted in their original order only while concurrent-position
// slots remain; closes and additions to existing positions consume no
// slot and are never dropped here. No re-ranking happens.
func (rm *RiskManager) ValidateSignals(signals []types.OrderRequest, prices map[string]float64) []types.OrderRequest {
	snap := rm.view.Snapshot(time.Time{})
	accepted := make([]types.OrderRequest, 0, len(signals))

	for _, sig := range signals {
		if err := rm.checkSignal(sig, prices, snap); err != nil {
			rm.logger.Warnf("signal dropped for %s: %v", sig.Symbol, err)
			mtxRiskRejections.Inc()
			continue
		}
		accepted = append(accepted, sig)
	}

	slots := rm.cfg.MaxOpenPositions - snap.OpenPositionsCount
	if slots < 0 {
		slots = 0
	}
	kept := accepted[:0]
	admitted := make(map[string]bool)
	for _, sig := range accepted {
		if rm.opensNewPosition(sig, admitted) {
			if slots == 0 {
				rm.logger.Warnf("signal dropped for %s: open-position slots exhausted", sig.Symbol)
				mtxRiskRejections.Inc()
				continue
			}
			slots--
			admitted[sig.Symbol] = true
		}
		kept = append(kept, sig)
	}
	return kept
}

// opensNewPosition reports whether a signal would add a position the
// portfolio does not already hold. Closes never open one, and a symbol
// admitted earlier in the same batch counts as already held.
func (rm *RiskManager) opensNewPosition(sig types.OrderRequest, admitted map[string]bool) bool {
	if sig.Side == "close" || admitted[sig.Symbol] {
		return false
	}
	_, exists := rm.view.Position(sig.Symbol)
	return !exists
}

// checkSignal resolves the reference price for a signal and applies the
// per-position gate, converting a panic into a rejection (fail-closed)
func (rm *RiskManager) checkSignal(sig types.OrderRequest, prices map[string]float64, snap types.PortfolioSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: check failed: %v", ErrRiskRejected, r)
		}
	}()

	// Close requests reduce exposure and bypass the entry gates.
	if sig.Side == "close" {
		return nil
	}

	price := sig.LimitPrice
	if price <= 0 {
		price = prices[sig.Symbol]
	}
	if price <= 0 {
		return fmt.Errorf("%w: no reference price for %s", ErrRiskRejected, sig.Symbol)
	}
	return rm.CheckPositionRisk(sig.Symbol, sig.Quantity, price, snap)
}

// UpdateDailyRiskState tracks day-start and peak equity and records a risk
// event when the daily loss or drawdown-from-peak percentage crosses its
// ceiling. Events are logged only; nothing is liquidated.
func (rm *RiskManager) UpdateDailyRiskState(at time.Time) {
	snap := rm.view.Snapshot(at)
	equity := snap.TotalEquity

	day := at.Truncate(24 * time.Hour)
	if rm.dayStart.IsZero() || day.After(rm.dayStart) {
		rm.dayStart = day
		rm.dayStartEquity = equity
		rm.dailyLossTriggered = false
	}
	if equity > rm.peakEquity {
		rm.peakEquity = equity
	}

	if rm.dayStartEquity > 0 && !rm.dailyLossTriggered {
		lossPct := (rm.dayStartEquity - equity) / rm.dayStartEquity * 100
		if lossPct >= rm.cfg.DailyLossLimitPct {
			rm.recordEvent(types.RiskEventDailyLossLimit, lossPct, rm.cfg.DailyLossLimitPct, at)
			rm.dailyLossTriggered = true
		}
	}

	if rm.peakEquity > 0 {
		drawdownPct := (rm.peakEquity - equity) / rm.peakEquity * 100
		if drawdownPct >= rm.cfg.MaxDrawdownPct {
			if !rm.drawdownTriggered {
				rm.recordEvent(types.RiskEventMaxDrawdown, drawdownPct, rm.cfg.MaxDrawdownPct, at)
				rm.drawdownTriggered = true
			}
		} else {
			rm.drawdownTriggered = false
		}
	}
}

// recordEvent appends and logs one risk event
func (rm *RiskManager) recordEvent(eventType types.RiskEventType, value, threshold float64, at time.Time) {
	severity := types.RiskSeverityWarning
	if value >= threshold*1.5 {
		severity = types.RiskSeverityCritical
	}
	event := types.RiskEvent{
		Type:      eventType,
		Value:     value,
		Timestamp: at,
		Severity:  severity,
	}
	rm.events = append(rm.events, event)
	mtxRiskEvents.WithLabelValues(string(eventType)).Inc()
	rm.logger.LogRisk(string(eventType), value, threshold, string(severity))
}

// Events returns the accumulated risk events
func (rm *RiskManager) Events() []types.RiskEvent {
	return rm.events
}

// PeakEquity returns the running peak equity observed so far
func (rm *RiskManager) PeakEquity() float64 {
	return rm.peakEquity
}
