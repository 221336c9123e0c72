package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"backsim/internal/config"
	"backsim/internal/logging"
	"backsim/internal/types"
)

// Strategy produces order requests from the bars of one timestep
type Strategy interface {
	Name() string
	OnBar(at time.Time, bars map[string]types.Bar) []types.OrderRequest
}

// Engine drives a backtest bar by bar. Each timestep first evaluates the
// orders already pending against the new bars, then applies their fills to
// the portfolio, then lets the strategy react to the bars. Signals emitted
// on a bar are therefore never evaluated against that same bar.
type Engine struct {
	cfg    *config.Config
	logger *logging.Logger

	strategy Strategy
	series   map[string][]types.Bar

	fees      *FeeCalculator
	simulator *FillSimulator
	orders    *OrderManager
	portfolio *PortfolioManager
	risk      *RiskManager

	results   *RunResults
	isRunning bool
	mu        sync.RWMutex
}

// NewEngine wires the execution components together for one run
func NewEngine(cfg *config.Config, strategy Strategy, series map[string][]types.Bar, logger *logging.Logger) *Engine {
	portfolio := NewPortfolioManager(cfg.Backtest.InitialCapital, logging.NewComponentLogger("portfolio"))
	fees := NewFeeCalculator(cfg.Fees, logging.NewComponentLogger("fees"))
	simulator := NewFillSimulator(cfg.Fill)
	orders := NewOrderManager(cfg.Orders, simulator, fees, portfolio, logging.NewComponentLogger("orders"))
	risk := NewRiskManager(cfg.Risk, portfolio, logging.NewComponentLogger("risk"))

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		strategy:  strategy,
		series:    series,
		fees:      fees,
		simulator: simulator,
		orders:    orders,
		portfolio: portfolio,
		risk:      risk,
	}
}

// Run executes the backtest over the loaded series
func (e *Engine) Run() (*RunResults, error) {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("backtest is already running")
	}
	e.isRunning = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isRunning = false
		e.mu.Unlock()
	}()

	timeline := e.buildTimeline()
	if len(timeline) == 0 {
		return nil, fmt.Errorf("no bars to process")
	}

	e.logger.Infof("Starting backtest with strategy %s over %d timesteps",
		e.strategy.Name(), len(timeline))

	started := time.Now()
	e.results = &RunResults{
		StartTime:      timeline[0],
		EndTime:        timeline[len(timeline)-1],
		InitialCapital: e.portfolio.InitialCapital(),
	}

	cursor := make(map[string]int, len(e.series))
	var lastDay time.Time

	for _, at := range timeline {
		bars := e.barsAt(at, cursor)
		if len(bars) == 0 {
			continue
		}

		if err := e.step(at, bars); err != nil {
			return nil, fmt.Errorf("run halted at %s: %w", at.Format(time.RFC3339), err)
		}

		e.results.ProcessedBars += len(bars)
		e.results.appendEquityPoint(at, e.portfolio.TotalEquity())

		if day := at.Truncate(24 * time.Hour); day.After(lastDay) {
			e.portfolio.RecordDailyState(at)
			lastDay = day
		}
	}

	e.finalize(started)
	return e.results, nil
}

// step runs one timestep: pending orders first, then prices, then new
// signals
func (e *Engine) step(at time.Time, bars map[string]types.Bar) error {
	outcomes := e.orders.Process(bars)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			e.logger.Errorf("order %s failed: %v", outcome.OrderID, outcome.Err)
			continue
		}
		if outcome.Fill != nil {
			e.portfolio.ProcessFill(*outcome.Fill)
		}
	}

	closes := make(map[string]float64, len(bars))
	for symbol, bar := range bars {
		closes[symbol] = bar.Close
	}
	e.portfolio.UpdatePrices(closes)

	// The equity identity is the one error that stops a run.
	if err := e.portfolio.CheckInvariant(); err != nil {
		return err
	}

	signals := e.strategy.OnBar(at, bars)
	for _, sig := range e.risk.ValidateSignals(signals, closes) {
		sig.Timestamp = at
		if _, err := e.orders.Submit(sig); err != nil {
			e.logger.Warnf("order rejected for %s: %v", sig.Symbol, err)
		}
	}

	e.risk.UpdateDailyRiskState(at)
	return nil
}

// buildTimeline merges every symbol's timestamps into one sorted, deduped
// sequence
func (e *Engine) buildTimeline() []time.Time {
	seen := make(map[int64]time.Time)
	for _, bars := range e.series {
		for _, bar := range bars {
			seen[bar.Timestamp.UnixNano()] = bar.Timestamp
		}
	}

	timeline := make([]time.Time, 0, len(seen))
	for _, at := range seen {
		timeline = append(timeline, at)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })
	return timeline
}

// barsAt collects the bar of every symbol whose series has reached this
// timestamp, advancing each symbol's cursor
func (e *Engine) barsAt(at time.Time, cursor map[string]int) map[string]types.Bar {
	bars := make(map[string]types.Bar)
	for symbol, series := range e.series {
		i := cursor[symbol]
		for i < len(series) && series[i].Timestamp.Before(at) {
			i++
		}
		if i < len(series) && series[i].Timestamp.Equal(at) {
			bars[symbol] = series[i]
			i++
		}
		cursor[symbol] = i
	}
	return bars
}

// finalize computes the summary statistics after the loop ends
func (e *Engine) finalize(started time.Time) {
	r := e.results
	r.Duration = time.Since(started)
	r.FinalEquity = e.portfolio.TotalEquity()
	r.FinalCash = e.portfolio.Cash()
	r.TotalReturn = r.FinalEquity - r.InitialCapital
	if r.InitialCapital > 0 {
		r.TotalReturnPercent = r.TotalReturn / r.InitialCapital * 100
	}

	snap := e.portfolio.Snapshot(r.EndTime)
	r.RealizedPnL = snap.RealizedPnL
	r.TotalFeesPaid = snap.TotalFeesPaid

	r.Trades = e.portfolio.TradeHistory()
	r.RiskEvents = e.risk.Events()
	r.computeTradeStats()

	r.OrdersSubmitted = len(e.orders.PendingOrders())
	for _, order := range e.orders.History() {
		r.OrdersSubmitted++
		switch order.Status {
		case types.OrderStatusFilled:
			r.OrdersFilled++
		case types.OrderStatusRejected:
			r.OrdersRejected++
		case types.OrderStatusCancelled:
			r.OrdersCancelled++
		}
	}

	e.logger.Infof("Backtest completed in %v", r.Duration)
	e.logger.Infof("Final equity: $%.2f (Return: %.2f%%, fees paid: $%.2f)",
		r.FinalEquity, r.TotalReturnPercent, r.TotalFeesPaid)
}

// Portfolio exposes the portfolio manager, mainly for inspection after a
// run
func (e *Engine) Portfolio() *PortfolioManager { return e.portfolio }

// Orders exposes the order manager
func (e *Engine) Orders() *OrderManager { return e.orders }

// Risk exposes the risk manager
func (e *Engine) Risk() *RiskManager { return e.risk }

// IsRunning reports whether a run is in progress
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}
