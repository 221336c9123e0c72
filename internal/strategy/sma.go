package strategy

import (
	"time"

	"github.com/cinar/indicator"

	"backsim/internal/logging"
	"backsim/internal/types"
)

// SMACross is a simple moving-average crossover strategy. A fast SMA
// crossing above the slow SMA opens a long; crossing back below closes it.
// It exists mainly to exercise the engine end to end.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	quantity   float64
	logger     *logging.Logger

	closes map[string][]float64
	long   map[string]bool
}

// NewSMACross creates a crossover strategy trading a fixed quantity per
// signal
func NewSMACross(fastPeriod, slowPeriod int, quantity float64) *SMACross {
	if fastPeriod >= slowPeriod {
		fastPeriod, slowPeriod = slowPeriod, fastPeriod
	}
	return &SMACross{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		quantity:   quantity,
		logger:     logging.NewComponentLogger("strategy"),
		closes:     make(map[string][]float64),
		long:       make(map[string]bool),
	}
}

// Name returns the strategy name
func (s *SMACross) Name() string {
	return "sma_cross"
}

// OnBar appends the new closes and emits a signal wherever the fast and
// slow SMAs crossed on this bar
func (s *SMACross) OnBar(at time.Time, bars map[string]types.Bar) []types.OrderRequest {
	var signals []types.OrderRequest

	for symbol, bar := range bars {
		s.closes[symbol] = append(s.closes[symbol], bar.Close)
		closes := s.closes[symbol]
		if len(closes) < s.slowPeriod+1 {
			continue
		}

		fast := indicator.Sma(s.fastPeriod, closes)
		slow := indicator.Sma(s.slowPeriod, closes)
		n := len(closes) - 1

		crossedUp := fast[n-1] <= slow[n-1] && fast[n] > slow[n]
		crossedDown := fast[n-1] >= slow[n-1] && fast[n] < slow[n]

		switch {
		case crossedUp && !s.long[symbol]:
			s.logger.Infof("%s: fast SMA crossed above slow at %.2f", symbol, bar.Close)
			signals = append(signals, types.OrderRequest{
				Symbol:    symbol,
				Side:      "buy",
				Quantity:  s.quantity,
				OrderType: "market",
				Timestamp: at,
			})
			s.long[symbol] = true
		case crossedDown && s.long[symbol]:
			s.logger.Infof("%s: fast SMA crossed below slow at %.2f", symbol, bar.Close)
			signals = append(signals, types.OrderRequest{
				Symbol:    symbol,
				Side:      "close",
				OrderType: "market",
				Timestamp: at,
			})
			s.long[symbol] = false
		}
	}
	return signals
}
