package types

import (
	"time"
)

// Bar represents one OHLCV sample for one symbol at one timestamp
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// NewBar creates a new Bar instance
func NewBar(symbol string, timestamp time.Time, open, high, low, close, volume float64) Bar {
	return Bar{
		Symbol:    symbol,
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

// Range returns the intrabar price range (high - low)
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// TypicalPrice returns (high + low + close) / 3
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Contains reports whether price lies inside the bar's range
func (b Bar) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}

// IsValid checks the OHLC relationships hold
func (b Bar) IsValid() bool {
	if b.High < b.Low {
		return false
	}
	if b.High < b.Open || b.High < b.Close {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close {
		return false
	}
	return true
}
