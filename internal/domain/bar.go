package domain

import "time"

// Bar represents a single OHLCV candlestick. Bars are immutable once produced
// and are always handled as an ordered sequence with strictly increasing
// timestamps.
type Bar struct {
	Timestamp time.Time // Start time of the interval
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
}
