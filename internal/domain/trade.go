package domain

import "time"

// Trade represents a completed round trip, recorded to the journal when a
// position is closed.
type Trade struct {
	ID          int64       // Unique identifier for the trade (usually from DB)
	Symbol      string      // Trading symbol (e.g., "BTCUSDT")
	Side        OrderSide   // Side of the entry order
	EntryPrice  float64     // Price at which the position was entered
	ExitPrice   float64     // Price at which the position was exited
	Quantity    float64     // Size of the position traded
	PNL         float64     // Profit and Loss for this trade
	EntryTime   time.Time   // Timestamp when the position was entered
	ExitTime    time.Time   // Timestamp when the position was exited
	EntryRule   SignalRule  // Rule that produced the entry signal
	CloseReason CloseReason // Reason why the position was closed (SL, TP, etc.)
}
