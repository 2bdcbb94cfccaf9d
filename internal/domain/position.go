package domain

import "time"

// Position represents the single position the bot may hold. It is owned
// exclusively by the lifecycle state machine; no other component writes to it.
//
// CurrentStopPrice is monotonically non-decreasing for a long position (and
// non-increasing for a short one) for the lifetime of the position. The only
// code path allowed to move it is the trailing-stop ratchet.
type Position struct {
	Symbol           string     `json:"symbol"`
	Side             OrderSide  `json:"side"`
	Quantity         float64    `json:"quantity"`
	EntryPrice       float64    `json:"entry_price"`
	EntryTime        time.Time  `json:"entry_time"`
	EntryRule        SignalRule `json:"entry_rule,omitempty"`
	CurrentStopPrice float64    `json:"current_stop_price"`
	TakeProfitPrice  float64    `json:"take_profit_price"`
	HighWaterMark    float64    `json:"high_water_mark"`
	Adopted          bool       `json:"adopted,omitempty"` // true when recovered from the broker, not opened by us
}

// IsLong reports whether the position profits from rising prices.
func (p *Position) IsLong() bool {
	return p.Side == Buy
}
