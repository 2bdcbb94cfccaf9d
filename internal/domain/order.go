package domain

import "time"

// OrderIntent describes an order the state machine wants placed. Quantity is
// derived from the sizing calculator and current equity, never hard-coded.
type OrderIntent struct {
	Symbol        string
	Side          OrderSide
	Quantity      float64
	Kind          OrderKind
	Role          OrderRole
	LimitPrice    float64 // limit orders only
	StopPrice     float64 // stop and take-profit orders
	ClientOrderID string  // idempotency token, assigned by the executor
}

// BrokerOrderRef is a weak reference to an order living at the broker. The
// broker remains the source of truth for its fill/cancel status; holding a ref
// does not imply ownership of the order's lifecycle.
type BrokerOrderRef struct {
	BrokerOrderID   string    `json:"broker_order_id"`
	ClientOrderID   string    `json:"client_order_id,omitempty"`
	Role            OrderRole `json:"role"`
	StopPrice       float64   `json:"stop_price,omitempty"`
	AvgFillPrice    float64   `json:"avg_fill_price,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
	LastKnownStatus string    `json:"last_known_status,omitempty"`
}
