package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for an entry placed on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind represents the execution type of an order.
type OrderKind string

const (
	KindMarket     OrderKind = "MARKET"
	KindLimit      OrderKind = "LIMIT"
	KindStop       OrderKind = "STOP_MARKET"
	KindTakeProfit OrderKind = "TAKE_PROFIT_MARKET"
)

// OrderRole identifies which leg of a bracket an order belongs to.
type OrderRole string

const (
	RoleEntry      OrderRole = "ENTRY"
	RoleTakeProfit OrderRole = "TAKE_PROFIT"
	RoleStop       OrderRole = "STOP"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonSignal     CloseReason = "EXIT_SIGNAL"
	CloseReasonReconciled CloseReason = "RECONCILED"
	CloseReasonUnknown    CloseReason = "UNKNOWN"
)
