package ports

import (
	"context"

	"swingbot/internal/domain"
)

// BrokerPosition is the broker's view of an open position. It is ground truth
// for existence and quantity; derived bookkeeping (high-water mark, entry
// rule) lives only in the persisted state.
type BrokerPosition struct {
	Symbol     string
	Quantity   float64 // positive for long, negative for short
	EntryPrice float64 // average entry price
	MarkPrice  float64 // current mark/last price
}

// Broker defines the interface for the brokerage execution API. Only the
// resilient executor calls it directly; everything else goes through the
// executor's retry and classification layer.
type Broker interface {
	// GetBars retrieves the most recent bars for the symbol, oldest first.
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error)

	// GetAccountEquity retrieves the account's total equity in the quote asset.
	GetAccountEquity(ctx context.Context) (float64, error)

	// SubmitOrder places the order described by the intent and returns a weak
	// reference to it. The intent's ClientOrderID is passed to the broker as
	// the idempotency token.
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.BrokerOrderRef, error)

	// CancelOrder cancels an open order by its broker-assigned ID.
	CancelOrder(ctx context.Context, symbol, brokerOrderID string) error

	// ReplaceStopOrder moves an existing stop order to a new stop price.
	// Brokers without a native replace implement this as cancel + resubmit.
	ReplaceStopOrder(ctx context.Context, symbol string, ref domain.BrokerOrderRef, intent domain.OrderIntent) (*domain.BrokerOrderRef, error)

	// GetOrderByClientID retrieves an order by its client order ID regardless
	// of status, so a filled or cancelled order is still found. Returns
	// nil, nil when the broker has never seen the ID.
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*domain.BrokerOrderRef, error)

	// GetPosition retrieves the open position for the symbol.
	// Returns nil, nil when the broker holds no position.
	GetPosition(ctx context.Context, symbol string) (*BrokerPosition, error)

	// GetOpenOrders lists the currently open orders for the symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.BrokerOrderRef, error)
}
