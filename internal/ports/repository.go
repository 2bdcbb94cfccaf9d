package ports

import (
	"context"

	"swingbot/internal/domain"
)

// StateRepository stores the durable snapshot of the state machine's belief.
// Save must replace the previous snapshot atomically: a crash mid-write may
// lose the most recent transition but never yields a partial record.
type StateRepository interface {
	// Load retrieves the persisted snapshot. Returns nil, nil when no state
	// has been saved yet (first run or after an operator reset).
	Load() (*domain.PersistedState, error)
	// Save atomically replaces the snapshot.
	Save(state *domain.PersistedState) error
	// Reset deletes the snapshot. Operator action only; this is the sole way
	// out of the FAULTED phase.
	Reset() error
	// Close releases the underlying store.
	Close() error
}

// TradeRepository defines the interface for the append-only journal of
// completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// CountTodayBySymbol counts the number of trades executed today for a given symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
	// TotalPNL sums the PNL over all recorded trades for a symbol.
	TotalPNL(ctx context.Context, symbol string) (float64, error)
}
