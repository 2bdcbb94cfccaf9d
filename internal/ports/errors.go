package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors so
// the core can classify failures without knowing the transport.
var (
	// General errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Data and sizing errors (absorbed locally, the tick ends with no action)
	ErrInvalidSeries   = errors.New("bar series is malformed")
	ErrDegenerateRisk  = errors.New("risk parameters produce no tradable quantity")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Broker errors
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrBrokerRejected       = errors.New("broker rejected the order")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found at the broker")

	// State errors
	ErrUnreconcilable     = errors.New("persisted state cannot be reconciled with the broker")
	ErrPersistenceFailure = errors.New("state snapshot could not be durably recorded")
)
