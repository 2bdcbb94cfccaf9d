package ports

import "context"

// Notifier sends fire-and-forget event notifications. Delivery is degradable:
// a failure is logged and swallowed, never retried on the trading path.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
