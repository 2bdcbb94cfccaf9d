package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swingbot/internal/domain"
	"swingbot/internal/ports"
)

// RetryPolicy bounds the executor's retry loop.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first
	InitialDelay time.Duration // backoff before the second attempt
	MaxDelay     time.Duration // backoff cap
}

// Executor is the only component permitted to call the external brokerage.
// Every call is classified: retryable failures back off and retry up to the
// bounded attempt count, fatal failures surface immediately, and degradable
// failures (notifications) are logged and swallowed.
type Executor struct {
	broker   ports.Broker
	notifier ports.Notifier
	logger   ports.Logger
	policy   RetryPolicy
}

// New creates a new resilient executor. notifier may be nil when no
// notification sink is configured.
func New(broker ports.Broker, notifier ports.Notifier, logger ports.Logger, policy RetryPolicy) (*Executor, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker is required for executor")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for executor")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	return &Executor{broker: broker, notifier: notifier, logger: logger, policy: policy}, nil
}

// Retryable reports whether an error is worth another attempt. Anything not
// in the retryable set is fatal for the call: surfacing a misclassified error
// is recoverable, silently retrying a fatal one is not.
func Retryable(err error) bool {
	return errors.Is(err, ports.ErrBrokerUnavailable) ||
		errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrTimeout)
}

// do runs fn with exponential backoff. The backoff delay is the only
// suspension point; it honors ctx cancellation.
func (e *Executor) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := e.policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
		e.logger.Warn(ctx, "Broker call failed, will retry", map[string]interface{}{
			"operation":   op,
			"attempt":     attempt,
			"maxAttempts": e.policy.MaxAttempts,
			"error":       err.Error(),
		})
		if attempt == e.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted during backoff: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		}
		delay *= 2
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, e.policy.MaxAttempts, lastErr)
}

// GetBars fetches the most recent bars for the symbol, oldest first.
func (e *Executor) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := e.do(ctx, "GetBars", func(ctx context.Context) error {
		var err error
		bars, err = e.broker.GetBars(ctx, symbol, timeframe, limit)
		return err
	})
	return bars, err
}

// GetAccountEquity fetches the account's total equity.
func (e *Executor) GetAccountEquity(ctx context.Context) (float64, error) {
	var equity float64
	err := e.do(ctx, "GetAccountEquity", func(ctx context.Context) error {
		var err error
		equity, err = e.broker.GetAccountEquity(ctx)
		return err
	})
	return equity, err
}

// SubmitOrder places an order. A client order ID is assigned when the intent
// carries none, and before any retry the broker is asked for that ID: if the
// first attempt reached the broker despite the error, the existing order is
// adopted instead of resubmitted. The lookup covers filled and cancelled
// orders too, so a market order that executed before the response was lost is
// never placed a second time.
func (e *Executor) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = NewClientOrderID(intent.Role)
	}

	var ref *domain.BrokerOrderRef
	attempt := 0
	err := e.do(ctx, "SubmitOrder", func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			existing, lookupErr := e.broker.GetOrderByClientID(ctx, intent.Symbol, intent.ClientOrderID)
			if lookupErr != nil {
				// Cannot prove the previous attempt failed to land; do not
				// risk a duplicate submission.
				return lookupErr
			}
			if existing != nil {
				e.logger.Warn(ctx, "Previous submit attempt reached the broker; adopting existing order", map[string]interface{}{
					"clientOrderID": intent.ClientOrderID,
					"brokerOrderID": existing.BrokerOrderID,
				})
				ref = existing
				return nil
			}
		}
		r, err := e.broker.SubmitOrder(ctx, intent)
		if err != nil {
			return err
		}
		ref = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// CancelOrder cancels an open order by its broker-assigned ID.
func (e *Executor) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	return e.do(ctx, "CancelOrder", func(ctx context.Context) error {
		return e.broker.CancelOrder(ctx, symbol, brokerOrderID)
	})
}

// ReplaceStopOrder moves an existing stop order to the intent's stop price.
func (e *Executor) ReplaceStopOrder(ctx context.Context, symbol string, ref domain.BrokerOrderRef, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = NewClientOrderID(intent.Role)
	}
	var newRef *domain.BrokerOrderRef
	err := e.do(ctx, "ReplaceStopOrder", func(ctx context.Context) error {
		r, err := e.broker.ReplaceStopOrder(ctx, symbol, ref, intent)
		if err != nil {
			return err
		}
		newRef = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newRef, nil
}

// GetPosition fetches the broker's view of the open position, nil when flat.
func (e *Executor) GetPosition(ctx context.Context, symbol string) (*ports.BrokerPosition, error) {
	var pos *ports.BrokerPosition
	err := e.do(ctx, "GetPosition", func(ctx context.Context) error {
		var err error
		pos, err = e.broker.GetPosition(ctx, symbol)
		return err
	})
	return pos, err
}

// GetOpenOrders lists the currently open orders for the symbol.
func (e *Executor) GetOpenOrders(ctx context.Context, symbol string) ([]domain.BrokerOrderRef, error) {
	var orders []domain.BrokerOrderRef
	err := e.do(ctx, "GetOpenOrders", func(ctx context.Context) error {
		var err error
		orders, err = e.broker.GetOpenOrders(ctx, symbol)
		return err
	})
	return orders, err
}

// Notify dispatches a fire-and-forget notification. Failures are logged and
// swallowed; they must never abort or delay the trading path.
func (e *Executor) Notify(ctx context.Context, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, message); err != nil {
		e.logger.Warn(ctx, "Notification dispatch failed (ignored)", map[string]interface{}{"error": err.Error()})
	}
}
