package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"swingbot/internal/domain"
	"swingbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.Broker interface using the go-binance library
// against the USD-M futures API.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance broker adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// handleError translates Binance API errors into the standardized ports
// errors the executor classifies on.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature / API key / permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117,
			-1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015: // Parameter/format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2011, -2022: // Order rejected by the matching engine
			mappedErr = ports.ErrBrokerRejected
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005, -3041, -4047: // Margin/balance insufficient
			mappedErr = ports.ErrInsufficientFunds
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") ||
		strings.Contains(err.Error(), "i/o timeout") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrBrokerUnavailable, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetBars retrieves the most recent closed bars for the symbol, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	op := "GetBars"
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetAccountEquity retrieves total margin balance in the quote asset.
func (c *Client) GetAccountEquity(ctx context.Context) (float64, error) {
	op := "GetAccountEquity"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	equity, err := strconv.ParseFloat(account.TotalMarginBalance, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse margin balance '%s': %w", account.TotalMarginBalance, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return equity, nil
}

// SubmitOrder places the order described by the intent.
func (c *Client) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	op := "SubmitOrder"
	qty := strconv.FormatFloat(intent.Quantity, 'f', -1, 64)

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(futures.SideType(intent.Side)).
		Quantity(qty)
	if intent.ClientOrderID != "" {
		svc = svc.NewClientOrderID(intent.ClientOrderID)
	}

	switch intent.Kind {
	case domain.KindMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case domain.KindLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(strconv.FormatFloat(intent.LimitPrice, 'f', -1, 64)).
			TimeInForce(futures.TimeInForceTypeGTC)
	case domain.KindStop:
		svc = svc.Type(futures.OrderTypeStopMarket).
			StopPrice(strconv.FormatFloat(intent.StopPrice, 'f', -1, 64)).
			ClosePosition(true)
	case domain.KindTakeProfit:
		svc = svc.Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(strconv.FormatFloat(intent.StopPrice, 'f', -1, 64)).
			ClosePosition(true)
	default:
		return nil, fmt.Errorf("%s failed: %w: unsupported order kind %q", op, ports.ErrInvalidRequest, intent.Kind)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	ref := translateOrderResponse(order, intent.Role)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": intent.Symbol, "side": intent.Side, "kind": intent.Kind,
		"quantity": qty, "orderID": ref.BrokerOrderID, "status": ref.LastKnownStatus,
	})
	return ref, nil
}

// CancelOrder cancels an open order by its broker-assigned ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	op := "CancelOrder"
	orderID, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s failed: %w: malformed order ID %q", op, ports.ErrInvalidRequest, brokerOrderID)
	}

	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// ReplaceStopOrder moves a stop order to a new level. Binance futures has no
// native amend for stop orders, so this is cancel then resubmit. An order that
// disappeared between the decision and the cancel is treated as already gone.
func (c *Client) ReplaceStopOrder(ctx context.Context, symbol string, ref domain.BrokerOrderRef, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	op := "ReplaceStopOrder"
	if err := c.CancelOrder(ctx, symbol, ref.BrokerOrderID); err != nil {
		if !errors.Is(err, ports.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: cancelling old stop: %w", op, err)
		}
		c.logger.Warn(ctx, op+": Old stop already gone, placing replacement", map[string]interface{}{"orderID": ref.BrokerOrderID})
	}
	return c.SubmitOrder(ctx, intent)
}

// GetPosition retrieves the open position for the symbol.
// Returns nil, nil when the broker holds no position.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*ports.BrokerPosition, error) {
	op := "GetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": No position found for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	// One-way position mode: a single entry per symbol.
	binancePos := positions[0]
	qty, _ := strconv.ParseFloat(binancePos.PositionAmt, 64)
	if qty == 0 {
		c.logger.Debug(ctx, op+": Position amount is zero for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}
	entryPrice, _ := strconv.ParseFloat(binancePos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(binancePos.MarkPrice, 64)

	return &ports.BrokerPosition{
		Symbol:     binancePos.Symbol,
		Quantity:   qty,
		EntryPrice: entryPrice,
		MarkPrice:  markPrice,
	}, nil
}

// GetOpenOrders lists the currently open orders for the symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.BrokerOrderRef, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	refs := make([]domain.BrokerOrderRef, 0, len(orders))
	for _, o := range orders {
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		refs = append(refs, domain.BrokerOrderRef{
			BrokerOrderID:   strconv.FormatInt(o.OrderID, 10),
			ClientOrderID:   o.ClientOrderID,
			Role:            roleFromOrderType(o.Type),
			StopPrice:       stopPrice,
			SubmittedAt:     time.UnixMilli(o.Time),
			LastKnownStatus: string(o.Status),
		})
	}
	return refs, nil
}

// GetOrderByClientID queries an order by its client order ID. Binance returns
// filled and cancelled orders from this endpoint too, which is what makes the
// executor's duplicate-submit check sound: an entry that filled before the
// response was lost is still found here. Returns nil, nil when the ID is
// unknown to the broker.
func (c *Client) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*domain.BrokerOrderRef, error) {
	op := "GetOrderByClientID"
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		translated := c.handleError(ctx, err, op)
		if errors.Is(translated, ports.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, translated
	}

	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	stopPrice, _ := strconv.ParseFloat(order.StopPrice, 64)
	return &domain.BrokerOrderRef{
		BrokerOrderID:   strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Role:            roleFromOrderType(order.Type),
		StopPrice:       stopPrice,
		AvgFillPrice:    avgPrice,
		SubmittedAt:     time.UnixMilli(order.Time),
		LastKnownStatus: string(order.Status),
	}, nil
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse, role domain.OrderRole) *domain.BrokerOrderRef {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	stopPrice, _ := strconv.ParseFloat(order.StopPrice, 64)

	return &domain.BrokerOrderRef{
		BrokerOrderID:   strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Role:            role,
		StopPrice:       stopPrice,
		AvgFillPrice:    avgPrice,
		SubmittedAt:     time.UnixMilli(order.UpdateTime),
		LastKnownStatus: string(order.Status),
	}
}

func roleFromOrderType(t futures.OrderType) domain.OrderRole {
	switch t {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		return domain.RoleStop
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		return domain.RoleTakeProfit
	default:
		return domain.RoleEntry
	}
}

func translateKline(k *futures.Kline) (domain.Bar, error) {
	if k == nil {
		return domain.Bar{}, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return domain.Bar{
		Timestamp: time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
