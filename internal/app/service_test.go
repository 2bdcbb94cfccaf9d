package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingbot/internal/domain"
	"swingbot/internal/executor"
	"swingbot/internal/indicator"
	"swingbot/internal/ports"
	"swingbot/internal/risk"
)

// Mock implementations

type mockLogger struct {
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockBroker scripts order outcomes per role. submitErrs entries are consumed
// one per SubmitOrder call for that role.
type mockBroker struct {
	position    *ports.BrokerPosition
	positionErr error
	openOrders  []domain.BrokerOrderRef
	submitted   []domain.OrderIntent
	submitErrs  map[domain.OrderRole][]error
	replaceErr  error
	cancelled   []string
	cancelErrs  map[string]error
	nextID      int
}

func (m *mockBroker) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	return nil, nil
}

func (m *mockBroker) GetAccountEquity(ctx context.Context) (float64, error) {
	return 10000, nil
}

func (m *mockBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	m.submitted = append(m.submitted, intent)
	if errs := m.submitErrs[intent.Role]; len(errs) > 0 {
		err := errs[0]
		m.submitErrs[intent.Role] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.nextID++
	return &domain.BrokerOrderRef{
		BrokerOrderID: fmt.Sprintf("order-%d", m.nextID),
		ClientOrderID: intent.ClientOrderID,
		Role:          intent.Role,
		StopPrice:     intent.StopPrice,
	}, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	m.cancelled = append(m.cancelled, brokerOrderID)
	return m.cancelErrs[brokerOrderID]
}

func (m *mockBroker) ReplaceStopOrder(ctx context.Context, symbol string, ref domain.BrokerOrderRef, intent domain.OrderIntent) (*domain.BrokerOrderRef, error) {
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	return m.SubmitOrder(ctx, intent)
}

func (m *mockBroker) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*domain.BrokerOrderRef, error) {
	for _, ref := range m.openOrders {
		if ref.ClientOrderID == clientOrderID {
			found := ref
			return &found, nil
		}
	}
	return nil, nil
}

func (m *mockBroker) GetPosition(ctx context.Context, symbol string) (*ports.BrokerPosition, error) {
	return m.position, m.positionErr
}

func (m *mockBroker) GetOpenOrders(ctx context.Context, symbol string) ([]domain.BrokerOrderRef, error) {
	return m.openOrders, nil
}

type mockStateRepo struct {
	state   *domain.PersistedState
	loadErr error
	saveErr error
	saves   int
}

func (m *mockStateRepo) Load() (*domain.PersistedState, error) {
	return m.state, m.loadErr
}

func (m *mockStateRepo) Save(state *domain.PersistedState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = state
	return nil
}

func (m *mockStateRepo) Reset() error {
	m.state = nil
	return nil
}

func (m *mockStateRepo) Close() error { return nil }

type mockTradeRepo struct {
	trades     []*domain.Trade
	createErr  error
	countToday int
	countErr   error
}

func (m *mockTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.trades = append(m.trades, trade)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return m.trades, nil
}

func (m *mockTradeRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return m.countToday, m.countErr
}

func (m *mockTradeRepo) TotalPNL(ctx context.Context, symbol string) (float64, error) {
	var total float64
	for _, t := range m.trades {
		total += t.PNL
	}
	return total, nil
}

// Test helpers

func testRisk() risk.Parameters {
	return risk.Parameters{RiskFraction: 0.01, StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.03}
}

func testBars(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    100,
		}
	}
	return bars
}

type testHarness struct {
	service   *Service
	broker    *mockBroker
	stateRepo *mockStateRepo
	tradeRepo *mockTradeRepo
	logger    *mockLogger
}

func newHarness(t *testing.T, maxTrades int) *testHarness {
	t.Helper()
	broker := &mockBroker{submitErrs: map[domain.OrderRole][]error{}, cancelErrs: map[string]error{}}
	stateRepo := &mockStateRepo{}
	tradeRepo := &mockTradeRepo{}
	logger := &mockLogger{}

	exec, err := executor.New(broker, nil, logger, executor.RetryPolicy{
		MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond,
	})
	require.NoError(t, err)

	engine, err := indicator.New(indicator.Config{
		ShortSMAPeriod: 1, LongSMAPeriod: 2,
		RSIPeriod: 2, RSIOversold: 30, RSIOverbought: 70,
		MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		BollingerPeriod: 20, BollingerStdDev: 2.0, SqueezeThreshold: 4.0,
		Rules: []domain.SignalRule{domain.RuleRSIRecovery},
	}, logger)
	require.NoError(t, err)

	service, err := New(Config{
		Symbol:          "ETHUSDT",
		Timeframe:       "1h",
		Risk:            testRisk(),
		MaxTradesPerDay: maxTrades,
	}, logger, exec, engine, stateRepo, tradeRepo)
	require.NoError(t, err)

	return &testHarness{service: service, broker: broker, stateRepo: stateRepo, tradeRepo: tradeRepo, logger: logger}
}

// entryBars fires an RSI recovery: two straight losses park RSI at zero, then
// a strong gain pulls it up through the oversold line.
func entryBars() []domain.Bar { return testBars(10, 8, 6, 10) }

// enter drives the harness through a complete entry at price 10.
func (h *testHarness) enter(t *testing.T) {
	t.Helper()
	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.NoError(t, err)
	require.Equal(t, domain.ActionEntered, outcome.Action)
	// The broker now reports the position our entry created.
	h.broker.position = &ports.BrokerPosition{Symbol: "ETHUSDT", Quantity: 500, EntryPrice: 10, MarkPrice: 10}
}

func TestOnTickEntry(t *testing.T) {
	h := newHarness(t, 0)

	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionEntered, outcome.Action)
	assert.Equal(t, domain.PhaseOpen, outcome.Phase)
	require.NotNil(t, outcome.Signal)
	assert.Equal(t, domain.RuleRSIRecovery, outcome.Signal.Rule)

	// 1% of 10000 = 100 risked; stop 2% below entry 10 = 0.2 per unit -> 500
	pos := h.service.Position()
	require.NotNil(t, pos)
	assert.Equal(t, 500.0, pos.Quantity)
	assert.InDelta(t, 10.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 9.8, pos.CurrentStopPrice, 1e-9)
	assert.InDelta(t, 10.3, pos.TakeProfitPrice, 1e-9)
	assert.InDelta(t, 10.0, pos.HighWaterMark, 1e-9)

	// Entry market order, then stop leg, then take-profit leg.
	require.Len(t, h.broker.submitted, 3)
	assert.Equal(t, domain.KindMarket, h.broker.submitted[0].Kind)
	assert.Equal(t, domain.Buy, h.broker.submitted[0].Side)
	assert.Equal(t, domain.KindStop, h.broker.submitted[1].Kind)
	assert.Equal(t, domain.Sell, h.broker.submitted[1].Side)
	assert.InDelta(t, 9.8, h.broker.submitted[1].StopPrice, 1e-9)
	assert.Equal(t, domain.KindTakeProfit, h.broker.submitted[2].Kind)
	assert.InDelta(t, 10.3, h.broker.submitted[2].StopPrice, 1e-9)

	// Every transition was persisted and the final snapshot is OPEN.
	require.NotNil(t, h.stateRepo.state)
	assert.Equal(t, domain.PhaseOpen, h.stateRepo.state.Phase)
	assert.Len(t, h.stateRepo.state.ActiveOrders, 2)
}

func TestOnTickEntrySkippedWhenSizingDegenerate(t *testing.T) {
	h := newHarness(t, 0)

	// 1% of 15 = 0.15 risked against a 0.2 stop distance floors to zero.
	outcome, err := h.service.OnTick(context.Background(), entryBars(), 15)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, outcome.Action)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	assert.Empty(t, h.broker.submitted)
}

func TestOnTickEntryRejectionReturnsToIdle(t *testing.T) {
	h := newHarness(t, 0)
	h.broker.submitErrs[domain.RoleEntry] = []error{ports.ErrInsufficientFunds}

	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrInsufficientFunds))
	assert.Equal(t, domain.ActionNone, outcome.Action)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	assert.Nil(t, h.service.Position())
	assert.Equal(t, domain.PhaseIdle, h.stateRepo.state.Phase)
}

func TestOnTickStopLegFailureTriggersEmergencyClose(t *testing.T) {
	h := newHarness(t, 0)
	h.broker.submitErrs[domain.RoleStop] = []error{ports.ErrBrokerRejected}

	_, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.Error(t, err)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	assert.Nil(t, h.service.Position())

	// Entry, failed stop, then the emergency market close.
	require.Len(t, h.broker.submitted, 3)
	assert.Equal(t, domain.KindMarket, h.broker.submitted[2].Kind)
	assert.Equal(t, domain.Sell, h.broker.submitted[2].Side)
}

func TestOnTickTakeProfitFailureCancelsStopAndCloses(t *testing.T) {
	h := newHarness(t, 0)
	h.broker.submitErrs[domain.RoleTakeProfit] = []error{ports.ErrBrokerRejected}

	_, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.Error(t, err)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	// The freshly placed stop leg was cancelled before the emergency close.
	assert.NotEmpty(t, h.broker.cancelled)
	require.Len(t, h.broker.submitted, 4)
	assert.Equal(t, domain.KindMarket, h.broker.submitted[3].Kind)
}

func TestTrailingStopRatchet(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)
	ctx := context.Background()

	// Price pushes up to 11: candidate 11 * 0.97 = 10.67 beats 9.8.
	outcome, err := h.service.OnTick(ctx, testBars(10, 8, 6, 10, 11), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRaisedStop, outcome.Action)
	assert.InDelta(t, 10.67, h.service.Position().CurrentStopPrice, 1e-9)
	assert.InDelta(t, 11.0, h.service.Position().HighWaterMark, 1e-9)

	// A small pullback: the high-water mark holds, the candidate equals the
	// current stop, nothing moves.
	outcome, err = h.service.OnTick(ctx, testBars(10, 8, 6, 10, 11, 10.9), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, outcome.Action)
	assert.InDelta(t, 10.67, h.service.Position().CurrentStopPrice, 1e-9)
	assert.InDelta(t, 11.0, h.service.Position().HighWaterMark, 1e-9)
}

func TestTrailingStopSurvivesReplaceFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)
	h.broker.replaceErr = ports.ErrBrokerRejected

	outcome, err := h.service.OnTick(context.Background(), testBars(10, 8, 6, 10, 11), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, outcome.Action)
	assert.Equal(t, domain.PhaseOpen, h.service.Phase())
	// The prior stop is untouched; the position is never left unprotected.
	assert.InDelta(t, 9.8, h.service.Position().CurrentStopPrice, 1e-9)
	assert.NotEmpty(t, h.logger.warnMsgs)
}

func TestOnTickExitSignal(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)
	ctx := context.Background()

	// Ride up to 12 first (ratchets the stop).
	_, err := h.service.OnTick(ctx, testBars(10, 8, 6, 10, 12), 10000)
	require.NoError(t, err)

	// Then RSI falls back through the overbought line: exit.
	outcome, err := h.service.OnTick(ctx, testBars(10, 8, 6, 10, 12, 11), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExited, outcome.Action)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	assert.Nil(t, h.service.Position())

	// The close order went out and both bracket legs were cancelled.
	last := h.broker.submitted[len(h.broker.submitted)-1]
	assert.Equal(t, domain.KindMarket, last.Kind)
	assert.Equal(t, domain.Sell, last.Side)
	assert.Len(t, h.broker.cancelled, 2)

	// The trade was journaled with the exit-signal reason.
	require.Len(t, h.tradeRepo.trades, 1)
	trade := h.tradeRepo.trades[0]
	assert.Equal(t, domain.CloseReasonSignal, trade.CloseReason)
	assert.InDelta(t, (11.0-10.0)*500, trade.PNL, 1e-6)
}

func TestOnTickProtectiveLegFill(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)

	// The broker no longer holds the position: the take-profit leg filled
	// between ticks (price at or above the target).
	h.broker.position = nil
	outcome, err := h.service.OnTick(context.Background(), testBars(10, 8, 6, 10, 10.4), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExited, outcome.Action)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())

	require.Len(t, h.tradeRepo.trades, 1)
	trade := h.tradeRepo.trades[0]
	assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
	assert.InDelta(t, 10.3, trade.ExitPrice, 1e-9)
	// The surviving sibling legs were cancelled.
	assert.Len(t, h.broker.cancelled, 2)
}

func TestOnTickStopFillBetweenTicks(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)

	h.broker.position = nil
	outcome, err := h.service.OnTick(context.Background(), testBars(10, 8, 6, 10, 9.7), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExited, outcome.Action)

	require.Len(t, h.tradeRepo.trades, 1)
	trade := h.tradeRepo.trades[0]
	assert.Equal(t, domain.CloseReasonStopLoss, trade.CloseReason)
	assert.InDelta(t, 9.8, trade.ExitPrice, 1e-9)
	assert.Negative(t, trade.PNL)
}

func TestDailyTradeLimit(t *testing.T) {
	h := newHarness(t, 1)
	h.enter(t)

	// Position closes at the broker.
	h.broker.position = nil
	_, err := h.service.OnTick(context.Background(), testBars(10, 8, 6, 10, 10.4), 10000)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseIdle, h.service.Phase())

	// A fresh entry signal fires, but the daily limit is already spent.
	before := len(h.broker.submitted)
	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, outcome.Action)
	assert.Equal(t, domain.PhaseIdle, h.service.Phase())
	assert.Len(t, h.broker.submitted, before, "no order may be placed past the daily limit")
}

func TestOnTickFaultedHalts(t *testing.T) {
	h := newHarness(t, 0)
	h.service.phase = domain.PhaseFaulted

	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHalted, outcome.Action)
	assert.Empty(t, h.broker.submitted)
}

func TestOnTickNoBars(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.service.OnTick(context.Background(), nil, 10000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrDataUnavailable))
}

func TestOnTickPersistenceFailureSurfaces(t *testing.T) {
	h := newHarness(t, 0)
	h.stateRepo.saveErr = errors.New("disk full")

	_, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrPersistenceFailure))
	// The entry never reached the broker: the pending transition could not
	// be recorded first.
	assert.Empty(t, h.broker.submitted)
}

func TestEntrySignalIgnoredWhileOpen(t *testing.T) {
	h := newHarness(t, 0)
	h.enter(t)

	before := len(h.broker.submitted)
	outcome, err := h.service.OnTick(context.Background(), entryBars(), 10000)
	require.NoError(t, err)
	assert.NotEqual(t, domain.ActionEntered, outcome.Action)
	assert.Equal(t, domain.PhaseOpen, h.service.Phase())
	// No second entry: only at most a stop replace may have gone out.
	for _, intent := range h.broker.submitted[before:] {
		assert.NotEqual(t, domain.RoleEntry, intent.Role)
	}
}
