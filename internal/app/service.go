package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swingbot/internal/domain"
	"swingbot/internal/executor"
	"swingbot/internal/indicator"
	"swingbot/internal/ports"
	"swingbot/internal/risk"
)

// Config holds the parameters the lifecycle service needs beyond its
// injected collaborators.
type Config struct {
	Symbol          string
	Timeframe       string
	Risk            risk.Parameters
	MaxTradesPerDay int // 0 disables the daily limit
}

// Service owns the order lifecycle state machine: it is the single writer of
// the Position and the persisted snapshot, and the only component that
// decides transitions. All broker access goes through the resilient executor;
// the indicator engine and sizing calculator are pure functions over the
// inputs each tick supplies.
//
// One tick runs to completion before the next begins, so no locking is needed
// beyond the caller's promise not to call OnTick concurrently.
type Service struct {
	cfg       Config
	logger    ports.Logger
	exec      *executor.Executor
	engine    *indicator.Engine
	stateRepo ports.StateRepository
	tradeRepo ports.TradeRepository

	phase            domain.Phase
	position         *domain.Position
	activeOrders     map[domain.OrderRole]domain.BrokerOrderRef
	lastReconciledAt time.Time
	tradesToday      int
}

// New creates the lifecycle service.
func New(cfg Config, logger ports.Logger, exec *executor.Executor, engine *indicator.Engine,
	stateRepo ports.StateRepository, tradeRepo ports.TradeRepository) (*Service, error) {

	if logger == nil || exec == nil || engine == nil || stateRepo == nil || tradeRepo == nil {
		return nil, fmt.Errorf("missing required dependencies for lifecycle service")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk parameters: %w", err)
	}

	return &Service{
		cfg:          cfg,
		logger:       logger,
		exec:         exec,
		engine:       engine,
		stateRepo:    stateRepo,
		tradeRepo:    tradeRepo,
		phase:        domain.PhaseIdle,
		activeOrders: make(map[domain.OrderRole]domain.BrokerOrderRef),
	}, nil
}

// Phase returns the state machine's current phase.
func (s *Service) Phase() domain.Phase { return s.phase }

// Position returns the currently held position, nil when flat.
func (s *Service) Position() *domain.Position { return s.position }

// MinBars returns how many bars each tick must supply.
func (s *Service) MinBars() int { return s.engine.MinBars() }

// OnTick runs one full evaluation: signal detection, entry/exit handling, and
// the trailing-stop ratchet. Every state transition is persisted before the
// tick returns.
func (s *Service) OnTick(ctx context.Context, bars []domain.Bar, equity float64) (domain.TickOutcome, error) {
	outcome := domain.TickOutcome{Action: domain.ActionNone, Phase: s.phase}

	if s.phase == domain.PhaseFaulted {
		s.logger.Warn(ctx, "State machine is FAULTED; no trading until an operator clears the state")
		outcome.Action = domain.ActionHalted
		return outcome, nil
	}
	if len(bars) == 0 {
		return outcome, fmt.Errorf("%w: tick received no bars", ports.ErrDataUnavailable)
	}

	event, err := s.engine.Evaluate(ctx, bars)
	if err != nil {
		// Malformed data is fatal for this tick only.
		s.logger.Error(ctx, err, "Signal evaluation failed, skipping tick")
		return outcome, err
	}
	outcome.Signal = event
	currentPrice := bars[len(bars)-1].Close

	switch s.phase {
	case domain.PhaseOpen:
		return s.tickOpen(ctx, outcome, event, currentPrice)
	case domain.PhaseIdle:
		return s.tickIdle(ctx, outcome, event, currentPrice, equity)
	default:
		// PENDING_* phases complete within a tick; seeing one here means a
		// crash interrupted a transition and reconciliation has not run.
		s.logger.Warn(ctx, "Tick in transient phase, awaiting reconciliation", map[string]interface{}{"phase": s.phase})
		return outcome, nil
	}
}

func (s *Service) tickIdle(ctx context.Context, outcome domain.TickOutcome, event *domain.SignalEvent, price, equity float64) (domain.TickOutcome, error) {
	if event == nil {
		return outcome, nil
	}
	if event.Kind == domain.SignalExit {
		s.logger.Debug(ctx, "Exit signal with no open position, ignored", map[string]interface{}{"rule": event.Rule})
		return outcome, nil
	}

	if s.cfg.MaxTradesPerDay > 0 && s.tradesToday >= s.cfg.MaxTradesPerDay {
		s.logger.Warn(ctx, "Entry signal ignored: daily trade limit reached", map[string]interface{}{
			"tradesToday": s.tradesToday, "limit": s.cfg.MaxTradesPerDay,
		})
		return outcome, nil
	}

	if err := s.enterPosition(ctx, event, price, equity); err != nil {
		if errors.Is(err, ports.ErrDegenerateRisk) {
			// Sizing impossible: skip the entry, never round up.
			s.logger.Warn(ctx, "Entry skipped: sizing produced no tradable quantity", map[string]interface{}{
				"equity": equity, "price": price, "error": err.Error(),
			})
			outcome.Phase = s.phase
			return outcome, nil
		}
		outcome.Phase = s.phase
		return outcome, err
	}
	outcome.Action = domain.ActionEntered
	outcome.Phase = s.phase
	return outcome, nil
}

func (s *Service) tickOpen(ctx context.Context, outcome domain.TickOutcome, event *domain.SignalEvent, price float64) (domain.TickOutcome, error) {
	// The broker is the source of truth for fills: a vanished position means
	// a protective leg filled since the last tick.
	brokerPos, err := s.exec.GetPosition(ctx, s.cfg.Symbol)
	if err != nil {
		s.logger.Error(ctx, err, "Could not verify position at broker, skipping tick")
		return outcome, err
	}
	if brokerPos == nil {
		if err := s.finalizeProtectiveExit(ctx, price); err != nil {
			return outcome, err
		}
		outcome.Action = domain.ActionExited
		outcome.Phase = s.phase
		return outcome, nil
	}

	if event != nil && event.Kind == domain.SignalEntry {
		// Guard invariant: at most one non-IDLE lifecycle per symbol.
		s.logger.Info(ctx, "Entry signal while position open, ignored", map[string]interface{}{"rule": event.Rule})
	}

	if event != nil && event.Kind == domain.SignalExit {
		if err := s.exitPosition(ctx, price, domain.CloseReasonSignal); err != nil {
			return outcome, err
		}
		outcome.Action = domain.ActionExited
		outcome.Phase = s.phase
		return outcome, nil
	}

	raised, err := s.ratchetStop(ctx, price)
	if err != nil {
		// The prior stop order is still live and still protective; the
		// position is never left unprotected by a failed ratchet.
		s.logger.Warn(ctx, "Stop ratchet failed, prior stop remains active", map[string]interface{}{
			"currentStop": s.position.CurrentStopPrice, "error": err.Error(),
		})
	}
	if raised {
		outcome.Action = domain.ActionRaisedStop
	}
	outcome.Phase = s.phase
	return outcome, nil
}

// enterPosition sizes the trade, submits the entry order, and attaches the
// protective bracket legs. Any leg failure triggers an emergency close so a
// position never lives without its stop.
func (s *Service) enterPosition(ctx context.Context, event *domain.SignalEvent, price, equity float64) error {
	op := "enterPosition"

	bracket := risk.BracketFor(domain.Buy, price, s.cfg.Risk)
	quantity, err := risk.Size(equity, s.cfg.Risk.RiskFraction, price, bracket.StopPrice)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, op+": Entry signal accepted", map[string]interface{}{
		"rule": event.Rule, "price": price, "quantity": quantity,
		"stop": bracket.StopPrice, "takeProfit": bracket.TakeProfitPrice,
	})

	entryIntent := domain.OrderIntent{
		Symbol:        s.cfg.Symbol,
		Side:          domain.Buy,
		Quantity:      quantity,
		Kind:          domain.KindMarket,
		Role:          domain.RoleEntry,
		ClientOrderID: executor.NewClientOrderID(domain.RoleEntry),
	}

	// Record the in-flight submission before the broker call so a crash never
	// leaves a submitted order with no trace.
	s.phase = domain.PhasePendingEntry
	s.activeOrders[domain.RoleEntry] = domain.BrokerOrderRef{
		ClientOrderID:   entryIntent.ClientOrderID,
		Role:            domain.RoleEntry,
		SubmittedAt:     time.Now().UTC(),
		LastKnownStatus: "SUBMITTING",
	}
	if err := s.persist(ctx); err != nil {
		s.phase = domain.PhaseIdle
		delete(s.activeOrders, domain.RoleEntry)
		return err
	}

	entryRef, err := s.exec.SubmitOrder(ctx, entryIntent)
	if err != nil {
		// Rejection is non-fatal: return to IDLE, the signal can re-fire.
		s.logger.Error(ctx, err, op+": Entry order failed, returning to IDLE")
		s.phase = domain.PhaseIdle
		delete(s.activeOrders, domain.RoleEntry)
		if perr := s.persist(ctx); perr != nil {
			return perr
		}
		return fmt.Errorf("entry order failed: %w", err)
	}

	fillPrice := refFillPrice(entryRef, price)
	// Bracket levels anchor on the actual fill, not the signal-time price.
	bracket = risk.BracketFor(domain.Buy, fillPrice, s.cfg.Risk)
	delete(s.activeOrders, domain.RoleEntry)

	closeSide := domain.Buy.Opposite()
	stopRef, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
		Symbol:    s.cfg.Symbol,
		Side:      closeSide,
		Quantity:  quantity,
		Kind:      domain.KindStop,
		Role:      domain.RoleStop,
		StopPrice: bracket.StopPrice,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to place stop leg")
		s.logger.Warn(ctx, op+": Attempting emergency close; a position must not live without a stop")
		s.emergencyClose(ctx, closeSide, quantity)
		s.phase = domain.PhaseIdle
		if perr := s.persist(ctx); perr != nil {
			return perr
		}
		return fmt.Errorf("stop leg failed after entry: %w (emergency close attempted)", err)
	}

	tpRef, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
		Symbol:    s.cfg.Symbol,
		Side:      closeSide,
		Quantity:  quantity,
		Kind:      domain.KindTakeProfit,
		Role:      domain.RoleTakeProfit,
		StopPrice: bracket.TakeProfitPrice,
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to place take-profit leg")
		s.cancelLegWarn(ctx, *stopRef)
		s.logger.Warn(ctx, op+": Attempting emergency close after take-profit failure")
		s.emergencyClose(ctx, closeSide, quantity)
		s.phase = domain.PhaseIdle
		s.activeOrders = make(map[domain.OrderRole]domain.BrokerOrderRef)
		if perr := s.persist(ctx); perr != nil {
			return perr
		}
		return fmt.Errorf("take-profit leg failed after entry: %w (emergency close attempted)", err)
	}

	s.position = &domain.Position{
		Symbol:           s.cfg.Symbol,
		Side:             domain.Buy,
		Quantity:         quantity,
		EntryPrice:       fillPrice,
		EntryTime:        time.Now().UTC(),
		EntryRule:        event.Rule,
		CurrentStopPrice: bracket.StopPrice,
		TakeProfitPrice:  bracket.TakeProfitPrice,
		HighWaterMark:    fillPrice,
	}
	s.activeOrders[domain.RoleStop] = *stopRef
	s.activeOrders[domain.RoleTakeProfit] = *tpRef
	s.phase = domain.PhaseOpen
	s.tradesToday++

	if err := s.persist(ctx); err != nil {
		return err
	}

	s.logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"entryPrice": fillPrice, "quantity": quantity,
		"stop": bracket.StopPrice, "takeProfit": bracket.TakeProfitPrice,
	})
	s.exec.Notify(ctx, fmt.Sprintf("ENTRY %s: %.4f @ %.2f (rule %s, stop %.2f, target %.2f)",
		s.cfg.Symbol, quantity, fillPrice, event.Rule, bracket.StopPrice, bracket.TakeProfitPrice))
	return nil
}

// ratchetStop recomputes the high-water mark and raises the broker-side stop
// when the candidate level is strictly more protective. This is the only code
// path that mutates CurrentStopPrice, and it never moves the stop away from
// the price.
func (s *Service) ratchetStop(ctx context.Context, price float64) (bool, error) {
	pos := s.position
	if pos.IsLong() && price > pos.HighWaterMark {
		pos.HighWaterMark = price
	} else if !pos.IsLong() && price < pos.HighWaterMark {
		pos.HighWaterMark = price
	}

	candidate := risk.CandidateStop(pos.Side, pos.HighWaterMark, s.cfg.Risk)
	if !risk.MoreProtective(pos.Side, candidate, pos.CurrentStopPrice) {
		return false, nil
	}

	stopRef, ok := s.activeOrders[domain.RoleStop]
	if !ok {
		return false, fmt.Errorf("%w: no active stop order to ratchet", ports.ErrUnreconcilable)
	}

	newRef, err := s.exec.ReplaceStopOrder(ctx, s.cfg.Symbol, stopRef, domain.OrderIntent{
		Symbol:    s.cfg.Symbol,
		Side:      pos.Side.Opposite(),
		Quantity:  pos.Quantity,
		Kind:      domain.KindStop,
		Role:      domain.RoleStop,
		StopPrice: candidate,
	})
	if err != nil {
		// Exhausted retries leave the prior, still-protective stop in place.
		return false, err
	}

	prior := pos.CurrentStopPrice
	pos.CurrentStopPrice = candidate
	s.activeOrders[domain.RoleStop] = *newRef
	if err := s.persist(ctx); err != nil {
		return false, err
	}

	s.logger.Info(ctx, "Trailing stop raised", map[string]interface{}{
		"from": prior, "to": candidate, "highWaterMark": pos.HighWaterMark,
	})
	return true, nil
}

// exitPosition closes the position with a market order and cancels any
// surviving bracket legs. A confirmed exit always cancels siblings
// unconditionally.
func (s *Service) exitPosition(ctx context.Context, price float64, reason domain.CloseReason) error {
	op := "exitPosition"
	pos := s.position

	s.phase = domain.PhasePendingExit
	if err := s.persist(ctx); err != nil {
		s.phase = domain.PhaseOpen
		return err
	}

	closeRef, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
		Symbol:   s.cfg.Symbol,
		Side:     pos.Side.Opposite(),
		Quantity: pos.Quantity,
		Kind:     domain.KindMarket,
		Role:     domain.RoleEntry,
	})
	if err != nil {
		// Close failed: the position stays open and the bracket legs still
		// protect it. Revert and let a later tick (or leg fill) finish the job.
		s.logger.Error(ctx, err, op+": Closing order failed, position remains open and protected")
		s.phase = domain.PhaseOpen
		if perr := s.persist(ctx); perr != nil {
			return perr
		}
		return fmt.Errorf("closing order failed: %w", err)
	}

	exitPrice := refFillPrice(closeRef, price)
	for _, role := range []domain.OrderRole{domain.RoleStop, domain.RoleTakeProfit} {
		if ref, ok := s.activeOrders[role]; ok {
			s.cancelLegWarn(ctx, ref)
		}
	}

	s.recordTrade(ctx, exitPrice, reason)
	s.clearPosition()
	if err := s.persist(ctx); err != nil {
		return err
	}

	s.logger.Info(ctx, op+": Position closed", map[string]interface{}{"exitPrice": exitPrice, "reason": reason})
	s.exec.Notify(ctx, fmt.Sprintf("EXIT %s @ %.2f (%s)", s.cfg.Symbol, exitPrice, reason))
	return nil
}

// finalizeProtectiveExit handles an exit the broker already executed: a stop
// or take-profit leg filled between ticks. The surviving sibling is cancelled
// and the trade journaled from the leg's known level.
func (s *Service) finalizeProtectiveExit(ctx context.Context, price float64) error {
	pos := s.position
	reason := domain.CloseReasonUnknown
	exitPrice := price

	// Infer which leg filled from where the price sits relative to the legs.
	if pos.IsLong() && price <= pos.CurrentStopPrice {
		reason = domain.CloseReasonStopLoss
		exitPrice = pos.CurrentStopPrice
	} else if pos.IsLong() && price >= pos.TakeProfitPrice {
		reason = domain.CloseReasonTakeProfit
		exitPrice = pos.TakeProfitPrice
	}

	s.logger.Info(ctx, "Broker reports position closed by protective leg", map[string]interface{}{
		"reason": reason, "exitPrice": exitPrice,
	})

	s.phase = domain.PhasePendingExit
	for _, role := range []domain.OrderRole{domain.RoleStop, domain.RoleTakeProfit} {
		if ref, ok := s.activeOrders[role]; ok {
			s.cancelLegWarn(ctx, ref)
		}
	}

	s.recordTrade(ctx, exitPrice, reason)
	s.clearPosition()
	if err := s.persist(ctx); err != nil {
		return err
	}
	s.exec.Notify(ctx, fmt.Sprintf("EXIT %s @ %.2f (%s, filled at broker)", s.cfg.Symbol, exitPrice, reason))
	return nil
}

// emergencyClose flattens exposure on the broker side when bracket placement
// fails mid-entry. Purely a safety mechanism; state is handled by the caller.
func (s *Service) emergencyClose(ctx context.Context, closeSide domain.OrderSide, quantity float64) {
	_, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
		Symbol:   s.cfg.Symbol,
		Side:     closeSide,
		Quantity: quantity,
		Kind:     domain.KindMarket,
		Role:     domain.RoleEntry,
	})
	if err != nil {
		s.logger.Error(ctx, err, "EMERGENCY CLOSE FAILED; manual intervention likely required")
		s.exec.Notify(ctx, fmt.Sprintf("EMERGENCY CLOSE FAILED for %s: %v", s.cfg.Symbol, err))
	}
}

// cancelLegWarn cancels a bracket leg, tolerating orders that already filled
// or were cancelled.
func (s *Service) cancelLegWarn(ctx context.Context, ref domain.BrokerOrderRef) {
	if ref.BrokerOrderID == "" {
		return
	}
	if err := s.exec.CancelOrder(ctx, s.cfg.Symbol, ref.BrokerOrderID); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Debug(ctx, "Leg already gone at broker", map[string]interface{}{"orderID": ref.BrokerOrderID, "role": ref.Role})
			return
		}
		s.logger.Warn(ctx, "Failed to cancel bracket leg", map[string]interface{}{
			"orderID": ref.BrokerOrderID, "role": ref.Role, "error": err.Error(),
		})
	}
}

func (s *Service) recordTrade(ctx context.Context, exitPrice float64, reason domain.CloseReason) {
	pos := s.position
	pnl := (exitPrice - pos.EntryPrice) * pos.Quantity
	if !pos.IsLong() {
		pnl = -pnl
	}
	trade := &domain.Trade{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		PNL:         pnl,
		EntryTime:   pos.EntryTime,
		ExitTime:    time.Now().UTC(),
		EntryRule:   pos.EntryRule,
		CloseReason: reason,
	}
	if _, err := s.tradeRepo.CreateTrade(ctx, trade); err != nil {
		// The journal is bookkeeping, not state: log and continue.
		s.logger.Error(ctx, err, "Failed to journal completed trade", map[string]interface{}{"pnl": pnl})
	}
}

func (s *Service) clearPosition() {
	s.position = nil
	s.activeOrders = make(map[domain.OrderRole]domain.BrokerOrderRef)
	s.phase = domain.PhaseIdle
}

// persist writes the current snapshot atomically. A transition that cannot be
// durably recorded is not treated as committed: the error propagates and the
// tick fails.
func (s *Service) persist(ctx context.Context) error {
	snapshot := &domain.PersistedState{
		Version:          domain.StateVersion,
		Symbol:           s.cfg.Symbol,
		Phase:            s.phase,
		Position:         s.position,
		LastReconciledAt: s.lastReconciledAt,
		UpdatedAt:        time.Now().UTC(),
	}
	for _, ref := range s.activeOrders {
		snapshot.ActiveOrders = append(snapshot.ActiveOrders, ref)
	}
	if err := s.stateRepo.Save(snapshot); err != nil {
		s.logger.Error(ctx, err, "Failed to persist state snapshot")
		return fmt.Errorf("%w: %w", ports.ErrPersistenceFailure, err)
	}
	return nil
}

// refFillPrice returns the broker-reported average fill, falling back to the
// supplied price when the broker reported none.
func refFillPrice(ref *domain.BrokerOrderRef, fallback float64) float64 {
	if ref != nil && ref.AvgFillPrice > 0 {
		return ref.AvgFillPrice
	}
	return fallback
}
