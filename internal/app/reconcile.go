package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"swingbot/internal/domain"
	"swingbot/internal/ports"
	"swingbot/internal/risk"
)

// ReconcileOnStartup aligns the persisted snapshot with what the broker
// actually holds. The broker is ground truth for positions and orders; the
// snapshot contributes only what the broker cannot know (high-water mark,
// entry rule, timestamps). Running it twice with no intervening broker
// activity is a no-op.
func (s *Service) ReconcileOnStartup(ctx context.Context) (*domain.ReconciliationResult, error) {
	op := "reconcile"
	result := &domain.ReconciliationResult{ReconciledAt: time.Now().UTC()}

	persisted, err := s.stateRepo.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: loading snapshot: %w", ports.ErrPersistenceFailure, err)
	}

	brokerPos, err := s.exec.GetPosition(ctx, s.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: querying broker position: %w", op, err)
	}
	openOrders, err := s.exec.GetOpenOrders(ctx, s.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: querying open orders: %w", op, err)
	}

	if count, err := s.tradeRepo.CountTodayBySymbol(ctx, s.cfg.Symbol); err != nil {
		s.logger.Warn(ctx, op+": Could not count today's trades, limit starts at zero", map[string]interface{}{"error": err.Error()})
	} else {
		s.tradesToday = count
	}

	if persisted != nil && persisted.Phase == domain.PhaseFaulted {
		// FAULTED never auto-resumes; only an operator reset clears it.
		s.phase = domain.PhaseFaulted
		result.Phase = s.phase
		s.logger.Warn(ctx, op+": Persisted state is FAULTED, refusing to trade")
		return result, nil
	}

	switch {
	case brokerPos == nil:
		s.reconcileFlat(ctx, persisted, openOrders, result)
	case persisted == nil || persisted.Position == nil:
		if err := s.adoptPosition(ctx, brokerPos, openOrders, result); err != nil {
			return result, err
		}
	default:
		if err := s.reconcileOpen(ctx, persisted, brokerPos, openOrders, result); err != nil {
			return result, err
		}
	}

	s.lastReconciledAt = result.ReconciledAt
	result.Phase = s.phase
	if err := s.persist(ctx); err != nil {
		return result, err
	}

	s.logger.Info(ctx, op+": Reconciliation complete", map[string]interface{}{
		"phase": s.phase, "adopted": result.Adopted, "discrepancies": len(result.Discrepancies),
	})
	return result, nil
}

// reconcileFlat handles a flat broker account. Any persisted position was
// closed while the process was down; any lingering orders are strays.
func (s *Service) reconcileFlat(ctx context.Context, persisted *domain.PersistedState, openOrders []domain.BrokerOrderRef, result *domain.ReconciliationResult) {
	if persisted != nil && persisted.Position != nil {
		note := fmt.Sprintf("persisted %s position (qty %.4f) no longer exists at broker, dropping it",
			persisted.Phase, persisted.Position.Quantity)
		result.Discrepancies = append(result.Discrepancies, note)
		s.logger.Warn(ctx, "reconcile: "+note)
	} else if persisted != nil && persisted.Phase == domain.PhasePendingEntry {
		note := "entry was in flight at shutdown and never filled"
		result.Discrepancies = append(result.Discrepancies, note)
		s.logger.Warn(ctx, "reconcile: "+note)
	}

	// A flat account has no business holding protective orders.
	for _, ref := range openOrders {
		s.cancelLegWarn(ctx, ref)
		result.Discrepancies = append(result.Discrepancies,
			fmt.Sprintf("cancelled stray %s order %s on flat account", ref.Role, ref.BrokerOrderID))
	}

	s.clearPosition()
}

// adoptPosition takes over a broker position the snapshot knows nothing
// about. The high-water mark seeds conservatively from the current mark price
// so the ratchet resumes from observable reality.
func (s *Service) adoptPosition(ctx context.Context, brokerPos *ports.BrokerPosition, openOrders []domain.BrokerOrderRef, result *domain.ReconciliationResult) error {
	side := domain.Buy
	if brokerPos.Quantity < 0 {
		side = domain.Sell
	}
	qty := math.Abs(brokerPos.Quantity)

	hwm := brokerPos.MarkPrice
	if hwm <= 0 {
		hwm = brokerPos.EntryPrice
	}

	pos := &domain.Position{
		Symbol:        s.cfg.Symbol,
		Side:          side,
		Quantity:      qty,
		EntryPrice:    brokerPos.EntryPrice,
		EntryTime:     time.Now().UTC(),
		EntryRule:     domain.SignalRule("adopted"),
		HighWaterMark: hwm,
		Adopted:       true,
	}

	bracket := risk.BracketFor(side, brokerPos.EntryPrice, s.cfg.Risk)
	pos.CurrentStopPrice = bracket.StopPrice
	pos.TakeProfitPrice = bracket.TakeProfitPrice

	s.position = pos
	s.activeOrders = make(map[domain.OrderRole]domain.BrokerOrderRef)
	s.indexOpenOrders(openOrders)

	// An existing stop at the broker supersedes the recomputed level.
	if ref, ok := s.activeOrders[domain.RoleStop]; ok && ref.StopPrice > 0 {
		pos.CurrentStopPrice = ref.StopPrice
	}
	if ref, ok := s.activeOrders[domain.RoleTakeProfit]; ok && ref.StopPrice > 0 {
		pos.TakeProfitPrice = ref.StopPrice
	}

	if err := s.ensureProtection(ctx, result); err != nil {
		return err
	}

	s.phase = domain.PhaseOpen
	result.Adopted = true
	note := fmt.Sprintf("adopted untracked broker position: %s %.4f @ %.2f", side, qty, brokerPos.EntryPrice)
	result.Discrepancies = append(result.Discrepancies, note)
	s.logger.Warn(ctx, "reconcile: "+note)
	return nil
}

// reconcileOpen merges a persisted position with the broker's view of the
// same position. Quantity and orders come from the broker; high-water mark
// and provenance come from the snapshot.
func (s *Service) reconcileOpen(ctx context.Context, persisted *domain.PersistedState, brokerPos *ports.BrokerPosition, openOrders []domain.BrokerOrderRef, result *domain.ReconciliationResult) error {
	pos := persisted.Position
	brokerQty := math.Abs(brokerPos.Quantity)

	if math.Abs(pos.Quantity-brokerQty) > 1e-9 {
		note := fmt.Sprintf("quantity mismatch: snapshot %.4f, broker %.4f; broker wins", pos.Quantity, brokerQty)
		result.Discrepancies = append(result.Discrepancies, note)
		s.logger.Warn(ctx, "reconcile: "+note)
		pos.Quantity = brokerQty
	}

	// The mark may have run since shutdown; the high-water mark only ratchets
	// forward, never back.
	if pos.IsLong() && brokerPos.MarkPrice > pos.HighWaterMark {
		pos.HighWaterMark = brokerPos.MarkPrice
	} else if !pos.IsLong() && brokerPos.MarkPrice > 0 && brokerPos.MarkPrice < pos.HighWaterMark {
		pos.HighWaterMark = brokerPos.MarkPrice
	}

	s.position = pos
	s.activeOrders = make(map[domain.OrderRole]domain.BrokerOrderRef)
	s.indexOpenOrders(openOrders)

	// Prefer the refs the snapshot recorded when the broker still has them.
	for _, ref := range persisted.ActiveOrders {
		for _, live := range openOrders {
			if ref.BrokerOrderID != "" && ref.BrokerOrderID == live.BrokerOrderID {
				s.activeOrders[ref.Role] = live
			}
		}
	}

	if ref, ok := s.activeOrders[domain.RoleStop]; ok && ref.StopPrice > 0 {
		// The broker's live stop level is authoritative; it may sit above the
		// snapshot if a ratchet committed at the broker but not on disk.
		if risk.MoreProtective(pos.Side, ref.StopPrice, pos.CurrentStopPrice) {
			pos.CurrentStopPrice = ref.StopPrice
		}
	}

	if err := s.ensureProtection(ctx, result); err != nil {
		return err
	}

	s.phase = domain.PhaseOpen
	return nil
}

// ensureProtection re-creates missing bracket legs for the held position. A
// position that cannot get a stop order transitions to FAULTED; trading with
// an unprotected position is never an option.
func (s *Service) ensureProtection(ctx context.Context, result *domain.ReconciliationResult) error {
	pos := s.position
	closeSide := pos.Side.Opposite()

	if _, ok := s.activeOrders[domain.RoleStop]; !ok {
		s.logger.Warn(ctx, "reconcile: Stop leg missing at broker, re-creating", map[string]interface{}{
			"stopPrice": pos.CurrentStopPrice,
		})
		ref, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
			Symbol:    s.cfg.Symbol,
			Side:      closeSide,
			Quantity:  pos.Quantity,
			Kind:      domain.KindStop,
			Role:      domain.RoleStop,
			StopPrice: pos.CurrentStopPrice,
		})
		if err != nil {
			s.phase = domain.PhaseFaulted
			s.logger.Error(ctx, err, "reconcile: Could not restore stop protection, halting")
			if perr := s.persist(ctx); perr != nil {
				s.logger.Error(ctx, perr, "reconcile: Failed to persist FAULTED state")
			}
			s.exec.Notify(ctx, fmt.Sprintf("FAULTED: %s position has no stop and re-creation failed: %v", s.cfg.Symbol, err))
			return fmt.Errorf("%w: stop re-creation failed: %w", ports.ErrUnreconcilable, err)
		}
		s.activeOrders[domain.RoleStop] = *ref
		result.StopRestored = true
		result.Discrepancies = append(result.Discrepancies,
			fmt.Sprintf("re-created stop leg at %.2f", pos.CurrentStopPrice))
	}

	if _, ok := s.activeOrders[domain.RoleTakeProfit]; !ok {
		ref, err := s.exec.SubmitOrder(ctx, domain.OrderIntent{
			Symbol:    s.cfg.Symbol,
			Side:      closeSide,
			Quantity:  pos.Quantity,
			Kind:      domain.KindTakeProfit,
			Role:      domain.RoleTakeProfit,
			StopPrice: pos.TakeProfitPrice,
		})
		if err != nil {
			// The stop still protects the position; a missing target is an
			// inconvenience, not a hazard.
			s.logger.Warn(ctx, "reconcile: Could not re-create take-profit leg", map[string]interface{}{
				"takeProfit": pos.TakeProfitPrice, "error": err.Error(),
			})
			result.Discrepancies = append(result.Discrepancies, "take-profit leg missing and re-creation failed")
		} else {
			s.activeOrders[domain.RoleTakeProfit] = *ref
			result.Discrepancies = append(result.Discrepancies,
				fmt.Sprintf("re-created take-profit leg at %.2f", pos.TakeProfitPrice))
		}
	}

	return nil
}

// indexOpenOrders buckets live broker orders by their inferred role.
func (s *Service) indexOpenOrders(openOrders []domain.BrokerOrderRef) {
	for _, ref := range openOrders {
		switch ref.Role {
		case domain.RoleStop, domain.RoleTakeProfit:
			s.activeOrders[ref.Role] = ref
		}
	}
}
