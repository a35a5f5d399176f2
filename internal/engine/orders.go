package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coinrich/coinrich/internal/exchange"
	"github.com/coinrich/coinrich/internal/notify"
	"github.com/coinrich/coinrich/internal/position"
	"github.com/coinrich/coinrich/internal/regime"
	"github.com/coinrich/coinrich/internal/strategy"
)

// openPosition submits the entry buy and records the fill.
func (e *Engine) openPosition(ctx context.Context, sig *strategy.Signal, label regime.Label) error {
	req := exchange.OrderRequest{
		Instrument: sig.Instrument,
		Side:       exchange.Buy,
		Quantity:   e.cfg.OrderQuantity,
	}
	res, err := e.submitOrder(ctx, req, strategy.ExitNone)
	if err != nil {
		return err
	}

	pos := position.Position{
		Instrument:         sig.Instrument,
		StrategyID:         sig.StrategyID,
		EntryPrice:         res.FillPrice,
		EntryTime:          res.FilledAt,
		Quantity:           req.Quantity,
		MaxPriceSinceEntry: res.FillPrice,
		EntryOrderID:       res.OrderID,
		EntryRegime:        label.String(),
	}
	if err := e.book.Open(pos); err != nil {
		return fmt.Errorf("engine: open position: %w", err)
	}
	e.metrics.OpenPositions.Set(float64(len(e.book.Instruments())))
	e.saveSnapshot(ctx)
	e.publish(notify.Event{
		Type:       notify.EventEntry,
		Instrument: sig.Instrument,
		At:         res.FilledAt,
		Message:    fmt.Sprintf("entered at %.2f (%s)", res.FillPrice, sig.Reason),
	})
	e.log.Info().
		Str("instrument", sig.Instrument).
		Str("order_id", res.OrderID).
		Float64("fill", res.FillPrice).
		Msg("position opened")
	return nil
}

// closePosition submits the exit sell, records the trade and feeds realized
// PnL to the risk gates.
func (e *Engine) closePosition(ctx context.Context, instrument string, reason strategy.ExitReason) error {
	pos, err := e.book.Get(instrument)
	if err != nil {
		return nil
	}
	req := exchange.OrderRequest{
		Instrument: instrument,
		Side:       exchange.Sell,
		Quantity:   pos.Quantity,
	}
	res, err := e.submitOrder(ctx, req, reason)
	if err != nil {
		return err
	}

	rec, err := e.book.Close(instrument, res.FillPrice, res.FilledAt, reason.String(), res.OrderID)
	if err != nil {
		return fmt.Errorf("engine: close position: %w", err)
	}
	e.metrics.OpenPositions.Set(float64(len(e.book.Instruments())))
	e.metrics.ExitsTotal.WithLabelValues(rec.ExitReason).Inc()

	if err := e.trades.Append(ctx, rec); err != nil {
		e.log.Error().Err(err).Msg("trade record append failed")
	}
	e.saveSnapshot(ctx)
	e.publish(notify.Event{
		Type:       notify.EventExit,
		Instrument: instrument,
		At:         res.FilledAt,
		Message:    fmt.Sprintf("exited at %.2f (%s, %.3f%%)", res.FillPrice, rec.ExitReason, rec.ReturnPct),
	})
	e.log.Info().
		Str("instrument", instrument).
		Str("reason", rec.ExitReason).
		Float64("return_pct", rec.ReturnPct).
		Msg("position closed")

	tripped := e.risk.RecordTrade(rec.ReturnPct)
	e.metrics.DailyPnLPct.Set(e.risk.State().DailyPnLPct)
	if tripped {
		e.onHalt(ctx, "daily loss limit")
	}
	return nil
}

// submitOrder runs the retry policy: up to OrderAttempts submissions spaced
// by RetryInterval. An unknown outcome goes straight to reconciliation and
// is never retried blindly, the order may have filled.
func (e *Engine) submitOrder(ctx context.Context, req exchange.OrderRequest, exitReason strategy.ExitReason) (exchange.OrderResult, error) {
	attempts := e.cfg.OrderAttempts
	if attempts <= 0 {
		attempts = 1
	}
	// One client order id across all retries so venues that honor it treat
	// a retried submit as the same order.
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := e.adapter.SubmitMarketOrder(ctx, req)
		if err == nil && res.Status == exchange.StatusFilled {
			e.risk.RecordOrderSuccess()
			e.metrics.OrdersTotal.WithLabelValues(req.Side.String(), "filled").Inc()
			return res, nil
		}

		if errors.Is(err, exchange.ErrRateLimited) {
			e.metrics.OrdersTotal.WithLabelValues(req.Side.String(), "rate_limited").Inc()
			if e.risk.RecordRateLimit() {
				e.onHalt(ctx, "rate limit retries exhausted")
				return exchange.OrderResult{}, fmt.Errorf("%w: rate limited", ErrOrderFailed)
			}
			return exchange.OrderResult{}, fmt.Errorf("%w: rate limited, cooling down", ErrOrderFailed)
		}

		if res.Status == exchange.StatusUnknown && res.OrderID != "" {
			e.metrics.OrdersTotal.WithLabelValues(req.Side.String(), "unknown").Inc()
			settled, rerr := e.reconcile(ctx, res.OrderID)
			if rerr == nil {
				e.risk.RecordOrderSuccess()
				e.metrics.OrdersTotal.WithLabelValues(req.Side.String(), "filled").Inc()
				return settled, nil
			}
			if errors.Is(rerr, ErrOrderUnknown) {
				// Still undetermined: park it and block further decisions
				// for the instrument until a later pass settles it.
				e.pending = &pendingOrder{req: req, orderID: res.OrderID, exitReason: exitReason}
				e.log.Error().Str("order_id", res.OrderID).Msg("order outcome unknown, blocking decisions")
				return exchange.OrderResult{}, rerr
			}
			lastErr = rerr
		} else {
			lastErr = err
			e.metrics.OrdersTotal.WithLabelValues(req.Side.String(), "failed").Inc()
		}

		e.log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Str("side", req.Side.String()).
			Msg("order attempt failed")
		if e.risk.RecordOrderFailure() {
			e.onHalt(ctx, "order failure limit")
			return exchange.OrderResult{}, fmt.Errorf("%w: failure limit reached", ErrOrderFailed)
		}

		if attempt < attempts {
			if err := e.clock.Sleep(ctx, e.cfg.RetryInterval); err != nil {
				return exchange.OrderResult{}, err
			}
		}
	}
	return exchange.OrderResult{}, fmt.Errorf("%w: %d attempts: %v", ErrOrderFailed, attempts, lastErr)
}

// reconcile polls the order status until it reaches a terminal state or the
// attempt budget runs out.
func (e *Engine) reconcile(ctx context.Context, orderID string) (exchange.OrderResult, error) {
	attempts := e.cfg.ReconcileAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := e.adapter.OrderStatus(ctx, orderID)
		if err == nil {
			switch res.Status {
			case exchange.StatusFilled:
				return res, nil
			case exchange.StatusFailed:
				return res, fmt.Errorf("%w: order %s rejected", ErrOrderFailed, orderID)
			}
		} else {
			e.log.Warn().Err(err).Str("order_id", orderID).Int("attempt", attempt).Msg("status poll failed")
		}
		if attempt < attempts {
			if err := e.clock.Sleep(ctx, e.cfg.ReconcileInterval); err != nil {
				return exchange.OrderResult{}, err
			}
		}
	}
	return exchange.OrderResult{}, fmt.Errorf("%w: order %s", ErrOrderUnknown, orderID)
}

// resolvePending settles a parked unknown order before any new decision.
// Returns an error while the outcome is still undetermined.
func (e *Engine) resolvePending(ctx context.Context) error {
	if e.pending == nil {
		return nil
	}
	p := e.pending
	res, err := e.adapter.OrderStatus(ctx, p.orderID)
	if err != nil {
		return fmt.Errorf("%w: order %s", ErrOrderUnknown, p.orderID)
	}
	switch res.Status {
	case exchange.StatusFilled:
		e.pending = nil
		e.risk.RecordOrderSuccess()
		if p.req.Side == exchange.Buy {
			pos := position.Position{
				Instrument:         p.req.Instrument,
				StrategyID:         e.strat.ID(),
				EntryPrice:         res.FillPrice,
				EntryTime:          res.FilledAt,
				Quantity:           p.req.Quantity,
				MaxPriceSinceEntry: res.FillPrice,
				EntryOrderID:       res.OrderID,
				EntryRegime:        e.classif.Committed().String(),
			}
			if err := e.book.Open(pos); err != nil {
				return fmt.Errorf("engine: open reconciled position: %w", err)
			}
		} else {
			rec, err := e.book.Close(p.req.Instrument, res.FillPrice, res.FilledAt, p.exitReason.String(), res.OrderID)
			if err == nil {
				if aerr := e.trades.Append(ctx, rec); aerr != nil {
					e.log.Error().Err(aerr).Msg("trade record append failed")
				}
				if e.risk.RecordTrade(rec.ReturnPct) {
					e.onHalt(ctx, "daily loss limit")
				}
			}
		}
		e.metrics.OpenPositions.Set(float64(len(e.book.Instruments())))
		e.saveSnapshot(ctx)
		e.log.Info().Str("order_id", p.orderID).Msg("pending order settled as filled")
		return nil
	case exchange.StatusFailed:
		e.pending = nil
		e.log.Warn().Str("order_id", p.orderID).Msg("pending order settled as failed")
		if e.risk.RecordOrderFailure() {
			e.onHalt(ctx, "order failure limit")
		}
		return nil
	default:
		return fmt.Errorf("%w: order %s", ErrOrderUnknown, p.orderID)
	}
}

// onHalt runs the halt side effects once: notify, count, force-close any
// open position. The sell bypasses submitOrder's gate interactions going
// through the same retry policy.
func (e *Engine) onHalt(ctx context.Context, cause string) {
	state := e.risk.State()
	e.metrics.HaltsTotal.WithLabelValues(state.Reason.String()).Inc()
	e.publish(notify.Event{
		Type:       notify.EventHalt,
		Instrument: e.cfg.Instrument,
		At:         e.clock.Now(),
		Message:    "trading halted: " + cause,
	})
	e.log.Error().Str("cause", cause).Msg("trading halted")

	if e.book.HasOpen(e.cfg.Instrument) {
		if err := e.closePosition(ctx, e.cfg.Instrument, strategy.ExitForced); err != nil {
			e.log.Error().Err(err).Msg("forced liquidation failed")
		}
	}
	e.saveSnapshot(ctx)
}
