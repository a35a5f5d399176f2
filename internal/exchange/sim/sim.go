// Package sim is the deterministic execution adapter used by backtests and
// paper trading. Fills come from an injected quote source with configurable
// slippage, order ids are sequential, and there is no randomness anywhere,
// so the same inputs always produce the same trade log.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinrich/coinrich/internal/exchange"
)

// QuoteSource supplies the raw fill price for an instrument before slippage.
// Backtests serve next-bar opens; paper trading serves the live ticker.
type QuoteSource interface {
	FillPrice(instrument string, side exchange.Side) (float64, error)
}

// Clock supplies fill timestamps.
type Clock interface {
	Now() time.Time
}

// Adapter fills every order immediately at the quoted price adjusted by
// slippage. Buys fill above the quote, sells below.
type Adapter struct {
	mu          sync.Mutex
	quotes      QuoteSource
	clock       Clock
	slippageBps float64
	seq         int
	orders      map[string]exchange.OrderResult

	// failNext, when positive, fails that many submissions. Test hook for
	// the failure and reconciliation paths.
	failNext    int
	unknownNext int
}

// New builds a sim adapter.
func New(quotes QuoteSource, clock Clock, slippageBps float64) *Adapter {
	return &Adapter{
		quotes:      quotes,
		clock:       clock,
		slippageBps: slippageBps,
		orders:      make(map[string]exchange.OrderResult),
	}
}

// SubmitMarketOrder fills the order at the quoted price plus slippage and
// records it for later status queries.
func (a *Adapter) SubmitMarketOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	orderID := fmt.Sprintf("sim-%06d", a.seq)

	if a.failNext > 0 {
		a.failNext--
		res := exchange.OrderResult{Status: exchange.StatusFailed, OrderID: orderID}
		a.orders[orderID] = res
		return res, fmt.Errorf("sim: injected failure for %s", orderID)
	}

	price, err := a.quotes.FillPrice(req.Instrument, req.Side)
	if err != nil {
		res := exchange.OrderResult{Status: exchange.StatusFailed, OrderID: orderID}
		a.orders[orderID] = res
		return res, fmt.Errorf("sim: quote %s: %w", req.Instrument, err)
	}

	slip := price * a.slippageBps / 10000.0
	if req.Side == exchange.Buy {
		price += slip
	} else {
		price -= slip
	}

	res := exchange.OrderResult{
		Status:    exchange.StatusFilled,
		OrderID:   orderID,
		FillPrice: price,
		FilledAt:  a.clock.Now(),
	}
	a.orders[orderID] = res

	if a.unknownNext > 0 {
		a.unknownNext--
		return exchange.OrderResult{Status: exchange.StatusUnknown, OrderID: orderID},
			fmt.Errorf("sim: injected unknown outcome for %s", orderID)
	}
	return res, nil
}

// OrderStatus returns the recorded outcome.
func (a *Adapter) OrderStatus(_ context.Context, orderID string) (exchange.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.orders[orderID]
	if !ok {
		return exchange.OrderResult{}, fmt.Errorf("sim: unknown order %s", orderID)
	}
	return res, nil
}

// FailNext makes the next n submissions fail.
func (a *Adapter) FailNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = n
}

// UnknownNext makes the next n submissions fill but report an unknown
// outcome, exercising the reconciliation path.
func (a *Adapter) UnknownNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unknownNext = n
}
