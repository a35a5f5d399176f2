// Package exchange defines the execution boundary. The decision pipeline
// only ever talks to ExecutionAdapter; live, paper and backtest runs differ
// by which adapter is wired in, never by branching inside the pipeline.
package exchange

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimited is returned when the venue rejects the request for rate
// limiting. The caller backs off instead of retrying immediately.
var ErrRateLimited = errors.New("rate limited")

// Side is the order direction.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Status is the terminal state of an order as far as the caller knows.
type Status int

const (
	// StatusUnknown means the submit outcome could not be determined, for
	// example a timeout after the request left the process. The order must
	// be reconciled by polling, never assumed failed.
	StatusUnknown Status = iota
	StatusFilled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFilled:
		return "filled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OrderRequest is a market order. ClientOrderID makes retries idempotent on
// venues that support it.
type OrderRequest struct {
	Instrument    string
	Side          Side
	Quantity      float64
	ClientOrderID string
}

// OrderResult reports the order outcome. FillPrice and FilledAt are only
// meaningful for StatusFilled.
type OrderResult struct {
	Status    Status
	OrderID   string
	FillPrice float64
	FilledAt  time.Time
}

// ExecutionAdapter submits orders and answers status queries. SubmitMarketOrder
// returning an error with StatusUnknown means the outcome is genuinely
// unknown and OrderStatus must settle it.
type ExecutionAdapter interface {
	SubmitMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	OrderStatus(ctx context.Context, orderID string) (OrderResult, error)
}
