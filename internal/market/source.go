package market

import (
	"context"
	"time"
)

// Source supplies bars and live prices. The backtest replay source and the
// live exchange client both implement it; everything above this interface is
// shared between the two modes.
type Source interface {
	// Bars returns up to count trailing bars for the instrument at the given
	// interval, oldest first.
	Bars(ctx context.Context, instrument string, interval time.Duration, count int) (*Series, error)

	// CurrentPrice returns the latest trade price for the instrument.
	CurrentPrice(ctx context.Context, instrument string) (float64, error)
}
