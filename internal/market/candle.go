package market

import (
	"errors"
	"fmt"
	"time"
)

// ErrInsufficientData is returned when a computation needs more bars than the
// series holds. Callers skip the current evaluation instead of treating a
// short window as a value.
var ErrInsufficientData = errors.New("insufficient data")

// Candle is a single OHLCV bar. Immutable once produced.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an ordered candle sequence for one instrument at a fixed
// interval. Timestamps are strictly increasing; Append enforces it.
type Series struct {
	Instrument string
	Interval   time.Duration
	candles    []Candle
}

// NewSeries validates ordering and wraps the candles. The slice is retained,
// not copied.
func NewSeries(instrument string, interval time.Duration, candles []Candle) (*Series, error) {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return nil, fmt.Errorf("candle %d: timestamp %s not after %s",
				i, candles[i].Timestamp.Format(time.RFC3339), candles[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return &Series{Instrument: instrument, Interval: interval, candles: candles}, nil
}

// Append adds a bar to the end of the series.
func (s *Series) Append(c Candle) error {
	if n := len(s.candles); n > 0 && !c.Timestamp.After(s.candles[n-1].Timestamp) {
		return fmt.Errorf("candle timestamp %s not after %s",
			c.Timestamp.Format(time.RFC3339), s.candles[n-1].Timestamp.Format(time.RFC3339))
	}
	s.candles = append(s.candles, c)
	return nil
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.candles) }

// At returns the bar at index i.
func (s *Series) At(i int) Candle { return s.candles[i] }

// Last returns the most recent bar.
func (s *Series) Last() (Candle, error) {
	if len(s.candles) == 0 {
		return Candle{}, ErrInsufficientData
	}
	return s.candles[len(s.candles)-1], nil
}

// Candles returns the underlying bars. The slice must be treated as
// read-only.
func (s *Series) Candles() []Candle { return s.candles }

// Closes returns the close prices in order.
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.candles))
	for i, c := range s.candles {
		closes[i] = c.Close
	}
	return closes
}

// Tail returns a view of the trailing n bars. Evaluation code only ever sees
// trailing slices, which rules out lookahead by construction.
func (s *Series) Tail(n int) *Series {
	candles := s.candles
	if len(candles) > n {
		candles = candles[len(candles)-n:]
	}
	return &Series{Instrument: s.Instrument, Interval: s.Interval, candles: candles}
}

// Truncate returns a view of the first n bars.
func (s *Series) Truncate(n int) *Series {
	candles := s.candles
	if len(candles) > n {
		candles = candles[:n]
	}
	return &Series{Instrument: s.Instrument, Interval: s.Interval, candles: candles}
}

// AverageVolume returns the mean volume of the n bars preceding the latest
// bar. The latest bar itself is excluded so the caller can compare it against
// its own trailing baseline.
func (s *Series) AverageVolume(n int) (float64, error) {
	if len(s.candles) < n+1 {
		return 0, ErrInsufficientData
	}
	prior := s.candles[len(s.candles)-1-n : len(s.candles)-1]
	sum := 0.0
	for _, c := range prior {
		sum += c.Volume
	}
	return sum / float64(n), nil
}

// PriorDayHigh returns the highest trade price of the calendar day before
// now, in the given location.
func (s *Series) PriorDayHigh(now time.Time, loc *time.Location) (float64, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	priorStart := dayStart.AddDate(0, 0, -1)

	high := 0.0
	found := false
	for _, c := range s.candles {
		ts := c.Timestamp.In(loc)
		if ts.Before(priorStart) || !ts.Before(dayStart) {
			continue
		}
		if !found || c.High > high {
			high = c.High
			found = true
		}
	}
	if !found {
		return 0, ErrInsufficientData
	}
	return high, nil
}
