package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// LoadCSV reads a candle series from a CSV file with the header
// timestamp,open,high,low,close,volume. Timestamps are RFC3339 or unix
// seconds.
func LoadCSV(path, instrument string, interval time.Duration) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	header := true
	var candles []Candle
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read candle row: %w", err)
		}
		if header {
			header = false
			if _, err := strconv.ParseFloat(rec[1], 64); err != nil {
				continue // skip header row
			}
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(candles)+1, err)
		}
		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", len(candles)+1, i+1, err)
			}
			vals[i] = v
		}
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	return NewSeries(instrument, interval, candles)
}

func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}
