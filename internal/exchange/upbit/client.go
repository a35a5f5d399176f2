// Package upbit is the live execution adapter and market data source for the
// Upbit spot exchange. All requests flow through a shared rate limiter and a
// circuit breaker; a 429 from the venue surfaces as exchange.ErrRateLimited
// so the risk gates can back off.
package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coinrich/coinrich/internal/exchange"
	"github.com/coinrich/coinrich/internal/market"
)

const defaultBaseURL = "https://api.upbit.com/v1"

// Config holds client settings.
type Config struct {
	BaseURL     string        `yaml:"base_url"`
	Credentials Credentials   `yaml:"credentials"`
	Timeout     time.Duration `yaml:"timeout"`
	// RequestsPerSecond caps the private endpoint rate. The venue allows 8
	// order requests per second; stay under it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultConfig returns conservative client defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           defaultBaseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
	}
}

// Client talks to the venue REST API. It implements exchange.ExecutionAdapter
// and market.Source.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient builds a client with the shared limiter and breaker.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upbit",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: breaker,
		log:     log,
	}
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("upbit: http %d: %s", e.status, e.body)
}

// do runs one request through the limiter and breaker. signed requests carry
// the JWT bearer token.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("upbit: limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.cfg.BaseURL + path
		if len(query) > 0 && method == http.MethodGet {
			u += "?" + query.Encode()
		}
		var body io.Reader
		if method != http.MethodGet && len(query) > 0 {
			body = strings.NewReader(query.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		if method != http.MethodGet {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if signed {
			token, err := authToken(c.cfg.Credentials, query)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, exchange.ErrRateLimited
		}
		if resp.StatusCode >= 400 {
			return nil, &apiError{status: resp.StatusCode, body: string(raw)}
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

type orderResponse struct {
	UUID           string `json:"uuid"`
	State          string `json:"state"`
	ExecutedVolume string `json:"executed_volume"`
	Trades         []struct {
		Price  string `json:"price"`
		Volume string `json:"volume"`
	} `json:"trades"`
	CreatedAt string `json:"created_at"`
}

// SubmitMarketOrder places a market order. Buys are priced in quote currency,
// so the current price is fetched to convert the requested quantity; sells
// send the base volume directly. The venue fills asynchronously, so the
// result is StatusUnknown with the order id and OrderStatus must settle it.
func (c *Client) SubmitMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	q := url.Values{}
	q.Set("market", req.Instrument)
	if req.ClientOrderID != "" {
		q.Set("identifier", req.ClientOrderID)
	}
	switch req.Side {
	case exchange.Buy:
		price, err := c.CurrentPrice(ctx, req.Instrument)
		if err != nil {
			return exchange.OrderResult{Status: exchange.StatusFailed}, fmt.Errorf("upbit: price for buy sizing: %w", err)
		}
		q.Set("side", "bid")
		q.Set("ord_type", "price")
		q.Set("price", strconv.FormatFloat(req.Quantity*price, 'f', -1, 64))
	case exchange.Sell:
		q.Set("side", "ask")
		q.Set("ord_type", "market")
		q.Set("volume", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	}

	raw, err := c.do(ctx, http.MethodPost, "/orders", q, true)
	if err != nil {
		status := exchange.StatusFailed
		// Timeouts and transport errors leave the outcome undetermined.
		if ctx.Err() != nil || isTransport(err) {
			status = exchange.StatusUnknown
		}
		return exchange.OrderResult{Status: status}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return exchange.OrderResult{Status: exchange.StatusUnknown}, fmt.Errorf("upbit: decode order: %w", err)
	}
	// Accepted but not yet filled; the caller polls OrderStatus.
	return exchange.OrderResult{Status: exchange.StatusUnknown, OrderID: resp.UUID}, nil
}

// OrderStatus polls one order and maps the venue state to a terminal status.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (exchange.OrderResult, error) {
	q := url.Values{}
	q.Set("uuid", orderID)

	raw, err := c.do(ctx, http.MethodGet, "/order", q, true)
	if err != nil {
		return exchange.OrderResult{Status: exchange.StatusUnknown, OrderID: orderID}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return exchange.OrderResult{Status: exchange.StatusUnknown, OrderID: orderID}, fmt.Errorf("upbit: decode order status: %w", err)
	}

	executed, _ := strconv.ParseFloat(resp.ExecutedVolume, 64)
	switch resp.State {
	case "done":
		return exchange.OrderResult{
			Status:    exchange.StatusFilled,
			OrderID:   resp.UUID,
			FillPrice: avgFillPrice(resp),
			FilledAt:  time.Now(),
		}, nil
	case "cancel":
		// Market orders settle as cancel once the remainder is voided; a
		// nonzero executed volume means it filled.
		if executed > 0 {
			return exchange.OrderResult{
				Status:    exchange.StatusFilled,
				OrderID:   resp.UUID,
				FillPrice: avgFillPrice(resp),
				FilledAt:  time.Now(),
			}, nil
		}
		return exchange.OrderResult{Status: exchange.StatusFailed, OrderID: resp.UUID}, nil
	default:
		return exchange.OrderResult{Status: exchange.StatusUnknown, OrderID: resp.UUID}, nil
	}
}

func avgFillPrice(resp orderResponse) float64 {
	var notional, volume float64
	for _, tr := range resp.Trades {
		p, _ := strconv.ParseFloat(tr.Price, 64)
		v, _ := strconv.ParseFloat(tr.Volume, 64)
		notional += p * v
		volume += v
	}
	if volume == 0 {
		return 0
	}
	return notional / volume
}

type candleResponse struct {
	CandleDateTimeUTC string  `json:"candle_date_time_utc"`
	OpeningPrice      float64 `json:"opening_price"`
	HighPrice         float64 `json:"high_price"`
	LowPrice          float64 `json:"low_price"`
	TradePrice        float64 `json:"trade_price"`
	CandleAccVolume   float64 `json:"candle_acc_trade_volume"`
}

// Bars fetches trailing minute candles and returns them oldest first.
func (c *Client) Bars(ctx context.Context, instrument string, interval time.Duration, count int) (*market.Series, error) {
	unit := int(interval / time.Minute)
	if unit < 1 {
		unit = 1
	}
	q := url.Values{}
	q.Set("market", instrument)
	q.Set("count", strconv.Itoa(count))

	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/candles/minutes/%d", unit), q, false)
	if err != nil {
		return nil, err
	}
	var resp []candleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("upbit: decode candles: %w", err)
	}

	candles := make([]market.Candle, 0, len(resp))
	for _, cr := range resp {
		ts, err := time.Parse("2006-01-02T15:04:05", cr.CandleDateTimeUTC)
		if err != nil {
			return nil, fmt.Errorf("upbit: parse candle time %q: %w", cr.CandleDateTimeUTC, err)
		}
		candles = append(candles, market.Candle{
			Timestamp: ts.UTC(),
			Open:      cr.OpeningPrice,
			High:      cr.HighPrice,
			Low:       cr.LowPrice,
			Close:     cr.TradePrice,
			Volume:    cr.CandleAccVolume,
		})
	}
	// The venue returns newest first.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return market.NewSeries(instrument, interval, candles)
}

type tickerResponse struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

// CurrentPrice fetches the latest trade price.
func (c *Client) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	q := url.Values{}
	q.Set("markets", instrument)

	raw, err := c.do(ctx, http.MethodGet, "/ticker", q, false)
	if err != nil {
		return 0, err
	}
	var resp []tickerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("upbit: decode ticker: %w", err)
	}
	if len(resp) == 0 {
		return 0, fmt.Errorf("upbit: no ticker for %s", instrument)
	}
	return resp[0].TradePrice, nil
}

// isTransport reports whether an error left the order outcome undetermined.
// A venue-level rejection or an open breaker never reached the matching
// engine; anything else may have.
func isTransport(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, exchange.ErrRateLimited) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests)
}
