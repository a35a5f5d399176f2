package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultWSURL = "wss://api.upbit.com/websocket/v1"

// TickerFeed streams trade prices over the venue websocket and caches the
// last price per instrument. The fast exit cadence reads the cache instead
// of hitting the REST ticker every second.
type TickerFeed struct {
	url         string
	instruments []string
	log         zerolog.Logger

	mu   sync.RWMutex
	last map[string]tick
}

type tick struct {
	price float64
	at    time.Time
}

// NewTickerFeed builds a feed for the given instruments.
func NewTickerFeed(wsURL string, instruments []string, log zerolog.Logger) *TickerFeed {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &TickerFeed{
		url:         wsURL,
		instruments: instruments,
		log:         log,
		last:        make(map[string]tick),
	}
}

type tickerMessage struct {
	Code       string  `json:"code"`
	TradePrice float64 `json:"trade_price"`
}

// Run connects and consumes ticker messages until the context is cancelled,
// reconnecting with a fixed backoff on any read error.
func (f *TickerFeed) Run(ctx context.Context) error {
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("ticker feed disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func (f *TickerFeed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("upbit: dial websocket: %w", err)
	}
	defer conn.Close()

	sub := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": f.instruments},
		map[string]string{"format": "SIMPLE_LIST"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("upbit: subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("upbit: read ticker: %w", err)
		}
		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// The venue mixes status frames into the stream; skip them.
			continue
		}
		if msg.Code == "" || msg.TradePrice <= 0 {
			continue
		}
		f.mu.Lock()
		f.last[msg.Code] = tick{price: msg.TradePrice, at: time.Now()}
		f.mu.Unlock()
	}
}

// Last returns the cached price and its age, or false when no tick has
// arrived yet.
func (f *TickerFeed) Last(instrument string) (float64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.last[instrument]
	return t.price, t.at, ok
}

// CachedSource wraps a REST client with the websocket price cache. Bars
// always come from REST; CurrentPrice prefers a fresh cached tick.
type CachedSource struct {
	*Client
	feed   *TickerFeed
	maxAge time.Duration
}

// NewCachedSource builds the combined source. Ticks older than maxAge fall
// back to the REST ticker.
func NewCachedSource(client *Client, feed *TickerFeed, maxAge time.Duration) *CachedSource {
	if maxAge == 0 {
		maxAge = 5 * time.Second
	}
	return &CachedSource{Client: client, feed: feed, maxAge: maxAge}
}

// CurrentPrice returns the cached websocket price when fresh enough.
func (s *CachedSource) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	if price, at, ok := s.feed.Last(instrument); ok && time.Since(at) <= s.maxAge {
		return price, nil
	}
	return s.Client.CurrentPrice(ctx, instrument)
}
