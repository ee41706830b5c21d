package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// Client implements a TickerStream over the Binance combined miniTicker
// WebSocket stream. Symbols are fixed at construction, the stream carries
// every configured pair on one connection.
type Client struct {
	wsURL          string
	exchange       string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger

	conn      *websocket.Conn
	connected bool
}

// New creates a new Binance ticker stream.
func New(wsURL string, symbols []string, reconnectDelay, pingInterval time.Duration, lgr *logger.Logger) drepo.TickerStream {
	return &Client{
		wsURL:          wsURL,
		exchange:       "binance",
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		logger:         lgr,
	}
}

// Connect establishes the WebSocket connection with all symbols subscribed
// through the combined stream URL.
func (c *Client) Connect(ctx context.Context) error {
	streams := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}
	u := fmt.Sprintf("%s/stream?streams=%s", c.wsURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("marketdata connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.logger.Info("marketdata stream connected",
		logger.Strings("symbols", c.symbols))
	return nil
}

type wsMiniTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Time   int64  `json:"E"` // ms
}

type wsMessage struct {
	Stream string       `json:"stream"`
	Data   wsMiniTicker `json:"data"`
}

// Read streams ticker updates and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.Ticker, <-chan error) {
	tickers := make(chan *models.Ticker, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(tickers)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("marketdata conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("marketdata read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-ticker frames
					continue
				}
				if m.Data.Symbol == "" {
					continue
				}
				price, err := decimal.NewFromString(m.Data.Close)
				if err != nil {
					continue
				}
				t := &models.Ticker{
					Exchange:  c.exchange,
					Symbol:    m.Data.Symbol,
					LastPrice: price,
					UpdatedAt: time.Unix(0, m.Data.Time*int64(time.Millisecond)).UTC(),
				}
				select {
				case tickers <- t:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return tickers, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	return c.Connect(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
