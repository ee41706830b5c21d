package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/0x556c79/deltabadger/internal/domain/models"
	drepo "github.com/0x556c79/deltabadger/internal/domain/repository"
	"github.com/0x556c79/deltabadger/internal/service/ratelimit"
	"github.com/0x556c79/deltabadger/pkg/logger"
)

// ExchangeName is the venue name bot configs reference.
const ExchangeName = "binance"

const (
	ordersPerSecond  = 5
	lookupsPerSecond = 10
	symbolInfoTTL    = time.Hour
)

// Client implements the Exchange capability for Binance spot. All calls go
// through a token bucket so a burst of due bots cannot trip the venue's
// request weight limits.
type Client struct {
	api     *binance.Client
	limiter *ratelimit.Limiter
	logger  *logger.Logger

	mu      sync.RWMutex
	symbols map[string]cachedSymbol
}

type cachedSymbol struct {
	info    binance.Symbol
	fetched time.Time
}

// NewClient creates a Binance spot client.
func NewClient(apiKey, apiSecret string, testnet bool, limiter *ratelimit.Limiter, lgr *logger.Logger) (*Client, error) {
	api := binance.NewClient(apiKey, apiSecret)
	if testnet {
		api.SetApiEndpoint("https://testnet.binance.vision")
	}

	return &Client{
		api:     api,
		limiter: limiter,
		logger:  lgr,
		symbols: make(map[string]cachedSymbol),
	}, nil
}

func (c *Client) Name() string { return ExchangeName }

// MarketBuy submits a quote-denominated market buy and returns the venue
// order ID.
func (c *Client) MarketBuy(ctx context.Context, symbol string, quoteAmount decimal.Decimal) (string, error) {
	if err := c.limiter.AllowWait(ctx, "binance:orders", ordersPerSecond, ordersPerSecond); err != nil {
		return "", err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("market buy %s: %w", symbol, err)
	}

	c.logger.Info("market order placed",
		logger.String("symbol", symbol),
		logger.String("quote_amount", quoteAmount.String()),
		logger.Int64("order_id", res.OrderID))
	return strconv.FormatInt(res.OrderID, 10), nil
}

// LimitBuy converts the quote amount into a base quantity at the given
// price, snaps both to the venue's step and tick sizes and submits a GTC
// limit buy.
func (c *Client) LimitBuy(ctx context.Context, symbol string, quoteAmount, price decimal.Decimal) (string, error) {
	if price.IsZero() {
		return "", fmt.Errorf("limit buy %s: zero price", symbol)
	}

	info, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		return "", err
	}

	qty := quoteAmount.Div(price)
	if f := info.LotSizeFilter(); f != nil {
		step, err := decimal.NewFromString(f.StepSize)
		if err != nil {
			return "", fmt.Errorf("parse step size: %w", err)
		}
		qty = snapDown(qty, step)
	}
	if f := info.PriceFilter(); f != nil {
		tick, err := decimal.NewFromString(f.TickSize)
		if err != nil {
			return "", fmt.Errorf("parse tick size: %w", err)
		}
		price = snapDown(price, tick)
	}
	if qty.IsZero() {
		return "", fmt.Errorf("limit buy %s: quantity rounds to zero", symbol)
	}

	if err := c.limiter.AllowWait(ctx, "binance:orders", ordersPerSecond, ordersPerSecond); err != nil {
		return "", err
	}

	res, err := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("limit buy %s: %w", symbol, err)
	}

	c.logger.Info("limit order placed",
		logger.String("symbol", symbol),
		logger.String("quantity", qty.String()),
		logger.String("price", price.String()),
		logger.Int64("order_id", res.OrderID))
	return strconv.FormatInt(res.OrderID, 10), nil
}

// Balances returns the free balance for each requested asset.
func (c *Client) Balances(ctx context.Context, assets []string) (map[string]decimal.Decimal, error) {
	if err := c.limiter.AllowWait(ctx, "binance:account", lookupsPerSecond, lookupsPerSecond); err != nil {
		return nil, err
	}

	account, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	wanted := make(map[string]bool, len(assets))
	for _, a := range assets {
		wanted[a] = true
	}

	out := make(map[string]decimal.Decimal, len(assets))
	for _, b := range account.Balances {
		if !wanted[b.Asset] {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s: %w", b.Asset, err)
		}
		out[b.Asset] = free
	}
	return out, nil
}

// TickerInfo loads the minimum order notional and last price for a symbol.
func (c *Client) TickerInfo(ctx context.Context, symbol string) (*models.Ticker, error) {
	info, err := c.symbolInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}

	minNotional := ""
	if f := info.NotionalFilter(); f != nil {
		minNotional = f.MinNotional
	} else if f := info.MinNotionalFilter(); f != nil {
		minNotional = f.MinNotional
	}
	minSize := decimal.Zero
	if minNotional != "" {
		if minSize, err = decimal.NewFromString(minNotional); err != nil {
			return nil, fmt.Errorf("parse min notional: %w", err)
		}
	}

	if err := c.limiter.AllowWait(ctx, "binance:market", lookupsPerSecond, lookupsPerSecond); err != nil {
		return nil, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list prices %s: %w", symbol, err)
	}

	last := decimal.Zero
	if len(prices) > 0 {
		if last, err = decimal.NewFromString(prices[0].Price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
	}

	return &models.Ticker{
		Exchange:     ExchangeName,
		Symbol:       symbol,
		MinQuoteSize: minSize,
		LastPrice:    last,
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

func (c *Client) symbolInfo(ctx context.Context, symbol string) (*binance.Symbol, error) {
	c.mu.RLock()
	cached, ok := c.symbols[symbol]
	c.mu.RUnlock()
	if ok && time.Since(cached.fetched) < symbolInfoTTL {
		return &cached.info, nil
	}

	if err := c.limiter.AllowWait(ctx, "binance:market", lookupsPerSecond, lookupsPerSecond); err != nil {
		return nil, err
	}
	res, err := c.api.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange info %s: %w", symbol, err)
	}
	if len(res.Symbols) == 0 {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}

	c.mu.Lock()
	c.symbols[symbol] = cachedSymbol{info: res.Symbols[0], fetched: time.Now()}
	c.mu.Unlock()

	info := res.Symbols[0]
	return &info, nil
}

// snapDown floors value to a multiple of step. A zero step leaves the value
// untouched.
func snapDown(value, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

var _ drepo.Exchange = (*Client)(nil)
