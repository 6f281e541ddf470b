// Package kalshi implements venue.Client against the Kalshi trade API:
// RSA-PSS request signing, a resty REST client for orders/positions/fills,
// and a gorilla/websocket orderbook feed backing quote reads. The Fills
// API is treated as the authoritative fill record per §4.7's note that an
// order response can under-report a partial fill.
package kalshi

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

const unboundedBalance = 1e12 // Kalshi has no on-chain asset to cap sells against.

// Client is the Kalshi adapter satisfying venue.Client.
type Client struct {
	http           *resty.Client
	privKey        *rsa.PrivateKey
	accessKeyID    string
	basePathPrefix string
	feed           *wsFeed
	cache          *quoteCache
	dryRun         bool
	logger         *slog.Logger

	mu      sync.RWMutex
	mapping types.IntervalMapping
}

// New constructs a Client and starts its background orderbook feed
// goroutine, bound to ctx.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Client, error) {
	key, err := loadPrivateKey(cfg.Kalshi.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading kalshi key: %w", err)
	}
	parsed, err := url.Parse(cfg.Kalshi.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing kalshi base url: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.Kalshi.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	cache := newQuoteCache()
	feed := newWSFeed(cfg.Kalshi.WSBaseURL, cfg.Kalshi.AccessKeyID, key, cache, logger)
	go func() {
		if err := feed.run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("kalshi market feed stopped", "error", err)
		}
	}()

	return &Client{
		http:           httpClient,
		privKey:        key,
		accessKeyID:    cfg.Kalshi.AccessKeyID,
		basePathPrefix: parsed.Path,
		feed:           feed,
		cache:          cache,
		dryRun:         cfg.DryRun,
		logger:         logger.With("venue", "kalshi"),
	}, nil
}

// UpdateMapping subscribes the orderbook feed to the interval's ticker,
// called by cmd/executor on every rollover.
func (c *Client) UpdateMapping(m types.IntervalMapping) {
	c.mu.Lock()
	c.mapping = m
	c.mu.Unlock()
	if m.KalshiTicker != "" {
		c.feed.subscribe(m.KalshiTicker)
	}
}

func (c *Client) currentMapping() types.IntervalMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapping
}

// signPath returns the full API path used for signature computation, e.g.
// "/portfolio/balance" -> "/trade-api/v2/portfolio/balance".
func (c *Client) signPath(path string) string {
	return c.basePathPrefix + path
}

func (c *Client) authHeaders(method, path string) (map[string]string, error) {
	return authHeaders(c.accessKeyID, c.privKey, method, c.signPath(path))
}

// PlaceOrder submits a limit order and, for IOC/FOK, polls the Fills API
// once to report the authoritative fill.
func (c *Client) PlaceOrder(ctx context.Context, p types.OrderParams) (types.OrderResult, error) {
	if c.dryRun {
		now := time.Now()
		c.logger.Info("DRY-RUN: would place order", "ticker", p.MarketID, "action", p.Action, "qty", p.Qty)
		return types.OrderResult{Success: true, OrderID: fmt.Sprintf("dry-run-%d", now.UnixNano()), FillQty: p.Qty, FillPrice: p.Price, Venue: types.Kalshi, Status: types.StatusFilled, SubmittedAt: now, FilledAt: &now}, nil
	}

	action := "buy"
	if p.Action == types.Sell {
		action = "sell"
	}
	side := "yes"
	if p.Side == types.No {
		side = "no"
	}
	tif := "good_till_canceled"
	switch p.TIF {
	case types.TIFIOC:
		tif = "immediate_or_cancel"
	case types.TIFFOK:
		tif = "fill_or_kill"
	}

	qty, _ := p.Qty.Float64()
	priceCents := decimalToCents(p.Price)

	req := orderRequest{
		Ticker:      p.MarketID,
		Action:      action,
		Side:        side,
		Type:        "limit",
		Count:       int(qty),
		TimeInForce: tif,
	}
	if side == "yes" {
		req.YesPrice = priceCents
	} else {
		req.NoPrice = priceCents
	}

	var result struct {
		Order orderWire `json:"order"`
	}
	headers, err := c.authHeaders("POST", "/portfolio/orders")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("auth headers: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(req).SetResult(&result).Post("/portfolio/orders")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return types.OrderResult{Success: false, Venue: types.Kalshi, Status: types.StatusRejected, Err: fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())}, nil
	}

	now := time.Now()
	order := result.Order
	res := types.OrderResult{Success: true, OrderID: order.OrderID, Venue: types.Kalshi, Status: types.StatusPending, SubmittedAt: now}

	if p.TIF == types.TIFIOC || p.TIF == types.TIFFOK {
		fills, err := c.GetFills(ctx, order.OrderID)
		if err == nil && len(fills) > 0 {
			var fillQty, notional decimal.Decimal
			for _, f := range fills {
				fillQty = fillQty.Add(f.Qty)
				notional = notional.Add(f.Price.Mul(f.Qty))
			}
			res.FillQty = fillQty
			if fillQty.IsPositive() {
				res.FillPrice = notional.Div(fillQty)
			}
			res.Status = types.StatusFilled
			res.FilledAt = &now
		} else if order.FilledCount == 0 {
			res.Status = types.StatusRejected
		}
	}
	return res, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, venue types.Venue, orderID string) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	headers, err := c.authHeaders("DELETE", "/portfolio/orders/"+orderID)
	if err != nil {
		return false, fmt.Errorf("auth headers: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).Delete("/portfolio/orders/" + orderID)
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	return resp.StatusCode() < 300, nil
}

// GetOrderStatus polls an order's lifecycle state.
func (c *Client) GetOrderStatus(ctx context.Context, venue types.Venue, orderID string) (types.OrderStatus, error) {
	var result struct {
		Order orderWire `json:"order"`
	}
	headers, err := c.authHeaders("GET", "/portfolio/orders/"+orderID)
	if err != nil {
		return "", fmt.Errorf("auth headers: %w", err)
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/portfolio/orders/" + orderID)
	if err != nil {
		return "", fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return types.StatusPending, nil
	}
	switch result.Order.Status {
	case "executed", "filled":
		return types.StatusFilled, nil
	case "canceled", "rejected":
		return types.StatusRejected, nil
	default:
		return types.StatusPending, nil
	}
}

// GetConditionalTokenBalance has no Kalshi analogue; Kalshi contracts are
// not on-chain ERC-1155 positions, so callers never gate a Kalshi sell on
// this value (see the Polymarket-only guards in internal/liquidator,
// internal/preclose, internal/volatility).
func (c *Client) GetConditionalTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	return unboundedBalance, nil
}

// GetFills fetches the authoritative fill history for one order.
func (c *Client) GetFills(ctx context.Context, orderID string) ([]types.Fill, error) {
	headers, err := c.authHeaders("GET", "/portfolio/fills")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}
	var result struct {
		Fills []fillWire `json:"fills"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("order_id", orderID).
		SetResult(&result).
		Get("/portfolio/fills")
	if err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("get fills: status %d: %s", resp.StatusCode(), resp.String())
	}

	fills := make([]types.Fill, 0, len(result.Fills))
	for _, f := range result.Fills {
		price := f.YesPrice
		if f.Side == "no" {
			price = f.NoPrice
		}
		ts, _ := time.Parse(time.RFC3339, f.CreatedTime)
		fills = append(fills, types.Fill{
			OrderID: f.OrderID,
			Price:   centsToDecimal(price),
			Qty:     decimal.NewFromInt(int64(f.Count)),
			TS:      ts,
		})
	}
	return fills, nil
}

// GetPortfolioPositions reports the live position for the mapped
// interval's ticker, split into YES/NO legs by the sign Kalshi reports.
func (c *Client) GetPortfolioPositions(ctx context.Context, filter types.PositionFilter) (types.PositionsSnapshot, error) {
	if filter.Venue != "" && filter.Venue != types.Kalshi {
		return types.PositionsSnapshot{}, nil
	}
	mapping := c.currentMapping()
	if mapping.KalshiTicker == "" {
		return types.PositionsSnapshot{}, nil
	}

	headers, err := c.authHeaders("GET", "/portfolio/positions")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}
	var result struct {
		Positions []positionWire `json:"market_positions"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("ticker", mapping.KalshiTicker).
		SetResult(&result).
		Get("/portfolio/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := types.PositionsSnapshot{}
	for _, p := range result.Positions {
		if p.Ticker != mapping.KalshiTicker {
			continue
		}
		if p.Position > 0 {
			out[types.PositionKey{Venue: types.Kalshi, Side: types.Yes}] = decimal.NewFromInt(int64(p.Position))
		} else if p.Position < 0 {
			out[types.PositionKey{Venue: types.Kalshi, Side: types.No}] = decimal.NewFromInt(int64(-p.Position))
		}
	}
	return out, nil
}

// GetCollateralBalance reads the free cash balance, converted from cents.
func (c *Client) GetCollateralBalance(ctx context.Context) (float64, error) {
	headers, err := c.authHeaders("GET", "/portfolio/balance")
	if err != nil {
		return 0, fmt.Errorf("auth headers: %w", err)
	}
	var result balanceWire
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/portfolio/balance")
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return 0, fmt.Errorf("get balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	return float64(result.Balance) / 100, nil
}

// GetQuote returns the mapped interval ticker's YES quote, derived from the
// live orderbook cache.
func (c *Client) GetQuote(venue types.Venue) (types.NormalizedQuote, bool) {
	if venue != types.Kalshi {
		return types.NormalizedQuote{}, false
	}
	mapping := c.currentMapping()
	if mapping.KalshiTicker == "" {
		return types.NormalizedQuote{}, false
	}
	return c.cache.quote(mapping.KalshiTicker)
}

func decimalToCents(d decimal.Decimal) int {
	cents, _ := d.Mul(decimal.NewFromInt(100)).Round(0).Float64()
	return int(cents)
}
