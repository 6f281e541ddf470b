// Package polymarket implements venue.Client against the Polymarket CLOB:
// a resty REST client for order entry/cancellation, EIP-712/HMAC request
// signing, a gorilla/websocket market feed backing quote reads, and
// ctx-bounded on-chain balance calls for the liquidator's and pre-close
// unwind's balance caps.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// Client is the Polymarket CLOB adapter satisfying venue.Client.
type Client struct {
	http   *resty.Client
	auth   *auth
	rl     *rateLimiter
	chain  *chainReader
	feed   *marketFeed
	cache  *quoteCache
	dryRun bool
	logger *slog.Logger

	mu      sync.RWMutex
	mapping types.IntervalMapping
}

// New constructs a Client and starts its background market feed goroutine,
// bound to ctx.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Client, error) {
	a, err := newAuth(cfg.Polymarket)
	if err != nil {
		return nil, fmt.Errorf("polymarket auth: %w", err)
	}

	chain, err := newChainReader(cfg.Polymarket.RPCURL, cfg.Polymarket.ConditionalTokensAddress, cfg.Polymarket.CollateralAddress, a.funderAddress)
	if err != nil {
		return nil, fmt.Errorf("polymarket chain reader: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(cfg.Polymarket.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	cache := newQuoteCache()
	feed := newMarketFeed(cfg.Polymarket.WSMarketURL, cache, logger)
	go func() {
		if err := feed.run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("polymarket market feed stopped", "error", err)
		}
	}()

	return &Client{
		http:   httpClient,
		auth:   a,
		rl:     newRateLimiter(),
		chain:  chain,
		feed:   feed,
		cache:  cache,
		dryRun: cfg.DryRun,
		logger: logger.With("venue", "polymarket"),
	}, nil
}

// UpdateMapping records the live interval mapping and subscribes the market
// feed to both outcome tokens, called by cmd/executor on every rollover.
func (c *Client) UpdateMapping(m types.IntervalMapping) {
	c.mu.Lock()
	c.mapping = m
	c.mu.Unlock()
	if m.PolymarketUpID != "" && m.PolymarketDownID != "" {
		c.feed.subscribe(m.PolymarketUpID, m.PolymarketDownID)
	}
}

func (c *Client) currentMapping() types.IntervalMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapping
}

// PlaceOrder signs and submits one order. FOK is sent as order type "FOK",
// IOC as "FAK", and every other TIF as "GTC"; TIFMarket orders use an
// aggressive limit price already baked into OrderParams by the planner.
func (c *Client) PlaceOrder(ctx context.Context, p types.OrderParams) (types.OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "market", p.MarketID, "action", p.Action, "qty", p.Qty)
		now := time.Now()
		return types.OrderResult{Success: true, OrderID: fmt.Sprintf("dry-run-%d", now.UnixNano()), FillQty: p.Qty, FillPrice: p.Price, Venue: types.Polymarket, Status: types.StatusFilled, SubmittedAt: now, FilledAt: &now}, nil
	}
	if err := c.rl.order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	priceF, _ := p.Price.Float64()
	qtyF, _ := p.Qty.Float64()
	makerAmt, takerAmt := priceToAmounts(priceF, qtyF, p.Action)

	side := "BUY"
	if p.Action == types.Sell {
		side = "SELL"
	}
	orderType := "GTC"
	switch p.TIF {
	case types.TIFFOK:
		orderType = "FOK"
	case types.TIFIOC:
		orderType = "FAK" // Polymarket's partial-fill-then-cancel equivalent of IOC
	}

	order := signedOrder{
		Maker:         c.auth.funderAddress.Hex(),
		Signer:        c.auth.address.Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       p.MarketID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Side:          side,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: int(c.auth.sigType),
	}
	payload := orderPayload{Order: order, Owner: c.auth.creds.ApiKey, OrderType: orderType}

	body, err := json.Marshal([]orderPayload{payload})
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.l2Headers(http.MethodPost, "/orders", string(body))
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("l2 headers: %w", err)
	}

	var results []orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || len(results) == 0 {
		return types.OrderResult{Success: false, Venue: types.Polymarket, Status: types.StatusRejected, Err: fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())}, nil
	}

	r := results[0]
	now := time.Now()
	status := types.StatusPending
	if !r.Success {
		status = types.StatusRejected
	}
	result := types.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Venue:       types.Polymarket,
		Status:      status,
		SubmittedAt: now,
	}
	if !r.Success {
		result.Err = fmt.Errorf("polymarket order rejected: %s", r.ErrorMsg)
	}

	// IOC/FOK orders settle near-instantly; poll fills once to report the
	// outcome synchronously to callers that don't separately watch the
	// user websocket channel.
	if r.Success && r.OrderID != "" && (p.TIF == types.TIFIOC || p.TIF == types.TIFFOK) {
		fills, err := c.GetFills(ctx, r.OrderID)
		if err == nil && len(fills) > 0 {
			var qty, notional decimal.Decimal
			for _, f := range fills {
				qty = qty.Add(f.Qty)
				notional = notional.Add(f.Price.Mul(f.Qty))
			}
			result.FillQty = qty
			if qty.IsPositive() {
				result.FillPrice = notional.Div(qty)
			}
			result.Status = types.StatusFilled
			result.FilledAt = &now
		}
	}

	return result, nil
}

// CancelOrder cancels a single resting order.
func (c *Client) CancelOrder(ctx context.Context, venue types.Venue, orderID string) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	if err := c.rl.cancel.Wait(ctx); err != nil {
		return false, err
	}
	body, _ := json.Marshal(struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: []string{orderID}})
	headers, err := c.auth.l2Headers(http.MethodDelete, "/orders", string(body))
	if err != nil {
		return false, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return false, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return false, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	for _, id := range result.Canceled {
		if id == orderID {
			return true, nil
		}
	}
	return false, nil
}

// GetOrderStatus polls an order's current lifecycle state.
func (c *Client) GetOrderStatus(ctx context.Context, venue types.Venue, orderID string) (types.OrderStatus, error) {
	headers, err := c.auth.l2Headers(http.MethodGet, "/data/order/"+orderID, "")
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}
	var result struct {
		Status string `json:"status"`
	}
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/data/order/" + orderID)
	if err != nil {
		return "", fmt.Errorf("get order status: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.StatusPending, nil
	}
	switch result.Status {
	case "matched", "filled":
		return types.StatusFilled, nil
	case "cancelled", "rejected":
		return types.StatusRejected, nil
	default:
		return types.StatusPending, nil
	}
}

// GetConditionalTokenBalance reads the ERC-1155 position balance on-chain.
func (c *Client) GetConditionalTokenBalance(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("invalid token id %q", tokenID)
	}
	return c.chain.conditionalTokenBalance(ctx, id)
}

// GetFills fetches the trade history for one order.
func (c *Client) GetFills(ctx context.Context, orderID string) ([]types.Fill, error) {
	headers, err := c.auth.l2Headers(http.MethodGet, "/data/trades", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}
	var entries []tradeEntry
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("order_id", orderID).
		SetResult(&entries).
		Get("/data/trades")
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get trades: status %d: %s", resp.StatusCode(), resp.String())
	}

	fills := make([]types.Fill, 0, len(entries))
	for _, e := range entries {
		fills = append(fills, types.Fill{
			OrderID: e.OrderID,
			Price:   parseDecimal(e.Price),
			Qty:     parseDecimal(e.Size),
			Fee:     parseDecimal(e.Fee),
			TS:      time.Unix(e.Time, 0),
		})
	}
	return fills, nil
}

// GetPortfolioPositions reports live on-chain balances for the currently
// mapped interval's two outcome tokens.
func (c *Client) GetPortfolioPositions(ctx context.Context, filter types.PositionFilter) (types.PositionsSnapshot, error) {
	if filter.Venue != "" && filter.Venue != types.Polymarket {
		return types.PositionsSnapshot{}, nil
	}
	mapping := c.currentMapping()
	out := types.PositionsSnapshot{}
	if mapping.PolymarketUpID != "" {
		bal, err := c.GetConditionalTokenBalance(ctx, mapping.PolymarketUpID)
		if err != nil {
			return nil, fmt.Errorf("up token balance: %w", err)
		}
		out[types.PositionKey{Venue: types.Polymarket, Side: types.Yes}] = decimal.NewFromFloat(bal)
	}
	if mapping.PolymarketDownID != "" {
		bal, err := c.GetConditionalTokenBalance(ctx, mapping.PolymarketDownID)
		if err != nil {
			return nil, fmt.Errorf("down token balance: %w", err)
		}
		out[types.PositionKey{Venue: types.Polymarket, Side: types.No}] = decimal.NewFromFloat(bal)
	}
	return out, nil
}

// GetCollateralBalance reads the funder wallet's free USDC balance.
func (c *Client) GetCollateralBalance(ctx context.Context) (float64, error) {
	return c.chain.collateralBalance(ctx)
}

// GetQuote returns the mapped interval's "up" (YES) token quote as the
// venue-level representative price, matching the single-quote-per-venue
// contract the execution core reads through venue.Client.
func (c *Client) GetQuote(venue types.Venue) (types.NormalizedQuote, bool) {
	if venue != types.Polymarket {
		return types.NormalizedQuote{}, false
	}
	mapping := c.currentMapping()
	if mapping.PolymarketUpID == "" {
		return types.NormalizedQuote{}, false
	}
	return c.cache.get(mapping.PolymarketUpID)
}
