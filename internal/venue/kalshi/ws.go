package kalshi

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsFeed subscribes to Kalshi's orderbook_delta channel and keeps a
// quoteCache current. It reconnects on a fixed 2-second backoff (Kalshi's
// socket drops are rare and brief, unlike Polymarket's, so no exponential
// ramp is needed) and re-subscribes every tracked ticker on reconnect.
type wsFeed struct {
	url         string
	accessKeyID string
	privKey     *rsa.PrivateKey
	cache       *quoteCache
	logger      *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.RWMutex
	subs  map[string]bool
}

func newWSFeed(wsURL, accessKeyID string, privKey *rsa.PrivateKey, cache *quoteCache, logger *slog.Logger) *wsFeed {
	return &wsFeed{
		url:         wsURL,
		accessKeyID: accessKeyID,
		privKey:     privKey,
		cache:       cache,
		logger:      logger.With("component", "kalshi_ws"),
		subs:        make(map[string]bool),
	}
}

func (f *wsFeed) subscribe(tickers ...string) {
	f.subMu.Lock()
	for _, t := range tickers {
		f.subs[t] = true
	}
	f.subMu.Unlock()

	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn != nil {
		_ = f.sendSubscribe(conn, tickers)
	}
}

func (f *wsFeed) run(ctx context.Context) error {
	for {
		err := f.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("kalshi ws disconnected, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *wsFeed) connect(ctx context.Context) error {
	headers, err := authHeaders(f.accessKeyID, f.privKey, "GET", "/trade-api/ws/v2")
	if err != nil {
		return fmt.Errorf("generating ws auth: %w", err)
	}
	httpHeaders := make(map[string][]string, len(headers))
	for k, v := range headers {
		httpHeaders[k] = []string{v}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, httpHeaders)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.logger.Info("kalshi ws connected")
	if tickers := f.subscribedList(); len(tickers) > 0 {
		if err := f.sendSubscribe(conn, tickers); err != nil {
			f.logger.Warn("kalshi ws resubscribe failed", "error", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(msg)
	}
}

func (f *wsFeed) subscribedList() []string {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	out := make([]string, 0, len(f.subs))
	for t := range f.subs {
		out = append(out, t)
	}
	return out
}

func (f *wsFeed) sendSubscribe(conn *websocket.Conn, tickers []string) error {
	cmd := struct {
		ID     int `json:"id"`
		Cmd    string `json:"cmd"`
		Params struct {
			Channels      []string `json:"channels"`
			MarketTickers []string `json:"market_tickers"`
		} `json:"params"`
	}{ID: 1, Cmd: "subscribe"}
	cmd.Params.Channels = []string{"orderbook_delta"}
	cmd.Params.MarketTickers = tickers
	return conn.WriteJSON(cmd)
}

func (f *wsFeed) handleMessage(data []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Msg  json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}
	switch envelope.Type {
	case "orderbook_snapshot":
		var snap orderbookWire
		if err := json.Unmarshal(envelope.Msg, &snap); err != nil {
			f.logger.Warn("bad orderbook snapshot", "error", err)
			return
		}
		f.cache.applySnapshot(snap.Ticker, snap.Yes, snap.No)
	case "orderbook_delta":
		var delta struct {
			Ticker string `json:"market_ticker"`
			Price  int    `json:"price"`
			Delta  int    `json:"delta"`
			Side   string `json:"side"`
		}
		if err := json.Unmarshal(envelope.Msg, &delta); err != nil {
			f.logger.Warn("bad orderbook delta", "error", err)
			return
		}
		f.cache.applyDelta(delta.Ticker, delta.Side, delta.Price, delta.Delta)
	default:
		f.logger.Debug("kalshi ws unhandled message", "type", envelope.Type)
	}
}
