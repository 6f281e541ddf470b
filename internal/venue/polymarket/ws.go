package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// marketFeed subscribes to the public market channel and feeds book
// events into a quoteCache; other event types, including price changes,
// are ignored. It auto-reconnects with
// exponential backoff and re-subscribes to every tracked token on
// reconnect.
type marketFeed struct {
	url    string
	cache  *quoteCache
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.RWMutex
	subs  map[string]bool
}

func newMarketFeed(wsURL string, cache *quoteCache, logger *slog.Logger) *marketFeed {
	return &marketFeed{
		url:    wsURL,
		cache:  cache,
		logger: logger.With("component", "polymarket_ws"),
		subs:   make(map[string]bool),
	}
}

// subscribe adds token ids to the live subscription set and, if connected,
// pushes the update immediately.
func (f *marketFeed) subscribe(ids ...string) {
	f.subMu.Lock()
	for _, id := range ids {
		f.subs[id] = true
	}
	f.subMu.Unlock()
	_ = f.writeJSON(f.subscribeMsg())
}

// run connects and maintains the websocket connection until ctx is
// cancelled, reconnecting with backoff on every drop.
func (f *marketFeed) run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("market feed disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *marketFeed) subscribeMsg() wsSubscribeMsg {
	f.subMu.RLock()
	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	f.subMu.RUnlock()
	return wsSubscribeMsg{Type: "market", AssetIDs: ids}
}

func (f *marketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
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

	if err := f.writeJSON(f.subscribeMsg()); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("market feed connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *marketFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}
	switch envelope.EventType {
	case "book":
		var evt wsBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		f.cache.applyBook(bookResponse{AssetID: evt.AssetID, Bids: evt.Bids, Asks: evt.Asks})
	default:
		f.logger.Debug("ignoring ws event", "type", envelope.EventType)
	}
}

func (f *marketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

func (f *marketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *marketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
