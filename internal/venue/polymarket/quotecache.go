package polymarket

import (
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// quoteCache mirrors the best bid/ask for every token this adapter has
// subscribed to, refreshed from REST snapshots and websocket deltas.
// GetQuote reads it without blocking on the network, same contract as
// venue.Client.GetQuote.
type quoteCache struct {
	mu     sync.RWMutex
	quotes map[string]types.NormalizedQuote // keyed by CLOB token id
}

func newQuoteCache() *quoteCache {
	return &quoteCache{quotes: make(map[string]types.NormalizedQuote)}
}

func (c *quoteCache) applyBook(b bookResponse) {
	q := types.NormalizedQuote{Venue: types.Polymarket, TS: time.Now()}
	if len(b.Bids) > 0 {
		q.Bid = parseDecimal(bestPrice(b.Bids, true))
	}
	if len(b.Asks) > 0 {
		q.Ask = parseDecimal(bestPrice(b.Asks, false))
	}
	c.mu.Lock()
	c.quotes[b.AssetID] = q
	c.mu.Unlock()
}

// bestPrice finds the highest bid or lowest ask in an unsorted level list;
// the CLOB's REST response is not guaranteed sorted across all deployments.
func bestPrice(levels []priceLevel, wantMax bool) string {
	best := levels[0].Price
	bestF := parseFloat(best)
	for _, lvl := range levels[1:] {
		f := parseFloat(lvl.Price)
		if (wantMax && f > bestF) || (!wantMax && f < bestF) {
			best, bestF = lvl.Price, f
		}
	}
	return best
}

func (c *quoteCache) get(tokenID string) (types.NormalizedQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[tokenID]
	return q, ok
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
