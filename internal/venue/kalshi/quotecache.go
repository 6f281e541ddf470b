package kalshi

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

// priceLevel is one resting order at a cent price with a contract quantity.
type priceLevel struct {
	Price    int
	Quantity int
}

// orderbookState is one ticker's YES/NO books, sorted best price first.
type orderbookState struct {
	Yes        []priceLevel
	No         []priceLevel
	LastUpdate time.Time
}

func (ob *orderbookState) bestYesBid() int {
	if len(ob.Yes) > 0 {
		return ob.Yes[0].Price
	}
	return 0
}

func (ob *orderbookState) bestYesAsk() int {
	if len(ob.No) > 0 {
		return 100 - ob.No[0].Price
	}
	return 100
}

// quoteCache maintains one orderbook per subscribed ticker, updated from
// websocket snapshots and deltas, and derives a NormalizedQuote on read.
type quoteCache struct {
	mu         sync.RWMutex
	orderbooks map[string]*orderbookState
}

func newQuoteCache() *quoteCache {
	return &quoteCache{orderbooks: make(map[string]*orderbookState)}
}

func (c *quoteCache) applySnapshot(ticker string, yes, no [][]int) {
	ob := &orderbookState{LastUpdate: time.Now()}
	for _, lvl := range yes {
		if len(lvl) >= 2 {
			ob.Yes = append(ob.Yes, priceLevel{Price: lvl[0], Quantity: lvl[1]})
		}
	}
	for _, lvl := range no {
		if len(lvl) >= 2 {
			ob.No = append(ob.No, priceLevel{Price: lvl[0], Quantity: lvl[1]})
		}
	}
	c.mu.Lock()
	c.orderbooks[ticker] = ob
	c.mu.Unlock()
}

func (c *quoteCache) applyDelta(ticker string, side string, price, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob := c.orderbooks[ticker]
	if ob == nil {
		return
	}
	ob.LastUpdate = time.Now()

	levels := &ob.Yes
	if side == "no" {
		levels = &ob.No
	}
	for i, l := range *levels {
		if l.Price == price {
			newQty := l.Quantity + delta
			if newQty <= 0 {
				*levels = append((*levels)[:i], (*levels)[i+1:]...)
			} else {
				(*levels)[i].Quantity = newQty
			}
			return
		}
	}
	if delta > 0 {
		*levels = append(*levels, priceLevel{Price: price, Quantity: delta})
		for i := len(*levels) - 1; i > 0; i-- {
			if (*levels)[i].Price > (*levels)[i-1].Price {
				(*levels)[i], (*levels)[i-1] = (*levels)[i-1], (*levels)[i]
			}
		}
	}
}

// quote derives a NormalizedQuote for the YES side of a ticker from the
// current orderbook state.
func (c *quoteCache) quote(ticker string) (types.NormalizedQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ob, ok := c.orderbooks[ticker]
	if !ok {
		return types.NormalizedQuote{}, false
	}
	bid := centsToDecimal(ob.bestYesBid())
	ask := centsToDecimal(ob.bestYesAsk())
	return types.NormalizedQuote{Venue: types.Kalshi, Bid: bid, Ask: ask, TS: ob.LastUpdate}, true
}

func centsToDecimal(cents int) decimal.Decimal {
	return decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100))
}
