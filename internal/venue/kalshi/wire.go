package kalshi

// orderRequest is the CreateOrder request body.
type orderRequest struct {
	Ticker      string `json:"ticker"`
	Action      string `json:"action"` // "buy" or "sell"
	Side        string `json:"side"`   // "yes" or "no"
	Type        string `json:"type"`   // "limit" or "market"
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price,omitempty"`
	NoPrice     int    `json:"no_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

type orderWire struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"`
	Action         string `json:"action"`
	Side           string `json:"side"`
	RemainingCount int    `json:"remaining_count"`
	FilledCount    int    `json:"place_count"`
}

type balanceWire struct {
	Balance int `json:"balance"` // cents
}

type positionWire struct {
	Ticker   string `json:"ticker"`
	Position int    `json:"position"` // positive=YES, negative=NO
}

type fillWire struct {
	FillID      string `json:"fill_id"`
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price"`
	NoPrice     int    `json:"no_price"`
	CreatedTime string `json:"created_time"`
}

type orderbookWire struct {
	Ticker string  `json:"ticker"`
	Yes    [][]int `json:"yes"` // [[price, qty], ...]
	No     [][]int `json:"no"`
}
