package polymarket

import (
	"math"
	"math/big"

	"polymarket-mm/pkg/types"
)

// signedOrder is the on-chain order structure the CLOB expects, populated
// from an OrderParams plus the signer's addresses.
type signedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

type orderResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderID"`
	Status    string `json:"status"`
	ErrorMsg  string `json:"errorMsg"`
}

type cancelResponse struct {
	Canceled []string `json:"canceled"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	AssetID string       `json:"asset_id"`
	Bids    []priceLevel `json:"bids"`
	Asks    []priceLevel `json:"asks"`
	Hash    string       `json:"hash"`
}

type tradeEntry struct {
	ID      string `json:"id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Fee     string `json:"fee"`
	OrderID string `json:"order_id"`
	Time    int64  `json:"match_time"`
}

type wsAuth struct {
	ApiKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type wsSubscribeMsg struct {
	Type     string  `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
	Auth     *wsAuth  `json:"auth,omitempty"`
}

type wsBookEvent struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Bids      []priceLevel `json:"buys"`
	Asks      []priceLevel `json:"sells"`
}

// priceToAmounts converts a human-readable price/size into the maker/taker
// USDC-and-token amounts the CLOB's signed-order schema expects, scaled to
// USDC's 6 decimals.
func priceToAmounts(price, size float64, action types.Action) (makerAmt, takerAmt *big.Int) {
	const scale = 1e6
	sizeRounded := roundDown(size, 2)

	switch action {
	case types.Buy:
		cost := roundDown(sizeRounded*price, 4)
		makerAmt = floatToWei(cost, scale)
		takerAmt = floatToWei(sizeRounded, scale)
	case types.Sell:
		makerAmt = floatToWei(sizeRounded, scale)
		revenue := roundDown(sizeRounded*price, 4)
		takerAmt = floatToWei(revenue, scale)
	}
	return makerAmt, takerAmt
}

func floatToWei(v float64, scale float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(scale))
	out, _ := f.Int(nil)
	return out
}

func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
