package polymarket

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// chainReader makes ctx-bounded read-only calls against Polygon for
// balances the CLOB REST API doesn't expose: the CTF ERC-1155 position
// balance and the USDC collateral balance.
type chainReader struct {
	eth              *ethclient.Client
	conditionalToken common.Address
	collateral       common.Address
	owner            common.Address

	erc1155BalanceOf abi.Method
	erc20BalanceOf   abi.Method
}

func newChainReader(rpcURL, conditionalTokensAddr, collateralAddr string, owner common.Address) (*chainReader, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	addrType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)

	erc1155, err := abi.NewMethod("balanceOf", "balanceOf", abi.Function, "view", false, false,
		abi.Arguments{{Type: addrType, Name: "account"}, {Type: uint256Type, Name: "id"}},
		abi.Arguments{{Type: uint256Type, Name: "balance"}})
	if err != nil {
		return nil, fmt.Errorf("build erc1155 balanceOf abi: %w", err)
	}
	erc20, err := abi.NewMethod("balanceOf", "balanceOf", abi.Function, "view", false, false,
		abi.Arguments{{Type: addrType, Name: "account"}},
		abi.Arguments{{Type: uint256Type, Name: "balance"}})
	if err != nil {
		return nil, fmt.Errorf("build erc20 balanceOf abi: %w", err)
	}

	return &chainReader{
		eth:              eth,
		conditionalToken: common.HexToAddress(conditionalTokensAddr),
		collateral:       common.HexToAddress(collateralAddr),
		owner:            owner,
		erc1155BalanceOf: erc1155,
		erc20BalanceOf:   erc20,
	}, nil
}

// conditionalTokenBalance reads the ERC-1155 balance of a token id, scaled
// down from its on-chain 6-decimal (USDC-denominated share) representation.
func (c *chainReader) conditionalTokenBalance(ctx context.Context, tokenID *big.Int) (float64, error) {
	data, err := c.erc1155BalanceOf.Inputs.Pack(c.owner, tokenID)
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	calldata := append(append([]byte{}, c.erc1155BalanceOf.ID...), data...)

	msg := callMsg(c.conditionalToken, calldata)
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call erc1155 balanceOf: %w", err)
	}
	raw := new(big.Int).SetBytes(out)
	return weiToFloat(raw, 1e6), nil
}

// collateralBalance reads the free USDC balance backing the funder wallet.
func (c *chainReader) collateralBalance(ctx context.Context) (float64, error) {
	data, err := c.erc20BalanceOf.Inputs.Pack(c.owner)
	if err != nil {
		return 0, fmt.Errorf("pack balanceOf: %w", err)
	}
	calldata := append(append([]byte{}, c.erc20BalanceOf.ID...), data...)

	msg := callMsg(c.collateral, calldata)
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("call erc20 balanceOf: %w", err)
	}
	raw := new(big.Int).SetBytes(out)
	return weiToFloat(raw, 1e6), nil
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

func weiToFloat(raw *big.Int, scale float64) float64 {
	f := new(big.Float).SetInt(raw)
	f.Quo(f, big.NewFloat(scale))
	out, _ := f.Float64()
	return out
}
