package kyber

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flasharb/dex"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

// ETHAddress is the sentinel Kyber uses for the native asset
var ETHAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// RatePrecision is the fixed-point precision of Kyber rates
const RatePrecision = 18

// Network proxy ABI, getExpectedRate only
const proxyABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "src", "type": "address"},
		{"name": "dest", "type": "address"},
		{"name": "srcQty", "type": "uint256"}
	],
	"name": "getExpectedRate",
	"outputs": [
		{"name": "expectedRate", "type": "uint256"},
		{"name": "slippageRate", "type": "uint256"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

var proxyABI, _ = abi.JSON(strings.NewReader(proxyABIJson))

// Proxy implements dex.ReserveOracle against the Kyber network proxy
type Proxy struct {
	contract *bind.BoundContract
	address  common.Address
	wrapped  common.Address
}

var _ dex.ReserveOracle = (*Proxy)(nil)

// NewProxy binds the Kyber network proxy. Quotes for the wrapped native
// token are routed through the ETH sentinel address.
func NewProxy(address common.Address, caller bind.ContractCaller, wrappedNative common.Address) (*Proxy, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}

	return &Proxy{
		contract: bind.NewBoundContract(address, proxyABI, caller, nil, nil),
		address:  address,
		wrapped:  wrappedNative,
	}, nil
}

// GetName returns the exchange name
func (p *Proxy) GetName() string {
	return "Kyber"
}

// GetExpectedRate returns the 1e18-scaled expected rate for selling qty of src
func (p *Proxy) GetExpectedRate(ctx context.Context, src, dest common.Address, qty *big.Int) (*big.Int, error) {
	var out []interface{}
	err := p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getExpectedRate", p.resolve(src), p.resolve(dest), qty)
	if err != nil {
		return nil, fmt.Errorf("failed to get expected rate: %w", err)
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("unexpected getExpectedRate output length %d", len(out))
	}

	rate, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to parse expected rate")
	}
	return rate, nil
}

func (p *Proxy) resolve(token common.Address) common.Address {
	if token == p.wrapped {
		return ETHAddress
	}
	return token
}

// ExpectedAmount converts a Kyber rate into an output amount, adjusting
// between the source and destination token precisions
func ExpectedAmount(amountIn, rate *big.Int, srcDecimals, destDecimals uint8) *big.Int {
	if srcDecimals >= destDecimals {
		return fmath.MulDiv(amountIn, rate, fmath.Pow10(RatePrecision+srcDecimals-destDecimals))
	}
	scaled := new(big.Int).Mul(amountIn, fmath.Pow10(destDecimals-srcDecimals))
	return fmath.MulDiv(scaled, rate, fmath.Pow10(RatePrecision))
}
