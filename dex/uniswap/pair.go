package uniswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// UniswapV2Pair represents a Uniswap V2 pair contract
type UniswapV2Pair struct {
	contract *bind.BoundContract
	address  common.Address
}

// Pair contract ABI
const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"payable": false,
	"stateMutability": "view",
	"type": "function"
}]`

var (
	fee        = big.NewInt(997)
	feeDivisor = big.NewInt(1000)
	pairABI, _ = abi.JSON(strings.NewReader(pairABIJson))
)

// NewUniswapV2Pair creates a new UniswapV2Pair instance
func NewUniswapV2Pair(address common.Address, caller bind.ContractCaller) *UniswapV2Pair {
	return &UniswapV2Pair{
		contract: bind.NewBoundContract(address, pairABI, caller, nil, nil),
		address:  address,
	}
}

// Address returns the pair contract address
func (p *UniswapV2Pair) Address() common.Address {
	return p.address
}

// GetReserves returns the current reserves of the pair in token0/token1 order
func (p *UniswapV2Pair) GetReserves(ctx context.Context) (reserve0, reserve1 *big.Int, timestamp uint32, err error) {
	var out []interface{}
	err = p.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves")
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to get reserves: %w", err)
	}
	if len(out) != 3 {
		return nil, nil, 0, fmt.Errorf("unexpected getReserves output length %d", len(out))
	}

	reserve0, ok := out[0].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("failed to parse reserve0")
	}
	reserve1, ok = out[1].(*big.Int)
	if !ok {
		return nil, nil, 0, fmt.Errorf("failed to parse reserve1")
	}
	timestamp, _ = out[2].(uint32)

	return reserve0, reserve1, timestamp, nil
}

// GetAmountOut calculates the output amount for a given input amount using
// the pair's 0.3% fee constant-product formula
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, fee)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, feeDivisor), amountInWithFee)

	return numerator.Div(numerator, denominator)
}
