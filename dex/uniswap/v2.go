package uniswap

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/michaelpento.lv/flasharb/dex"
)

// Contract addresses
var (
	MainnetFactory  = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	MainnetInitCode = common.FromHex("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
)

// UniswapV2 implements dex.AmmPool for Uniswap V2 pairs
type UniswapV2 struct {
	caller   bind.ContractCaller
	factory  common.Address
	initCode []byte

	mu    sync.Mutex
	pairs map[common.Address]*UniswapV2Pair
}

var _ dex.AmmPool = (*UniswapV2)(nil)

// NewUniswapV2 creates a new Uniswap V2 venue. Pair addresses are derived
// with CREATE2 from the factory and init code hash.
func NewUniswapV2(caller bind.ContractCaller, factory common.Address, initCode []byte) (*UniswapV2, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if len(initCode) != common.HashLength {
		return nil, fmt.Errorf("init code hash must be %d bytes, got %d", common.HashLength, len(initCode))
	}

	return &UniswapV2{
		caller:   caller,
		factory:  factory,
		initCode: initCode,
		pairs:    make(map[common.Address]*UniswapV2Pair),
	}, nil
}

// GetName returns the exchange name
func (u *UniswapV2) GetName() string {
	return "UniswapV2"
}

// GetReserves returns the reserves of a token pair ordered as (tokenIn, tokenOut)
func (u *UniswapV2) GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (*dex.Reserves, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("identical tokens %s", tokenIn.Hex())
	}

	pair := u.getPair(tokenIn, tokenOut)
	reserve0, reserve1, timestamp, err := pair.GetReserves(ctx)
	if err != nil {
		return nil, fmt.Errorf("pair %s: %w", pair.Address().Hex(), err)
	}

	token0, _ := SortTokens(tokenIn, tokenOut)
	if tokenIn != token0 {
		reserve0, reserve1 = reserve1, reserve0
	}

	return &dex.Reserves{
		ReserveIn:          reserve0,
		ReserveOut:         reserve1,
		BlockTimestampLast: timestamp,
	}, nil
}

// GetOutputAmount fetches fresh reserves and returns the output for amountIn
func (u *UniswapV2) GetOutputAmount(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	reserves, err := u.GetReserves(ctx, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if reserves.ReserveIn.Sign() == 0 || reserves.ReserveOut.Sign() == 0 {
		return nil, fmt.Errorf("insufficient liquidity")
	}

	return GetAmountOut(amountIn, reserves.ReserveIn, reserves.ReserveOut), nil
}

// PairFor calculates the pair address for two tokens
func (u *UniswapV2) PairFor(tokenA, tokenB common.Address) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)

	salt := crypto.Keccak256(token0.Bytes(), token1.Bytes())
	return common.BytesToAddress(crypto.Keccak256([]byte{
		0xff,
	}, u.factory.Bytes(), salt, u.initCode)[12:])
}

// getPair returns the pair contract for two tokens
func (u *UniswapV2) getPair(tokenA, tokenB common.Address) *UniswapV2Pair {
	pairAddr := u.PairFor(tokenA, tokenB)

	u.mu.Lock()
	defer u.mu.Unlock()

	if pair, ok := u.pairs[pairAddr]; ok {
		return pair
	}

	pair := NewUniswapV2Pair(pairAddr, u.caller)
	u.pairs[pairAddr] = pair
	return pair
}

// SortTokens orders two token addresses the way the factory does
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		return tokenB, tokenA
	}
	return tokenA, tokenB
}
