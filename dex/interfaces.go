package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReserveOracle is a venue that quotes from posted reserve rates
type ReserveOracle interface {
	// GetName returns the venue name
	GetName() string

	// GetExpectedRate returns the 1e18-scaled rate for selling qty of src for dest
	GetExpectedRate(ctx context.Context, src, dest common.Address, qty *big.Int) (*big.Int, error)
}

// AmmPool is a venue whose output is a deterministic function of its reserves
type AmmPool interface {
	// GetName returns the venue name
	GetName() string

	// GetReserves returns the current reserves ordered as (tokenIn, tokenOut)
	GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (*Reserves, error)

	// GetOutputAmount returns the output for swapping amountIn of tokenIn,
	// computed from reserves fetched on every call
	GetOutputAmount(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// Reserves represents token pair reserves
type Reserves struct {
	ReserveIn          *big.Int
	ReserveOut         *big.Int
	BlockTimestampLast uint32
}
