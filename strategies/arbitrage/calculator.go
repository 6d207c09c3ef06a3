package arbitrage

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

// GasOracle prices and sizes candidate transactions
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, candidate *types.Candidate) (uint64, error)
}

// CandidateBuilder encodes the flash loan call for a pair and direction
type CandidateBuilder interface {
	Build(pair types.TokenPair, direction types.Direction, amount *big.Int) (*types.Candidate, error)
}

// Calculator turns round trips into opportunities with gas-adjusted profit
type Calculator struct {
	gas         GasOracle
	builder     CandidateBuilder
	reference   types.Token
	fallbackGas uint64
	logger      *zap.Logger
}

// NewCalculator creates a profit calculator. reference is the token the
// reference price is quoted in. fallbackGas is used whenever a candidate
// cannot be estimated. A nil builder always uses fallbackGas.
func NewCalculator(gas GasOracle, builder CandidateBuilder, reference types.Token, fallbackGas uint64, logger *zap.Logger) *Calculator {
	return &Calculator{
		gas:         gas,
		builder:     builder,
		reference:   reference,
		fallbackGas: fallbackGas,
		logger:      logger,
	}
}

// Evaluate computes one opportunity per round trip. The gas price is fetched
// once. Unprofitable directions are returned too.
func (c *Calculator) Evaluate(ctx context.Context, trips []types.RoundTrip, ref types.ReferencePrice, block uint64) ([]types.Opportunity, error) {
	if ref.Value == nil || ref.Value.Sign() <= 0 {
		return nil, ErrStalePrice
	}

	gasPrice, err := c.gas.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransientQuote, err)
	}

	opportunities := make([]types.Opportunity, 0, len(trips))
	for _, trip := range trips {
		if trip.SecondLeg.AmountIn.Cmp(trip.FirstLeg.AmountOut) != 0 {
			return nil, fmt.Errorf("round trip %s %s: second leg input does not match first leg output", trip.Pair, trip.Direction)
		}

		units := c.estimate(ctx, trip, gasPrice, block)
		gasCost := GasCostInStable(units, gasPrice, ref.Value, trip.Pair.Native.Decimals, c.reference.Decimals, trip.Pair.Stable.Decimals)

		net := new(big.Int).Sub(trip.SecondLeg.AmountOut, trip.FirstLeg.AmountIn)
		net.Sub(net, gasCost)

		opportunities = append(opportunities, types.Opportunity{
			Pair:                trip.Pair,
			Direction:           trip.Direction,
			InputAmount:         new(big.Int).Set(trip.FirstLeg.AmountIn),
			IntermediateAmount:  new(big.Int).Set(trip.FirstLeg.AmountOut),
			GrossAmountOut:      new(big.Int).Set(trip.SecondLeg.AmountOut),
			GasUnits:            units,
			GasPrice:            new(big.Int).Set(gasPrice),
			GasCostInStablecoin: gasCost,
			NetProfit:           net,
			BlockNumber:         block,
		})
	}

	return opportunities, nil
}

// estimate simulates the candidate. A revert is expected whenever the trade
// would lose money on chain, so the fallback keeps the report uniform.
func (c *Calculator) estimate(ctx context.Context, trip types.RoundTrip, gasPrice *big.Int, block uint64) uint64 {
	if c.builder == nil {
		return c.fallbackGas
	}

	candidate, err := c.builder.Build(trip.Pair, trip.Direction, trip.FirstLeg.AmountIn)
	if err != nil {
		c.logger.Warn("Failed to build candidate",
			zap.String("pair", trip.Pair.String()),
			zap.String("direction", trip.Direction.String()),
			zap.Error(err))
		return c.fallbackGas
	}
	candidate.GasPrice = gasPrice
	candidate.TargetBlock = block + 1

	units, err := c.gas.EstimateGas(ctx, candidate)
	if err != nil {
		c.logger.Debug("Gas estimation failed, using fallback",
			zap.String("pair", trip.Pair.String()),
			zap.String("direction", trip.Direction.String()),
			zap.Uint64("fallback", c.fallbackGas),
			zap.Error(err))
		return c.fallbackGas
	}
	return units
}

// GasCostInStable converts gasUnits * gasPrice (wei) into the pair's
// stablecoin minor units. refPrice is the reference-stable value of one whole
// native unit.
func GasCostInStable(gasUnits uint64, gasPrice, refPrice *big.Int, nativeDecimals, refDecimals, stableDecimals uint8) *big.Int {
	cost := fmath.MulDiv(gas.CostInWei(gasUnits, gasPrice), refPrice, fmath.Pow10(nativeDecimals))
	return fmath.Rescale(cost, refDecimals, stableDecimals)
}
