package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// Client is the subset of ethclient.Client used for gas pricing
type Client interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Estimator provides gas price lookups and gas estimation for candidates
type Estimator struct {
	client      Client
	logger      *zap.Logger
	maxGasPrice *big.Int
}

// NewEstimator creates a new gas estimator. A nil maxGasPrice disables the cap.
func NewEstimator(client Client, maxGasPrice *big.Int, logger *zap.Logger) *Estimator {
	return &Estimator{
		client:      client,
		logger:      logger,
		maxGasPrice: maxGasPrice,
	}
}

// GasPrice returns the node's suggested gas price, capped at maxGasPrice
func (e *Estimator) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	if e.maxGasPrice != nil && e.maxGasPrice.Sign() > 0 && price.Cmp(e.maxGasPrice) > 0 {
		e.logger.Debug("Capping gas price",
			zap.String("suggested", price.String()),
			zap.String("cap", e.maxGasPrice.String()))
		return new(big.Int).Set(e.maxGasPrice), nil
	}
	return price, nil
}

// EstimateGas simulates the candidate against the latest state and returns
// the gas units it would consume
func (e *Estimator) EstimateGas(ctx context.Context, candidate *types.Candidate) (uint64, error) {
	to := candidate.To
	units, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     candidate.From,
		To:       &to,
		GasPrice: candidate.GasPrice,
		Value:    candidate.Value,
		Data:     candidate.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return units, nil
}

// CostInWei returns gasUnits * gasPrice
func CostInWei(gasUnits uint64, gasPrice *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPrice)
}
