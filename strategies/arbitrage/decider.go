package arbitrage

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Submission results
const (
	resultSubmitted = "submitted"
	resultFailed    = "failed"
	resultFiltered  = "filtered"
)

type submissionKey struct {
	block     uint64
	pair      string
	direction types.Direction
}

// Decider submits one flash loan per profitable opportunity
type Decider struct {
	builder   CandidateBuilder
	submitter flashloan.Submitter
	reference types.Token
	minProfit *big.Int
	allowed   map[string]bool
	submitted *lru.Cache
	logger    *zap.Logger
	metrics   *metrics.ArbitrageMetrics
}

// DeciderConfig holds the decision thresholds
type DeciderConfig struct {
	// MinProfit is in reference stablecoin minor units. Net profit must also
	// be strictly positive.
	MinProfit *big.Int
	// Reference is the token MinProfit is denominated in
	Reference types.Token
	// ExecutePairs restricts executions to these stablecoin symbols.
	// Empty allows every pair.
	ExecutePairs map[string]bool
	// CacheSize bounds the submission dedup cache
	CacheSize int
}

// NewDecider creates a decider
func NewDecider(builder CandidateBuilder, submitter flashloan.Submitter, cfg DeciderConfig, logger *zap.Logger) (*Decider, error) {
	if builder == nil || submitter == nil {
		return nil, fmt.Errorf("builder and submitter are required")
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission cache: %w", err)
	}

	minProfit := cfg.MinProfit
	if minProfit == nil {
		minProfit = new(big.Int)
	}

	return &Decider{
		builder:   builder,
		submitter: submitter,
		reference: cfg.Reference,
		minProfit: minProfit,
		allowed:   cfg.ExecutePairs,
		submitted: cache,
		logger:    logger,
	}, nil
}

// SetMetrics attaches submission counters
func (d *Decider) SetMetrics(m *metrics.ArbitrageMetrics) {
	d.metrics = m
}

// Decide submits every qualifying opportunity exactly once and returns the
// successful submissions. Failures are logged and never retried.
func (d *Decider) Decide(ctx context.Context, opportunities []types.Opportunity) []types.Execution {
	var executions []types.Execution

	for _, opp := range opportunities {
		if !d.qualifies(opp) {
			continue
		}
		if !d.executable(opp.Pair) {
			d.logger.Info("Profitable round trip on observe-only pair",
				zap.String("pair", opp.Pair.String()),
				zap.String("direction", opp.Direction.String()),
				zap.Uint64("block", opp.BlockNumber))
			d.observe(opp, resultFiltered)
			continue
		}

		key := submissionKey{block: opp.BlockNumber, pair: opp.Pair.String(), direction: opp.Direction}
		if seen, _ := d.submitted.ContainsOrAdd(key, struct{}{}); seen {
			d.logger.Debug("Opportunity already submitted",
				zap.String("pair", key.pair),
				zap.String("direction", opp.Direction.String()),
				zap.Uint64("block", opp.BlockNumber))
			continue
		}

		hash, err := d.submit(ctx, opp)
		if err != nil {
			d.logger.Error("Flash loan submission failed",
				zap.String("pair", opp.Pair.String()),
				zap.String("direction", opp.Direction.String()),
				zap.Uint64("block", opp.BlockNumber),
				zap.Error(err))
			d.observe(opp, resultFailed)
			continue
		}

		d.logger.Info("Flash loan submitted",
			zap.String("pair", opp.Pair.String()),
			zap.String("direction", opp.Direction.String()),
			zap.Uint64("block", opp.BlockNumber),
			zap.String("net_profit", fmath.ToDecimal(opp.NetProfit, opp.Pair.Stable.Decimals)),
			zap.String("tx", hash.Hex()))
		d.observe(opp, resultSubmitted)

		executions = append(executions, types.Execution{
			Pair:        opp.Pair,
			Direction:   opp.Direction,
			BlockNumber: opp.BlockNumber,
			TxHash:      hash,
		})
	}

	return executions
}

func (d *Decider) qualifies(opp types.Opportunity) bool {
	threshold := fmath.Rescale(d.minProfit, d.reference.Decimals, opp.Pair.Stable.Decimals)
	return fmath.IsArbitrageProfitable(opp.NetProfit, threshold)
}

func (d *Decider) executable(pair types.TokenPair) bool {
	if len(d.allowed) == 0 {
		return true
	}
	return d.allowed[strings.ToUpper(pair.Stable.Symbol)]
}

func (d *Decider) submit(ctx context.Context, opp types.Opportunity) (common.Hash, error) {
	candidate, err := d.builder.Build(opp.Pair, opp.Direction, opp.InputAmount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: build candidate: %w", ErrExecutionSubmission, err)
	}
	candidate.Gas = opp.GasUnits
	candidate.GasPrice = opp.GasPrice
	candidate.TargetBlock = opp.BlockNumber + 1

	txHash, err := d.submitter.Submit(ctx, candidate)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrExecutionSubmission, err)
	}
	return txHash, nil
}

func (d *Decider) observe(opp types.Opportunity, result string) {
	if d.metrics != nil {
		d.metrics.Submissions.WithLabelValues(opp.Pair.String(), opp.Direction.String(), result).Inc()
	}
}
