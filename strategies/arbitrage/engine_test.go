package arbitrage

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/price"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

func block(n uint64) types.BlockEvent {
	return types.BlockEvent{Number: n, Hash: common.BigToHash(new(big.Int).SetUint64(n)), Time: time.Now()}
}

func TestScenarioProfitableSubmitsOnce(t *testing.T) {
	f := newFixture(t, 2)

	result, err := f.engine.RunCycle(context.Background(), block(100))
	require.NoError(t, err)

	require.Len(t, result.Opportunities, 2)
	assert.Equal(t, "80", result.Opportunities[0].NetProfit.String())
	assert.Equal(t, "20", result.Opportunities[0].GasCostInStablecoin.String())

	require.Len(t, result.Executions, 1)
	assert.Equal(t, types.DirectionOracleToPool, result.Executions[0].Direction)
	assert.Equal(t, uint64(100), result.Executions[0].BlockNumber)
	assert.Equal(t, 1, f.submitter.Calls())
	assert.Equal(t, StateIdle, f.engine.State())
}

func TestScenarioGasWipesProfit(t *testing.T) {
	f := newFixture(t, 15)

	result, err := f.engine.RunCycle(context.Background(), block(100))
	require.NoError(t, err)

	assert.Equal(t, "150", result.Opportunities[0].GasCostInStablecoin.String())
	assert.Equal(t, "-50", result.Opportunities[0].NetProfit.String())
	assert.Empty(t, result.Executions)
	assert.Equal(t, 0, f.submitter.Calls())
}

func TestScenarioPoolErrorSkipsBlock(t *testing.T) {
	f := newFixture(t, 2)
	f.pool.err = errors.New("missing trie node")

	result, err := f.engine.RunCycle(context.Background(), block(100))
	assert.ErrorIs(t, err, ErrTransientQuote)
	assert.Nil(t, result)

	assert.Equal(t, 0, f.gas.PriceCalls())
	assert.Empty(t, f.gas.candidates)
	assert.Equal(t, 0, f.submitter.Calls())
	assert.Empty(t, f.reporter.Blocks())

	// the block was not evaluated, so it can be retried
	f.pool.err = nil
	_, err = f.engine.RunCycle(context.Background(), block(100))
	assert.NoError(t, err)
}

func TestRunCycleStalePrice(t *testing.T) {
	f := newFixture(t, 2)
	f.price.err = price.ErrPriceNotReady

	_, err := f.engine.RunCycle(context.Background(), block(1))
	assert.ErrorIs(t, err, ErrStalePrice)
	assert.ErrorIs(t, err, price.ErrPriceNotReady)
	assert.Equal(t, 0, f.oracle.Calls())
	assert.Equal(t, 0, f.submitter.Calls())
}

func TestRunCycleDropsDuplicates(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.engine.RunCycle(ctx, block(10))
	require.NoError(t, err)

	_, err = f.engine.RunCycle(ctx, block(10))
	assert.ErrorIs(t, err, ErrDuplicateBlock)

	_, err = f.engine.RunCycle(ctx, block(9))
	assert.ErrorIs(t, err, ErrDuplicateBlock)

	// same height, new hash
	reorg := block(10)
	reorg.Hash = common.HexToHash("0xbeef")
	_, err = f.engine.RunCycle(ctx, reorg)
	assert.NoError(t, err)

	assert.Equal(t, []uint64{10, 10}, f.reporter.Blocks())
	assert.Equal(t, 1, f.submitter.Calls())
}

func TestRunCycleDryRun(t *testing.T) {
	f := newFixture(t, 2)
	logger := zaptest.NewLogger(t)
	engine, err := NewEngine(
		NewCollector(f.oracle, f.pool, []types.TokenPair{daiPair}, nil, logger),
		NewCalculator(f.gas, f.builder, dai, 600000, logger),
		nil, f.price,
		EngineConfig{InputAmount: big.NewInt(10000), Reference: dai, DryRun: true},
		logger)
	require.NoError(t, err)

	result, err := engine.RunCycle(context.Background(), block(1))
	require.NoError(t, err)
	assert.Equal(t, "80", result.Opportunities[0].NetProfit.String())
	assert.Empty(t, result.Executions)
	assert.Equal(t, 0, f.submitter.Calls())
}

func TestReferencePriceReadsAreIdempotent(t *testing.T) {
	f := newFixture(t, 2)

	first, err := f.engine.RunCycle(context.Background(), block(1))
	require.NoError(t, err)
	second, err := f.engine.RunCycle(context.Background(), block(2))
	require.NoError(t, err)

	assert.Zero(t, first.ReferencePrice.Value.Cmp(second.ReferencePrice.Value))
}

func TestBuildReport(t *testing.T) {
	f := newFixture(t, 2)
	result, err := f.engine.RunCycle(context.Background(), block(5))
	require.NoError(t, err)

	report := BuildReport(result, dai)
	assert.Equal(t, uint64(5), report.BlockNumber)
	require.Len(t, report.Outputs, 1)
	assert.Equal(t, "10100", report.Outputs[0].FromPool.String())
	assert.Equal(t, "9900", report.Outputs[0].FromOracle.String())
}

func TestRunKeepsLatestPendingEvent(t *testing.T) {
	f := newFixture(t, 2)
	f.oracle.gate = make(chan struct{})
	f.oracle.entered = make(chan struct{})

	m := metrics.NewArbitrageMetrics(nil, "test_engine_mailbox")
	f.engine.SetMetrics(m)

	events := make(chan types.BlockEvent)
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background(), events, nil) }()

	events <- block(1)
	<-f.oracle.entered
	assert.Equal(t, StateCollectingQuotes, f.engine.State())

	// block 2 waits, then block 3 replaces it
	events <- block(2)
	events <- block(3)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DroppedEvents.WithLabelValues(dropSuperseded)) == 1
	}, time.Second, time.Millisecond)

	close(f.oracle.gate)
	close(events)
	require.NoError(t, <-done)

	assert.Equal(t, []uint64{1, 3}, f.reporter.Blocks())
	assert.Equal(t, 2, f.submitter.Calls())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Cycles.WithLabelValues(metrics.OutcomeCompleted)))
}

func TestRunDegradesOnSubscriptionError(t *testing.T) {
	f := newFixture(t, 2)
	m := metrics.NewArbitrageMetrics(nil, "test_engine_degraded")
	f.engine.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan types.BlockEvent)
	status := make(chan types.SubscriptionStatus)
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, events, status) }()

	status <- types.SubscriptionStatus{Err: errors.New("websocket closed")}
	require.Eventually(t, f.engine.Degraded, time.Second, time.Millisecond)

	events <- block(1)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DroppedEvents.WithLabelValues(dropDegraded)) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Cycles.WithLabelValues(metrics.OutcomeDegraded)))
	assert.Empty(t, f.reporter.Blocks())

	status <- types.SubscriptionStatus{}
	require.Eventually(t, func() bool { return !f.engine.Degraded() }, time.Second, time.Millisecond)

	events <- block(2)
	require.Eventually(t, func() bool {
		return len(f.reporter.Blocks()) == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunRestoredBeforeStart(t *testing.T) {
	f := newFixture(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the subscription dropped and came back before the engine was running
	status := make(chan types.SubscriptionStatus, 2)
	status <- types.SubscriptionStatus{Err: errors.New("websocket closed")}
	status <- types.SubscriptionStatus{}

	events := make(chan types.BlockEvent, 1)
	events <- block(1)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, events, status) }()

	require.Eventually(t, func() bool {
		return len(f.reporter.Blocks()) == 1
	}, time.Second, time.Millisecond)
	assert.False(t, f.engine.Degraded())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestResume(t *testing.T) {
	f := newFixture(t, 2)
	f.engine.degrade(errors.New("websocket closed"))
	require.True(t, f.engine.Degraded())

	f.engine.Resume()
	assert.False(t, f.engine.Degraded())
}

func TestNewEngineValidation(t *testing.T) {
	f := newFixture(t, 2)
	logger := zaptest.NewLogger(t)
	collector := NewCollector(f.oracle, f.pool, []types.TokenPair{daiPair}, nil, logger)
	calculator := NewCalculator(f.gas, f.builder, dai, 600000, logger)

	_, err := NewEngine(collector, calculator, nil, f.price, EngineConfig{InputAmount: big.NewInt(1)}, logger)
	assert.Error(t, err)

	_, err = NewEngine(collector, calculator, nil, f.price, EngineConfig{DryRun: true}, logger)
	assert.Error(t, err)
}
