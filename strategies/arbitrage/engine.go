package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// State is the engine's position in the per-block pipeline
type State int32

const (
	StateIdle State = iota
	StateCollectingQuotes
	StateEvaluating
	StateDeciding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollectingQuotes:
		return "collecting_quotes"
	case StateEvaluating:
		return "evaluating"
	case StateDeciding:
		return "deciding"
	default:
		return "unknown"
	}
}

// Drop reasons
const (
	dropSuperseded = "superseded"
	dropDuplicate  = "duplicate"
	dropDegraded   = "degraded"
)

// PriceSource provides the latest reference price
type PriceSource interface {
	Current() (types.ReferencePrice, error)
}

// Reporter receives one report per evaluated block. Report must not block.
type Reporter interface {
	Report(report types.BlockReport)
}

// EngineConfig holds per-cycle settings
type EngineConfig struct {
	// InputAmount is the borrowed amount in whole stablecoin units
	InputAmount *big.Int
	// Reference is the token the reference price is quoted in
	Reference types.Token
	// DryRun evaluates without submitting
	DryRun bool
	// SeenBlocks bounds the cache of evaluated block hashes
	SeenBlocks int
}

// CycleResult is the outcome of one evaluated block
type CycleResult struct {
	Block          types.BlockEvent
	ReferencePrice types.ReferencePrice
	RoundTrips     []types.RoundTrip
	Opportunities  []types.Opportunity
	Executions     []types.Execution
}

// Engine runs the collect, evaluate, decide pipeline once per block with at
// most one cycle in flight
type Engine struct {
	collector  *Collector
	calculator *Calculator
	decider    *Decider
	price      PriceSource
	reporter   Reporter
	cfg        EngineConfig
	logger     *zap.Logger
	metrics    *metrics.ArbitrageMetrics

	state    atomic.Int32
	degraded atomic.Bool

	cycleMu   sync.Mutex
	lastBlock uint64
	seen      *lru.Cache
}

// NewEngine creates an engine. decider may be nil when cfg.DryRun is set.
func NewEngine(collector *Collector, calculator *Calculator, decider *Decider, price PriceSource, cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if collector == nil || calculator == nil || price == nil {
		return nil, fmt.Errorf("collector, calculator and price source are required")
	}
	if decider == nil && !cfg.DryRun {
		return nil, fmt.Errorf("decider is required unless running dry")
	}
	if !fmath.IsPositive(cfg.InputAmount) {
		return nil, fmt.Errorf("input amount must be positive")
	}
	if cfg.SeenBlocks <= 0 {
		cfg.SeenBlocks = 128
	}

	seen, err := lru.New(cfg.SeenBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	return &Engine{
		collector:  collector,
		calculator: calculator,
		decider:    decider,
		price:      price,
		cfg:        cfg,
		logger:     logger,
		seen:       seen,
	}, nil
}

// SetReporter attaches a telemetry reporter. Call before Run.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// SetMetrics attaches metrics to the engine and its components
func (e *Engine) SetMetrics(m *metrics.ArbitrageMetrics) {
	e.metrics = m
	e.collector.SetMetrics(m)
	if e.decider != nil {
		e.decider.SetMetrics(m)
	}
}

// State returns the current pipeline state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Degraded reports whether the engine stopped evaluating after a
// subscription failure
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Resume clears the degraded flag. Run calls it when the status channel
// reports a restored subscription.
func (e *Engine) Resume() {
	if e.degraded.CompareAndSwap(true, false) {
		e.logger.Info("Block subscription restored, resuming evaluation")
	}
}

// Run consumes block events until ctx is done or events is closed. An event
// that arrives while a cycle is running replaces any event still waiting.
// status carries subscription failures and restorations; a failure pauses
// evaluation until the next restoration.
func (e *Engine) Run(ctx context.Context, events <-chan types.BlockEvent, status <-chan types.SubscriptionStatus) error {
	mailbox := make(chan types.BlockEvent, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range mailbox {
			if ctx.Err() != nil {
				return
			}
			e.handle(ctx, ev)
		}
	}()

	defer func() {
		close(mailbox)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// a restore is published before the new subscription's first head
			status = e.drainStatus(status)
			e.offer(mailbox, ev)

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			e.applyStatus(st)
		}
	}
}

func (e *Engine) drainStatus(status <-chan types.SubscriptionStatus) <-chan types.SubscriptionStatus {
	for {
		select {
		case st, ok := <-status:
			if !ok {
				return nil
			}
			e.applyStatus(st)
		default:
			return status
		}
	}
}

func (e *Engine) applyStatus(st types.SubscriptionStatus) {
	if st.Restored() {
		e.Resume()
		return
	}
	e.degrade(st.Err)
}

func (e *Engine) offer(mailbox chan types.BlockEvent, ev types.BlockEvent) {
	if e.Degraded() {
		e.drop(ev, dropDegraded)
		return
	}

	select {
	case mailbox <- ev:
		return
	default:
	}

	select {
	case old := <-mailbox:
		e.drop(old, dropSuperseded)
	default:
	}
	mailbox <- ev
}

func (e *Engine) degrade(err error) {
	if e.degraded.CompareAndSwap(false, true) {
		e.logger.Error("Block subscription lost, evaluation paused",
			zap.Error(fmt.Errorf("%w: %w", ErrSubscription, err)))
	}
}

func (e *Engine) drop(ev types.BlockEvent, reason string) {
	e.logger.Debug("Dropping block event",
		zap.Uint64("block", ev.Number),
		zap.String("reason", reason))
	if e.metrics != nil {
		e.metrics.DroppedEvents.WithLabelValues(reason).Inc()
		if reason == dropDegraded {
			e.metrics.Cycles.WithLabelValues(metrics.OutcomeDegraded).Inc()
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev types.BlockEvent) {
	if e.Degraded() {
		e.drop(ev, dropDegraded)
		return
	}

	_, err := e.RunCycle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateBlock):
		e.drop(ev, dropDuplicate)
	case errors.Is(err, ErrStalePrice):
		e.logger.Warn("Reference price unavailable, skipping block",
			zap.Uint64("block", ev.Number),
			zap.Error(err))
	case errors.Is(err, ErrTransientQuote):
		e.logger.Warn("Quotes unavailable, skipping block",
			zap.Uint64("block", ev.Number),
			zap.Error(err))
	case ctx.Err() != nil:
	default:
		e.logger.Error("Block evaluation failed",
			zap.Uint64("block", ev.Number),
			zap.Error(err))
	}
}

// RunCycle evaluates a single block. Cycles are serialized.
func (e *Engine) RunCycle(ctx context.Context, ev types.BlockEvent) (*CycleResult, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	defer e.state.Store(int32(StateIdle))

	if ev.Number < e.lastBlock || (ev.Hash != (common.Hash{}) && e.seen.Contains(headKey(ev.Hash))) {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateBlock, ev.Number)
	}

	start := time.Now()
	outcome := metrics.OutcomeCompleted
	defer func() {
		if e.metrics != nil {
			e.metrics.Cycles.WithLabelValues(outcome).Inc()
			e.metrics.CycleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ref, err := e.price.Current()
	if err != nil {
		outcome = metrics.OutcomeStalePrice
		return nil, fmt.Errorf("%w: %w", ErrStalePrice, err)
	}

	e.state.Store(int32(StateCollectingQuotes))
	trips, err := e.collector.Collect(ctx, e.cfg.InputAmount)
	if err != nil {
		outcome = metrics.OutcomeQuoteError
		return nil, err
	}

	e.state.Store(int32(StateEvaluating))
	opportunities, err := e.calculator.Evaluate(ctx, trips, ref, ev.Number)
	if err != nil {
		outcome = metrics.OutcomeGasError
		return nil, err
	}

	e.lastBlock = ev.Number
	if ev.Hash != (common.Hash{}) {
		e.seen.Add(headKey(ev.Hash), struct{}{})
	}

	result := &CycleResult{
		Block:          ev,
		ReferencePrice: ref,
		RoundTrips:     trips,
		Opportunities:  opportunities,
	}
	e.summarize(result)
	e.report(result)

	if e.cfg.DryRun || e.decider == nil {
		return result, nil
	}

	e.state.Store(int32(StateDeciding))
	result.Executions = e.decider.Decide(ctx, opportunities)
	return result, nil
}

func (e *Engine) summarize(result *CycleResult) {
	e.logger.Info("Block evaluated",
		zap.Uint64("block", result.Block.Number),
		zap.String("reference_price", fmath.ToDecimal(result.ReferencePrice.Value, e.cfg.Reference.Decimals)),
		zap.String("reference", e.cfg.Reference.Symbol))

	for _, opp := range result.Opportunities {
		decimals := opp.Pair.Stable.Decimals
		e.logger.Info("Round trip",
			zap.Uint64("block", opp.BlockNumber),
			zap.String("pair", opp.Pair.String()),
			zap.String("direction", opp.Direction.String()),
			zap.String("input", fmath.ToDecimal(opp.InputAmount, decimals)),
			zap.String("output", fmath.ToDecimal(opp.GrossAmountOut, decimals)),
			zap.String("gas_cost", fmath.ToDecimal(opp.GasCostInStablecoin, decimals)),
			zap.String("net_profit", fmath.ToDecimal(opp.NetProfit, decimals)))

		if e.metrics != nil {
			e.metrics.ObserveOpportunity(opp)
		}
	}

	if e.metrics != nil {
		e.metrics.LastBlock.Set(float64(result.Block.Number))
	}
}

func (e *Engine) report(result *CycleResult) {
	if e.reporter == nil {
		return
	}
	e.reporter.Report(BuildReport(result, e.cfg.Reference))
}

// BuildReport groups a cycle's gross outputs per pair
func BuildReport(result *CycleResult, reference types.Token) types.BlockReport {
	report := types.BlockReport{
		BlockNumber:    result.Block.Number,
		ReferencePrice: result.ReferencePrice,
		ReferenceToken: reference,
	}

	index := make(map[string]int)
	for _, opp := range result.Opportunities {
		key := opp.Pair.String()
		i, ok := index[key]
		if !ok {
			i = len(report.Outputs)
			index[key] = i
			report.Outputs = append(report.Outputs, types.PairOutputs{Pair: opp.Pair})
		}

		switch opp.Direction {
		case types.DirectionOracleToPool:
			report.Outputs[i].FromPool = opp.GrossAmountOut
		case types.DirectionPoolToOracle:
			report.Outputs[i].FromOracle = opp.GrossAmountOut
		}
	}
	return report
}

// headKey folds a block hash into the seen-head cache key
func headKey(hash common.Hash) uint64 {
	return xxhash.Sum64(hash[:])
}
