package arbitrage

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

// Whole-unit tokens keep the arithmetic in tests exact
var (
	dai  = types.Token{Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 0}
	usdt = types.Token{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 0}
	weth = types.Token{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 0}

	daiPair  = types.TokenPair{Stable: dai, Native: weth}
	usdtPair = types.TokenPair{Stable: usdt, Native: weth}

	contract = common.HexToAddress("0x1234567890123456789012345678901234567890")
	solo     = common.HexToAddress("0x1E0447b19BB6EcFdAe1e4AE1694b0C3659614e4e")
)

// e18 scales a decimal string to an 18-decimal fixed-point rate
func e18(x string) *big.Int {
	r, ok := new(big.Rat).SetString(x)
	if !ok {
		panic("invalid rate " + x)
	}
	r.Mul(r, new(big.Rat).SetInt(fmath.Pow10(18)))
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// mockOracle quotes a fixed 1e18-scaled rate per source token
type mockOracle struct {
	mu    sync.Mutex
	rates map[common.Address]*big.Int
	err   error
	calls int

	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (m *mockOracle) GetName() string { return "MockKyber" }

func (m *mockOracle) GetExpectedRate(ctx context.Context, src, dest common.Address, qty *big.Int) (*big.Int, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.gate != nil {
		m.once.Do(func() { close(m.entered) })
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.err != nil {
		return nil, m.err
	}
	rate, ok := m.rates[src]
	if !ok {
		return nil, errors.New("no rate")
	}
	return rate, nil
}

func (m *mockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPool returns a fixed output per input token and records inputs
type mockPool struct {
	mu      sync.Mutex
	outputs map[common.Address]*big.Int
	err     error
	inputs  map[common.Address]*big.Int
}

func (m *mockPool) GetName() string { return "MockUniswap" }

func (m *mockPool) GetReserves(ctx context.Context, tokenIn, tokenOut common.Address) (*dex.Reserves, error) {
	return nil, errors.New("not implemented")
}

func (m *mockPool) GetOutputAmount(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.inputs == nil {
		m.inputs = make(map[common.Address]*big.Int)
	}
	m.inputs[tokenIn] = new(big.Int).Set(amountIn)

	out, ok := m.outputs[tokenIn]
	if !ok {
		return nil, errors.New("no output")
	}
	return new(big.Int).Set(out), nil
}

type mockGas struct {
	mu          sync.Mutex
	price       *big.Int
	units       uint64
	estimateErr error
	priceErr    error
	priceCalls  int
	candidates  []*types.Candidate
}

func (m *mockGas) GasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls++
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	return new(big.Int).Set(m.price), nil
}

func (m *mockGas) EstimateGas(ctx context.Context, candidate *types.Candidate) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return m.units, nil
}

func (m *mockGas) PriceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceCalls
}

type mockSubmitter struct {
	mu         sync.Mutex
	err        error
	candidates []*types.Candidate
}

var _ flashloan.Submitter = (*mockSubmitter)(nil)

func (m *mockSubmitter) Submit(ctx context.Context, candidate *types.Candidate) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	if m.err != nil {
		return common.Hash{}, m.err
	}
	return common.BigToHash(big.NewInt(int64(len(m.candidates)))), nil
}

func (m *mockSubmitter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.candidates)
}

type mockPrice struct {
	mu    sync.Mutex
	value *big.Int
	err   error
}

func (m *mockPrice) Current() (types.ReferencePrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return types.ReferencePrice{}, m.err
	}
	return types.ReferencePrice{Value: new(big.Int).Set(m.value)}, nil
}

type mockReporter struct {
	mu     sync.Mutex
	blocks []uint64
}

func (m *mockReporter) Report(report types.BlockReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, report.BlockNumber)
}

func (m *mockReporter) Blocks() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.blocks...)
}

// fixture wires a DAI-only pipeline: kyber buys 10050 WETH for 10000 DAI,
// uniswap sells it back for 10100 DAI; the reverse direction loses money
type fixture struct {
	oracle    *mockOracle
	pool      *mockPool
	gas       *mockGas
	submitter *mockSubmitter
	price     *mockPrice
	reporter  *mockReporter
	builder   *flashloan.Builder
	engine    *Engine
}

func newFixture(t *testing.T, gasUnits uint64) *fixture {
	f := &fixture{
		oracle: &mockOracle{rates: map[common.Address]*big.Int{
			dai.Address:  e18("1.005"),
			weth.Address: e18("1"),
		}},
		pool: &mockPool{outputs: map[common.Address]*big.Int{
			dai.Address:  big.NewInt(9900),
			weth.Address: big.NewInt(10100),
		}},
		gas:       &mockGas{price: big.NewInt(10), units: gasUnits},
		submitter: &mockSubmitter{},
		price:     &mockPrice{value: big.NewInt(1)},
		reporter:  &mockReporter{},
	}

	logger := zaptest.NewLogger(t)
	builder, err := flashloan.NewBuilder(contract, solo, common.Address{})
	require.NoError(t, err)
	f.builder = builder

	collector := NewCollector(f.oracle, f.pool, []types.TokenPair{daiPair}, nil, logger)
	calculator := NewCalculator(f.gas, builder, dai, 600000, logger)
	decider, err := NewDecider(builder, f.submitter, DeciderConfig{Reference: dai, CacheSize: 16}, logger)
	require.NoError(t, err)

	f.engine, err = NewEngine(collector, calculator, decider, f.price, EngineConfig{
		InputAmount: big.NewInt(10000),
		Reference:   dai,
	}, logger)
	require.NoError(t, err)
	f.engine.SetReporter(f.reporter)
	return f
}
