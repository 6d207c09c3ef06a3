package bot

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flasharb/blocks"
	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex/kyber"
	"github.com/michaelpento.lv/flasharb/dex/uniswap"
	"github.com/michaelpento.lv/flasharb/flashbots"
	"github.com/michaelpento.lv/flasharb/flashloan"
	"github.com/michaelpento.lv/flasharb/gas"
	"github.com/michaelpento.lv/flasharb/price"
	"github.com/michaelpento.lv/flasharb/strategies/arbitrage"
	"github.com/michaelpento.lv/flasharb/telemetry"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Bot wires the price feed, block source and arbitrage engine together
type Bot struct {
	cfg    *config.Config
	logger *zap.Logger
	client *ethclient.Client

	feed     *price.Feed
	engine   *arbitrage.Engine
	source   *blocks.Source
	reporter *telemetry.HTTPReporter

	registry      *prometheus.Registry
	metricsServer *http.Server

	wg sync.WaitGroup
}

// New connects to the node and builds every component. secure may be nil
// when cfg.DryRun is set.
func New(ctx context.Context, cfg *config.Config, secure *config.SecureConfig, logger *zap.Logger) (*Bot, error) {
	if !cfg.DryRun && secure == nil {
		return nil, fmt.Errorf("a signing key is required unless running dry")
	}

	client, err := ethclient.DialContext(ctx, cfg.WSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}

	b, err := build(ctx, cfg, secure, client, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

func build(ctx context.Context, cfg *config.Config, secure *config.SecureConfig, client *ethclient.Client, logger *zap.Logger) (*Bot, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("node chain id %s does not match configured %d", chainID, cfg.ChainID)
	}

	registry := metrics.NewRegistry()
	m := metrics.NewArbitrageMetrics(registry, metrics.Namespace)

	native := cfg.Native.ToToken()
	reference, err := cfg.ReferenceToken()
	if err != nil {
		return nil, err
	}
	inputAmount, err := cfg.InputAmountUnits()
	if err != nil {
		return nil, err
	}

	oracle, err := kyber.NewProxy(common.HexToAddress(cfg.Kyber.Proxy), client, native.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind kyber proxy: %w", err)
	}
	pool, err := uniswap.NewUniswapV2(client, common.HexToAddress(cfg.Uniswap.Factory), common.FromHex(cfg.Uniswap.InitCodeHash))
	if err != nil {
		return nil, fmt.Errorf("failed to bind uniswap: %w", err)
	}

	feed := price.NewFeed(oracle, native, reference, cfg.PriceRefreshInterval.Std(), logger.Named("price"))
	feed.SetObserver(m)

	maxGasPrice, err := cfg.MaxGasPriceWei()
	if err != nil {
		return nil, err
	}
	estimator := gas.NewEstimator(client, maxGasPrice, logger.Named("gas"))

	limiter := rate.NewLimiter(rate.Limit(cfg.RPCRateLimit.RequestsPerSecond), cfg.RPCRateLimit.BurstSize)
	collector := arbitrage.NewCollector(oracle, pool, cfg.TokenPairs(), limiter, logger.Named("collector"))
	collector.SetWaitTimeout(cfg.RPCRateLimit.WaitTimeout.Std())

	var (
		builder   arbitrage.CandidateBuilder
		decider   *arbitrage.Decider
		submitter flashloan.Submitter
	)
	if secure != nil {
		keyed, err := flashloan.NewKeyedSubmitter(client, secure.PrivateKey, chainID, logger.Named("submitter"))
		if err != nil {
			return nil, err
		}
		fb, err := flashloan.NewBuilder(common.HexToAddress(cfg.FlashLoan.Contract), common.HexToAddress(cfg.FlashLoan.Solo), keyed.Address())
		if err != nil {
			return nil, err
		}
		builder = fb

		submitter = keyed
		if cfg.UseFlashbots {
			relay, err := newRelaySubmitter(cfg, secure, keyed, logger)
			if err != nil {
				return nil, err
			}
			submitter = relay
		}
	} else if common.IsHexAddress(cfg.FlashLoan.Contract) {
		// dry runs still simulate the real contract when one is configured
		fb, err := flashloan.NewBuilder(common.HexToAddress(cfg.FlashLoan.Contract), common.HexToAddress(cfg.FlashLoan.Solo), common.Address{})
		if err != nil {
			return nil, err
		}
		builder = fb
	}

	if !cfg.DryRun {
		minProfit, err := cfg.MinProfitAmount()
		if err != nil {
			return nil, err
		}
		decider, err = arbitrage.NewDecider(builder, submitter, arbitrage.DeciderConfig{
			MinProfit:    minProfit,
			Reference:    reference,
			ExecutePairs: cfg.ExecutablePairs(),
			CacheSize:    cfg.DedupCacheSize,
		}, logger.Named("decider"))
		if err != nil {
			return nil, err
		}
	}

	calculator := arbitrage.NewCalculator(estimator, builder, reference, cfg.FallbackGasLimit, logger.Named("calculator"))

	engine, err := arbitrage.NewEngine(collector, calculator, decider, feed, arbitrage.EngineConfig{
		InputAmount: inputAmount,
		Reference:   reference,
		DryRun:      cfg.DryRun,
		SeenBlocks:  cfg.DedupCacheSize,
	}, logger.Named("engine"))
	if err != nil {
		return nil, err
	}
	engine.SetMetrics(m)

	var reporter *telemetry.HTTPReporter
	if cfg.Telemetry.Enabled {
		accessKey, bucketKey := config.TelemetryKeys()
		reporter = telemetry.NewHTTPReporter(cfg.Telemetry.URL, accessKey, bucketKey,
			cfg.Telemetry.BufferSize, cfg.Telemetry.Timeout.Std(), m.TelemetryErrors, logger.Named("telemetry"))
		engine.SetReporter(reporter)
	}

	source := blocks.NewSource(client, cfg.ReconnectBackoff.Std(), cfg.MaxReconnects, logger.Named("blocks"))

	return &Bot{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		feed:     feed,
		engine:   engine,
		source:   source,
		reporter: reporter,
		registry: registry,
	}, nil
}

func newRelaySubmitter(cfg *config.Config, secure *config.SecureConfig, signer flashloan.TxSigner, logger *zap.Logger) (flashloan.Submitter, error) {
	authKey, err := crypto.GenerateKey()
	if secure.FlashbotsKey != "" {
		authKey, err = crypto.HexToECDSA(secure.FlashbotsKey)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid flashbots key: %w", err)
	}

	client := flashbots.NewClient(cfg.FlashbotsRPC, authKey, cfg.NetworkTimeout.Std())
	return flashbots.NewBundleSubmitter(client, signer, logger.Named("flashbots")).WithSimulation(), nil
}

// Start launches every background loop. Evaluation begins once the first
// reference price is available.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting arbitrage bot",
		zap.String("input_amount", b.cfg.InputAmount),
		zap.Int("pairs", len(b.cfg.Stables)),
		zap.Bool("dry_run", b.cfg.DryRun),
		zap.Bool("flashbots", b.cfg.UseFlashbots))

	if b.cfg.PrometheusEnabled {
		b.metricsServer = metrics.Serve(b.cfg.PrometheusEndpoint, b.registry, b.logger)
	}

	b.goRun(func() { b.feed.Run(ctx) })

	if b.reporter != nil {
		b.goRun(func() { b.reporter.Run(ctx) })
	}

	b.goRun(func() {
		if err := b.source.Run(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error("Block source stopped", zap.Error(err))
		}
	})

	b.goRun(func() {
		if err := b.feed.WaitReady(ctx); err != nil {
			return
		}
		b.logger.Info("Reference price ready, evaluating blocks")
		if err := b.engine.Run(ctx, b.source.Events(), b.source.Status()); err != nil && ctx.Err() == nil {
			b.logger.Error("Engine stopped", zap.Error(err))
		}
	})

	return nil
}

// Stop waits for the loops started by Start to return. Cancel the context
// passed to Start first.
func (b *Bot) Stop() {
	b.logger.Info("Stopping arbitrage bot...")
	b.wg.Wait()

	if b.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.metricsServer.Shutdown(ctx); err != nil {
			b.logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	b.client.Close()
}

// QuoteOnce refreshes the reference price and evaluates the latest block
// without starting any loop
func (b *Bot) QuoteOnce(ctx context.Context) (*arbitrage.CycleResult, error) {
	if err := b.feed.Refresh(ctx); err != nil {
		return nil, err
	}

	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	return b.engine.RunCycle(ctx, types.BlockEvent{
		Number: header.Number.Uint64(),
		Hash:   header.Hash(),
		Time:   time.Unix(int64(header.Time), 0),
	})
}

// Close releases the node connection of a bot that was never started
func (b *Bot) Close() {
	b.client.Close()
}

func (b *Bot) goRun(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
