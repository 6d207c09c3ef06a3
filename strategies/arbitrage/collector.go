package arbitrage

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/kyber"
	"github.com/michaelpento.lv/flasharb/types"
	"github.com/michaelpento.lv/flasharb/utils/metrics"
)

// Collector requests quotes from both venues for every configured pair
type Collector struct {
	oracle  dex.ReserveOracle
	pool    dex.AmmPool
	pairs   []types.TokenPair
	limiter *rate.Limiter
	wait    time.Duration
	logger  *zap.Logger
	metrics *metrics.ArbitrageMetrics
}

// NewCollector creates a quote collector. A nil limiter disables rate limiting.
func NewCollector(oracle dex.ReserveOracle, pool dex.AmmPool, pairs []types.TokenPair, limiter *rate.Limiter, logger *zap.Logger) *Collector {
	return &Collector{
		oracle:  oracle,
		pool:    pool,
		pairs:   pairs,
		limiter: limiter,
		logger:  logger,
	}
}

// SetMetrics attaches quote error counters
func (c *Collector) SetMetrics(m *metrics.ArbitrageMetrics) {
	c.metrics = m
}

// SetWaitTimeout bounds how long a single quote waits for the rate limiter.
// Zero waits as long as the caller's context allows.
func (c *Collector) SetWaitTimeout(d time.Duration) {
	c.wait = d
}

// Collect runs both quote rounds and returns one round trip per pair and
// direction. inputWhole is in whole stablecoin units.
func (c *Collector) Collect(ctx context.Context, inputWhole *big.Int) ([]types.RoundTrip, error) {
	forward, err := c.CollectForward(ctx, inputWhole)
	if err != nil {
		return nil, err
	}
	return c.CollectReturn(ctx, forward)
}

// CollectForward quotes stablecoin to native on both venues for every pair.
// All requests run concurrently; a single failure fails the round.
func (c *Collector) CollectForward(ctx context.Context, inputWhole *big.Int) ([]types.Quote, error) {
	quotes := make([]types.Quote, 0, 2*len(c.pairs))
	for _, pair := range c.pairs {
		amountIn := pair.Stable.ToMinor(inputWhole)
		for _, dir := range types.Directions {
			quotes = append(quotes, types.Quote{
				Venue:     dir.EntryVenue(),
				Pair:      pair,
				Direction: dir,
				Leg:       1,
				AmountIn:  amountIn,
			})
		}
	}

	if err := c.fill(ctx, quotes, func(q types.Quote) (types.Token, types.Token) {
		return q.Pair.Stable, q.Pair.Native
	}); err != nil {
		return nil, err
	}
	return quotes, nil
}

// CollectReturn quotes native back to stablecoin on the opposite venue,
// feeding each direction's first-leg output in as the second-leg input
func (c *Collector) CollectReturn(ctx context.Context, forward []types.Quote) ([]types.RoundTrip, error) {
	quotes := make([]types.Quote, len(forward))
	for i, first := range forward {
		quotes[i] = types.Quote{
			Venue:     first.Direction.ExitVenue(),
			Pair:      first.Pair,
			Direction: first.Direction,
			Leg:       2,
			AmountIn:  new(big.Int).Set(first.AmountOut),
		}
	}

	if err := c.fill(ctx, quotes, func(q types.Quote) (types.Token, types.Token) {
		return q.Pair.Native, q.Pair.Stable
	}); err != nil {
		return nil, err
	}

	trips := make([]types.RoundTrip, len(forward))
	for i := range forward {
		trips[i] = types.RoundTrip{
			Pair:      forward[i].Pair,
			Direction: forward[i].Direction,
			FirstLeg:  forward[i],
			SecondLeg: quotes[i],
		}
	}
	return trips, nil
}

// fill sets AmountOut on every quote concurrently
func (c *Collector) fill(ctx context.Context, quotes []types.Quote, tokens func(types.Quote) (types.Token, types.Token)) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := range quotes {
		i := i
		g.Go(func() error {
			q := &quotes[i]
			in, out := tokens(*q)

			amountOut, err := c.quote(gctx, q.Venue, in, out, q.AmountIn)
			if err != nil {
				if c.metrics != nil {
					c.metrics.QuoteErrors.WithLabelValues(q.Venue.String()).Inc()
				}
				return fmt.Errorf("%w: %s leg %d on %s: %w", ErrTransientQuote, q.Pair, q.Leg, q.Venue, err)
			}
			q.AmountOut = amountOut
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("Quote round failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Collector) quote(ctx context.Context, venue types.Venue, in, out types.Token, amountIn *big.Int) (*big.Int, error) {
	if c.limiter != nil {
		if err := c.waitLimiter(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	switch venue {
	case types.VenueReserveOracle:
		expected, err := c.oracle.GetExpectedRate(ctx, in.Address, out.Address, amountIn)
		if err != nil {
			return nil, err
		}
		return kyber.ExpectedAmount(amountIn, expected, in.Decimals, out.Decimals), nil
	case types.VenueAmmPool:
		return c.pool.GetOutputAmount(ctx, in.Address, out.Address, amountIn)
	default:
		return nil, fmt.Errorf("unknown venue %d", venue)
	}
}

func (c *Collector) waitLimiter(ctx context.Context) error {
	if c.wait <= 0 {
		return c.limiter.Wait(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()
	return c.limiter.Wait(waitCtx)
}
