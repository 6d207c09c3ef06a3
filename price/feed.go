package price

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/dex"
	"github.com/michaelpento.lv/flasharb/dex/kyber"
	"github.com/michaelpento.lv/flasharb/types"
	fmath "github.com/michaelpento.lv/flasharb/utils/math"
)

// ErrPriceNotReady is returned until the first successful refresh
var ErrPriceNotReady = errors.New("reference price not ready")

// Observer is notified after every refresh attempt
type Observer interface {
	ObservePrice(price types.ReferencePrice, stable types.Token)
	ObservePriceError(err error)
}

// Feed holds the latest native/stablecoin reference price. It has a single
// writer (the refresh loop) and any number of readers.
type Feed struct {
	oracle   dex.ReserveOracle
	native   types.Token
	stable   types.Token
	interval time.Duration
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	current   atomic.Pointer[types.ReferencePrice]
	ready     chan struct{}
	readyOnce atomic.Bool
}

// NewFeed creates a feed quoting one whole native unit in stable minor units
func NewFeed(oracle dex.ReserveOracle, native, stable types.Token, interval time.Duration, logger *zap.Logger) *Feed {
	return &Feed{
		oracle:   oracle,
		native:   native,
		stable:   stable,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		ready:    make(chan struct{}),
	}
}

// SetObserver registers an observer for refresh outcomes. Call before Run.
func (f *Feed) SetObserver(o Observer) {
	f.observer = o
}

// Refresh queries the oracle and replaces the stored price. On failure the
// previous value is kept.
func (f *Feed) Refresh(ctx context.Context) error {
	unit := f.native.Unit()
	rate, err := f.oracle.GetExpectedRate(ctx, f.native.Address, f.stable.Address, unit)
	if err != nil {
		err = fmt.Errorf("failed to refresh reference price: %w", err)
		f.notifyError(err)
		return err
	}
	if rate.Sign() <= 0 {
		err = fmt.Errorf("failed to refresh reference price: %s returned zero rate", f.oracle.GetName())
		f.notifyError(err)
		return err
	}

	p := &types.ReferencePrice{
		Value:         kyber.ExpectedAmount(unit, rate, f.native.Decimals, f.stable.Decimals),
		LastUpdatedAt: f.now(),
	}
	f.current.Store(p)
	if f.readyOnce.CompareAndSwap(false, true) {
		close(f.ready)
	}

	f.logger.Debug("Reference price refreshed",
		zap.String("price", fmath.ToDecimal(p.Value, f.stable.Decimals)),
		zap.String("stable", f.stable.Symbol))
	if f.observer != nil {
		f.observer.ObservePrice(*p, f.stable)
	}
	return nil
}

// Current returns a snapshot of the last successfully fetched price
func (f *Feed) Current() (types.ReferencePrice, error) {
	p := f.current.Load()
	if p == nil {
		return types.ReferencePrice{}, ErrPriceNotReady
	}
	return *p, nil
}

// Ready is closed after the first successful refresh
func (f *Feed) Ready() <-chan struct{} {
	return f.ready
}

// WaitReady blocks until the first successful refresh or ctx is done
func (f *Feed) WaitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run refreshes immediately and then on every tick until ctx is done.
// Failures are logged and retried on the next tick only.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshAndLog(ctx)
		}
	}
}

func (f *Feed) refreshAndLog(ctx context.Context) {
	if err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
		_, staleErr := f.Current()
		f.logger.Error("Reference price refresh failed",
			zap.Error(err),
			zap.Bool("stale_value_available", staleErr == nil))
	}
}

func (f *Feed) notifyError(err error) {
	if f.observer != nil {
		f.observer.ObservePriceError(err)
	}
}
