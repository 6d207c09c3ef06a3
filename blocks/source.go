package blocks

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flasharb/types"
)

// HeadSubscriber is the subset of ethclient.Client used for new heads
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *ethtypes.Header) (ethereum.Subscription, error)
}

// Source turns a new-head subscription into block events and
// resubscribes after failures
type Source struct {
	client        HeadSubscriber
	backoff       time.Duration
	maxReconnects int
	logger        *zap.Logger

	events chan types.BlockEvent
	status chan types.SubscriptionStatus
}

// NewSource creates a block source. maxReconnects bounds consecutive failed
// subscription attempts; zero means a single attempt.
func NewSource(client HeadSubscriber, backoff time.Duration, maxReconnects int, logger *zap.Logger) *Source {
	return &Source{
		client:        client,
		backoff:       backoff,
		maxReconnects: maxReconnects,
		logger:        logger,
		events:        make(chan types.BlockEvent, 16),
		status:        make(chan types.SubscriptionStatus, 1),
	}
}

// Events delivers one event per new head
func (s *Source) Events() <-chan types.BlockEvent {
	return s.events
}

// Status delivers subscription failures and restorations in the order they
// happen. Only the latest undelivered status is kept.
func (s *Source) Status() <-chan types.SubscriptionStatus {
	return s.status
}

// Run subscribes and forwards heads until ctx is done or reconnects are
// exhausted. Both channels are closed on return.
func (s *Source) Run(ctx context.Context) error {
	defer close(s.events)
	defer close(s.status)

	failures := 0
	lost := false
	for {
		err := s.follow(ctx, func() {
			failures = 0
			if lost {
				s.publish(types.SubscriptionStatus{})
			}
			lost = false
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lost = true
		failures++
		s.logger.Error("Block subscription failed",
			zap.Int("attempt", failures),
			zap.Error(err))
		s.publish(types.SubscriptionStatus{Err: err})

		if failures > s.maxReconnects {
			return fmt.Errorf("block subscription: giving up after %d attempts: %w", failures, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(failures)):
		}
	}
}

// follow runs one subscription until it fails. subscribed is called once the
// subscription is established.
func (s *Source) follow(ctx context.Context, subscribed func()) error {
	headers := make(chan *ethtypes.Header, 16)
	sub, err := s.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	defer sub.Unsubscribe()

	subscribed()
	s.logger.Info("Subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = fmt.Errorf("subscription closed")
			}
			return err
		case header := <-headers:
			ev := types.BlockEvent{
				Number: header.Number.Uint64(),
				Hash:   header.Hash(),
				Time:   time.Unix(int64(header.Time), 0),
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// publish replaces any undelivered status. Run is the only sender, so the
// second send cannot block.
func (s *Source) publish(st types.SubscriptionStatus) {
	select {
	case s.status <- st:
		return
	default:
	}

	select {
	case <-s.status:
	default:
	}
	s.status <- st
}
