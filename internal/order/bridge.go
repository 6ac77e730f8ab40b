package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

// ErrTimeout is returned when no outcome arrived within the wait window.
// The distributed transaction may still complete afterwards; callers must
// check order state before retrying.
var ErrTimeout = errors.New("timed out waiting for outcome")

// BridgeConfig holds the bridge's dependencies and timeouts.
type BridgeConfig struct {
	Store           kv.Store
	Publisher       bus.Publisher
	Repo            *Repository
	CheckoutTimeout time.Duration
	FindItemTimeout time.Duration
	Retry           *retry.Config
}

// Bridge converts synchronous HTTP requests into correlated event
// exchanges: it publishes the triggering command under a fresh
// correlation id and blocks on the per-correlation response stream until
// the response consumer lands the outcome there.
type Bridge struct {
	store           kv.Store
	publisher       bus.Publisher
	repo            *Repository
	checkoutTimeout time.Duration
	findItemTimeout time.Duration
	retrier         *retry.Retrier
}

// NewBridge creates a request bridge.
func NewBridge(cfg *BridgeConfig) *Bridge {
	checkout := cfg.CheckoutTimeout
	if checkout == 0 {
		checkout = 500 * time.Second
	}
	findItem := cfg.FindItemTimeout
	if findItem == 0 {
		findItem = 30 * time.Second
	}
	return &Bridge{
		store:           cfg.Store,
		publisher:       cfg.Publisher,
		repo:            cfg.Repo,
		checkoutTimeout: checkout,
		findItemTimeout: findItem,
		retrier:         retry.New(cfg.Retry),
	}
}

// AddItem asks the stock service for the item and waits for the order
// consumer to merge it into the order. Returns the enriched ItemFound or
// the ItemNotFound outcome.
func (b *Bridge) AddItem(ctx context.Context, orderID, itemID string, quantity int64) (*event.Event, error) {
	if _, err := b.repo.Get(ctx, orderID); err != nil {
		return nil, err
	}

	corrID := uuid.New().String()
	cmd := &event.Event{
		Type:          event.TypeFindItem,
		CorrelationID: corrID,
		OrderID:       orderID,
		ItemID:        itemID,
		Quantity:      quantity,
	}
	if err := b.publisher.Publish(ctx, event.TopicStockOperations, cmd); err != nil {
		return nil, err
	}

	return b.await(ctx, corrID, b.findItemTimeout)
}

// Checkout starts the checkout saga for the order and waits for its
// terminal outcome: CheckoutSuccess or CheckoutFailed.
func (b *Bridge) Checkout(ctx context.Context, orderID string) (*event.Event, error) {
	o, err := b.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	corrID := uuid.New().String()
	cmd := &event.Event{
		Type:          event.TypeCheckoutRequested,
		CorrelationID: corrID,
		OrderID:       orderID,
		UserID:        o.UserID,
		Items:         o.Items,
		Amount:        o.TotalCost,
	}
	if err := b.publisher.Publish(ctx, event.TopicOrderOperations, cmd); err != nil {
		return nil, err
	}

	return b.await(ctx, corrID, b.checkoutTimeout)
}

// await blocks on the response stream, deletes it after the first read
// and decodes the outcome. Transient store errors are retried; an empty
// window is ErrTimeout.
func (b *Bridge) await(ctx context.Context, corrID string, timeout time.Duration) (*event.Event, error) {
	stream := event.ResponseStream(corrID)

	var data []byte
	err := b.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = b.store.ReadStream(ctx, stream, timeout)
		if errors.Is(err, kv.ErrStreamTimeout) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, kv.ErrStreamTimeout) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	if err := b.store.Del(ctx, stream); err != nil {
		logger.Get().Warn("failed to delete response stream",
			zap.String("stream", stream),
			zap.Error(err))
	}

	return event.DecodeStored(data)
}
