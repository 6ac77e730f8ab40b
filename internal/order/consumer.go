package order

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

// ConsumerConfig holds the response consumer's dependencies and tuning.
type ConsumerConfig struct {
	Store          kv.Store
	Retry          *retry.Config
	IdempotencyTTL time.Duration
}

// Consumer applies terminal outcome events to order state and hands them
// to the waiting bridge. For each event, the idempotency record, the
// response-stream entry and the derived order mutation are committed in
// one transaction, so the visible order state changes exactly once no
// matter how often the event is redelivered.
type Consumer struct {
	repo    *Repository
	store   kv.Store
	retrier *retry.Retrier
	idemTTL time.Duration
}

// NewConsumer creates the order response consumer.
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	ttl := cfg.IdempotencyTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Consumer{
		repo:    NewRepository(cfg.Store),
		store:   cfg.Store,
		retrier: retry.New(cfg.Retry),
		idemTTL: ttl,
	}
}

// Repository exposes the consumer's repository for wiring the bridge and
// HTTP handler on top of the same store.
func (c *Consumer) Repository() *Repository {
	return c.repo
}

// Handle processes one outcome event. Events that are not order terminals
// are ignored; the consumer shares its topics with other services.
func (c *Consumer) Handle(ctx context.Context, ev *event.Event) error {
	switch ev.Type {
	case event.TypeItemFound, event.TypeItemNotFound,
		event.TypeCheckoutSuccess, event.TypeCheckoutFailed:
	default:
		return nil
	}

	idemKey := ev.IdempotencyKey()
	log := logger.Get()

	// Already handled: the stream entry exists, the bridge has seen it or
	// will; re-appending would wake a future reader with a stale answer.
	if _, err := c.store.Get(ctx, idemKey); err == nil {
		log.Debug("duplicate outcome, skipping",
			zap.String("idempotency_key", idemKey))
		return nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return c.store.Update(ctx, c.watchKeys(ev), func(tx kv.Tx) error {
			if _, err := tx.Get(ctx, idemKey); err == nil {
				return nil
			} else if !errors.Is(err, kv.ErrNotFound) {
				return err
			}

			enriched, err := c.applyTx(ctx, tx, ev)
			if err != nil {
				return err
			}

			data, err := event.EncodeStored(enriched)
			if err != nil {
				return retry.Permanent(err)
			}
			tx.Set(idemKey, data, c.idemTTL)
			tx.Append(event.ResponseStream(ev.CorrelationID), data)
			return nil
		})
	})
}

func (c *Consumer) watchKeys(ev *event.Event) []string {
	switch ev.Type {
	case event.TypeItemFound, event.TypeCheckoutSuccess:
		return []string{ev.OrderID}
	default:
		return nil
	}
}

// applyTx performs the derived order mutation and returns the event to
// store and stream. ItemFound gains total_cost here, inside the same
// transaction that persists the item, never in the HTTP handler.
func (c *Consumer) applyTx(ctx context.Context, tx kv.Tx, ev *event.Event) (*event.Event, error) {
	switch ev.Type {
	case event.TypeItemFound:
		total, err := c.repo.AddItemTx(ctx, tx, ev.OrderID, ev.ItemID, ev.Quantity, ev.Price)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				// The order vanished under a live correlation id. Answer
				// the bridge anyway; there is no state to mutate.
				logger.Get().Warn("outcome for missing order",
					zap.String("order_id", ev.OrderID),
					zap.String("correlation_id", ev.CorrelationID))
				return ev.Clone(), nil
			}
			return nil, err
		}
		enriched := ev.Clone()
		enriched.TotalCost = total
		return enriched, nil

	case event.TypeCheckoutSuccess:
		if err := c.repo.MarkPaidTx(ctx, tx, ev.OrderID); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				logger.Get().Warn("outcome for missing order",
					zap.String("order_id", ev.OrderID),
					zap.String("correlation_id", ev.CorrelationID))
				return ev.Clone(), nil
			}
			return nil, err
		}
		return ev.Clone(), nil

	default:
		// ItemNotFound and CheckoutFailed carry no domain mutation.
		return ev.Clone(), nil
	}
}
