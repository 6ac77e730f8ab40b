package stock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

// WorkerConfig holds the worker's dependencies and tuning.
type WorkerConfig struct {
	Store          kv.Store
	Publisher      bus.Publisher
	Retry          *retry.Config
	IdempotencyTTL time.Duration
}

// Worker consumes stock commands, applies them through CAS-guarded
// transactions and publishes the outcome. Every command's outcome is
// recorded under its idempotency key in the same transaction as the
// domain writes, so a redelivered command replays the recorded outcome
// verbatim instead of mutating state twice.
type Worker struct {
	repo      *Repository
	store     kv.Store
	publisher bus.Publisher
	retrier   *retry.Retrier
	idemTTL   time.Duration
}

// NewWorker creates a stock worker.
func NewWorker(cfg *WorkerConfig) *Worker {
	ttl := cfg.IdempotencyTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Worker{
		repo:      NewRepository(cfg.Store),
		store:     cfg.Store,
		publisher: cfg.Publisher,
		retrier:   retry.New(cfg.Retry),
		idemTTL:   ttl,
	}
}

// Repository exposes the worker's repository for wiring the HTTP handler
// on top of the same store.
func (w *Worker) Repository() *Repository {
	return w.repo
}

// Handle dispatches one command event. Returning an error leaves the
// event unacknowledged on the bus.
func (w *Worker) Handle(ctx context.Context, ev *event.Event) error {
	switch ev.Type {
	case event.TypeSubtractStock:
		return w.handleSubtract(ctx, ev)
	case event.TypeAddStock:
		return w.handleAdd(ctx, ev)
	case event.TypeFindItem:
		return w.handleFind(ctx, ev)
	default:
		logger.Get().Debug("stock worker ignoring event",
			zap.String("event_type", ev.Type),
			zap.String("correlation_id", ev.CorrelationID))
		return nil
	}
}

func (w *Worker) handleSubtract(ctx context.Context, ev *event.Event) error {
	return w.execute(ctx, ev, event.TypeStockError, func(tx kv.Tx) (*event.Event, error) {
		if err := w.repo.SubtractTx(ctx, tx, ev.Items); err != nil {
			if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrItemNotFound) {
				out := ev.WithType(event.TypeStockError)
				out.Error = err.Error()
				return out, nil
			}
			return nil, err
		}
		return ev.WithType(event.TypeStockSubtracted), nil
	})
}

func (w *Worker) handleAdd(ctx context.Context, ev *event.Event) error {
	return w.execute(ctx, ev, event.TypeStockCompensationFailed, func(tx kv.Tx) (*event.Event, error) {
		if err := w.repo.AddTx(ctx, tx, ev.Items); err != nil {
			if errors.Is(err, ErrItemNotFound) {
				out := ev.WithType(event.TypeStockCompensationFailed)
				out.Error = err.Error()
				return out, nil
			}
			return nil, err
		}
		return ev.WithType(event.TypeStockCompensated), nil
	})
}

// handleFind is read-only and exempt from idempotency recording; repeats
// are harmless.
func (w *Worker) handleFind(ctx context.Context, ev *event.Event) error {
	it, err := w.repo.Get(ctx, ev.ItemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			out := ev.WithType(event.TypeItemNotFound)
			out.Error = err.Error()
			return w.publish(ctx, out)
		}
		return err
	}

	out := ev.WithType(event.TypeItemFound)
	out.Stock = it.Stock
	out.Price = it.Price
	return w.publish(ctx, out)
}

// execute runs a command under the idempotency and retry discipline.
// apply queues the domain writes and returns the outcome event; a domain
// rejection is an outcome too, not an error. Transient errors from apply
// abort the transaction and are retried; exhausting the budget converges
// to a "DB error" outcome of type errType.
func (w *Worker) execute(ctx context.Context, ev *event.Event, errType string, apply func(tx kv.Tx) (*event.Event, error)) error {
	idemKey := ev.IdempotencyKey()
	log := logger.Get()

	if data, err := w.store.Get(ctx, idemKey); err == nil {
		outcome, derr := event.DecodeStored(data)
		if derr != nil {
			return derr
		}
		log.Info("replaying recorded outcome",
			zap.String("idempotency_key", idemKey),
			zap.String("outcome", outcome.Type))
		return w.publish(ctx, outcome)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	var outcome *event.Event
	err := w.retrier.Do(ctx, func(ctx context.Context) error {
		return w.store.Update(ctx, WatchKeys(ev.Items), func(tx kv.Tx) error {
			// A concurrent delivery may have won the race since the
			// fast-path check.
			if data, err := tx.Get(ctx, idemKey); err == nil {
				stored, derr := event.DecodeStored(data)
				if derr != nil {
					return retry.Permanent(derr)
				}
				outcome = stored
				return nil
			} else if !errors.Is(err, kv.ErrNotFound) {
				return err
			}

			out, err := apply(tx)
			if err != nil {
				return err
			}
			data, err := event.EncodeStored(out)
			if err != nil {
				return retry.Permanent(err)
			}
			tx.Set(idemKey, data, w.idemTTL)
			outcome = out
			return nil
		})
	})
	if err != nil {
		log.Error("command failed after retries",
			zap.String("event_type", ev.Type),
			zap.String("correlation_id", ev.CorrelationID),
			zap.Error(err))
		outcome = ev.WithType(errType)
		outcome.Error = "DB error"
		if data, encErr := event.EncodeStored(outcome); encErr == nil {
			if setErr := w.store.Set(ctx, idemKey, data, w.idemTTL); setErr != nil {
				log.Error("failed to record error outcome",
					zap.String("idempotency_key", idemKey),
					zap.Error(setErr))
			}
		}
	}

	return w.publish(ctx, outcome)
}

func (w *Worker) publish(ctx context.Context, outcome *event.Event) error {
	return w.publisher.Publish(ctx, event.TopicStockResponses, outcome)
}
