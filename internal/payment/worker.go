package payment

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

// Worker consumes Pay and Refund commands. Outcomes are recorded under
// the command's idempotency key inside the same transaction as the credit
// change, so redeliveries replay instead of charging twice.
type Worker struct {
	repo      *Repository
	store     kv.Store
	publisher bus.Publisher
	retrier   *retry.Retrier
	idemTTL   time.Duration
}

// NewWorker creates a payment worker.
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

// Handle dispatches one command event.
func (w *Worker) Handle(ctx context.Context, ev *event.Event) error {
	switch ev.Type {
	case event.TypePay:
		return w.execute(ctx, ev, event.TypePaymentProcessed, event.TypePaymentError)
	case event.TypeRefund:
		return w.execute(ctx, ev, event.TypeRefundProcessed, event.TypeRefundError)
	default:
		logger.Get().Debug("payment worker ignoring event",
			zap.String("event_type", ev.Type),
			zap.String("correlation_id", ev.CorrelationID))
		return nil
	}
}

func (w *Worker) execute(ctx context.Context, ev *event.Event, successType, errType string) error {
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
		return w.store.Update(ctx, []string{ev.UserID}, func(tx kv.Tx) error {
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

			var (
				credit int64
				aerr   error
			)
			if ev.Type == event.TypePay {
				credit, aerr = w.repo.PayTx(ctx, tx, ev.UserID, ev.Amount)
			} else {
				credit, aerr = w.repo.RefundTx(ctx, tx, ev.UserID, ev.Amount)
			}

			var out *event.Event
			switch {
			case aerr == nil:
				out = ev.WithType(successType)
				out.Credit = credit
			case errors.Is(aerr, ErrInsufficientFunds) || errors.Is(aerr, ErrUserNotFound):
				out = ev.WithType(errType)
				out.Error = aerr.Error()
			default:
				return aerr
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
	return w.publisher.Publish(ctx, event.TopicPaymentResponses, outcome)
}
