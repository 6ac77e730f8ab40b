// Package orchestrator coordinates the checkout saga. It consumes
// CheckoutRequested triggers and participant outcome events, and drives
// each distributed transaction through the saga engine: subtract stock,
// then charge the user, compensating in reverse on any failure.
package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/logger"
	"github.com/RobertoN0/dds25--team4/pkg/saga"
)

// Service is the orchestrator's event handler.
type Service struct {
	manager   *saga.Manager
	publisher bus.Publisher
}

// New creates an orchestrator publishing commands through the given
// publisher.
func New(publisher bus.Publisher) *Service {
	return &Service{
		manager:   saga.NewManager(),
		publisher: publisher,
	}
}

// Running reports the number of live sagas.
func (s *Service) Running() int {
	return s.manager.Running()
}

// Handle dispatches one consumed event.
func (s *Service) Handle(ctx context.Context, ev *event.Event) error {
	switch ev.Type {
	case event.TypeCheckoutRequested:
		return s.startCheckout(ctx, ev)

	case event.TypeStockSubtracted, event.TypeStockError,
		event.TypePaymentProcessed, event.TypePaymentError:
		return s.manager.HandleEvent(ctx, ev)

	case event.TypeStockCompensated, event.TypeRefundProcessed:
		logger.Get().Info("compensation confirmed",
			zap.String("event_type", ev.Type),
			zap.String("correlation_id", ev.CorrelationID))
		return nil

	case event.TypeStockCompensationFailed, event.TypeRefundError:
		// The saga already aborted; nothing left to unwind. Surfaced
		// loudly so operators can reconcile the stuck compensation.
		logger.Get().Error("compensation failed, manual reconciliation needed",
			zap.String("event_type", ev.Type),
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("order_id", ev.OrderID),
			zap.String("error", ev.Error))
		return nil

	default:
		// The response topics also carry events addressed to the order
		// service (ItemFound and friends).
		return nil
	}
}

func (s *Service) startCheckout(ctx context.Context, trigger *event.Event) error {
	_, err := s.manager.Build(
		trigger.CorrelationID,
		s.checkoutSteps(trigger),
		s.commitCheckout(trigger),
		s.abortCheckout(trigger),
	)
	if err != nil {
		// Redelivered trigger while the saga is still running.
		logger.Get().Warn("checkout already in progress",
			zap.String("correlation_id", trigger.CorrelationID),
			zap.String("order_id", trigger.OrderID))
		return nil
	}

	logger.Get().Info("checkout started",
		zap.String("correlation_id", trigger.CorrelationID),
		zap.String("order_id", trigger.OrderID),
		zap.Int("items", len(trigger.Items)),
		zap.Int64("amount", trigger.Amount))

	return s.manager.Start(ctx, trigger.CorrelationID, trigger)
}
