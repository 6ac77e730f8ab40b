package orchestrator

import (
	"context"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/saga"
)

// checkoutSteps builds the saga definition for one checkout. Every
// command closes over the initial trigger rather than the previous
// outcome: outcome events echo the command that produced them, so the
// stock outcome would not carry the user id and amount the Pay command
// needs.
func (s *Service) checkoutSteps(trigger *event.Event) []saga.Step {
	return []saga.Step{
		{
			Name: "subtract-stock",
			Command: func(ctx context.Context, _ *event.Event) error {
				return s.publisher.Publish(ctx, event.TopicStockOperations, &event.Event{
					Type:          event.TypeSubtractStock,
					CorrelationID: trigger.CorrelationID,
					OrderID:       trigger.OrderID,
					Items:         trigger.Items,
				})
			},
			Compensation: func(ctx context.Context, _ *event.Event) error {
				return s.publisher.Publish(ctx, event.TopicStockOperations, &event.Event{
					Type:          event.TypeAddStock,
					CorrelationID: trigger.CorrelationID,
					OrderID:       trigger.OrderID,
					Items:         trigger.Items,
				})
			},
			SuccessEvent: event.TypeStockSubtracted,
			ErrorEvent:   event.TypeStockError,
		},
		{
			Name: "pay",
			Command: func(ctx context.Context, _ *event.Event) error {
				return s.publisher.Publish(ctx, event.TopicPaymentOperations, &event.Event{
					Type:          event.TypePay,
					CorrelationID: trigger.CorrelationID,
					OrderID:       trigger.OrderID,
					UserID:        trigger.UserID,
					Amount:        trigger.Amount,
				})
			},
			Compensation: func(ctx context.Context, _ *event.Event) error {
				return s.publisher.Publish(ctx, event.TopicPaymentOperations, &event.Event{
					Type:          event.TypeRefund,
					CorrelationID: trigger.CorrelationID,
					OrderID:       trigger.OrderID,
					UserID:        trigger.UserID,
					Amount:        trigger.Amount,
				})
			},
			SuccessEvent: event.TypePaymentProcessed,
			ErrorEvent:   event.TypePaymentError,
		},
	}
}

func (s *Service) commitCheckout(trigger *event.Event) saga.Action {
	return func(ctx context.Context, _ *event.Event) error {
		return s.publisher.Publish(ctx, event.TopicOrchestratorResponses, &event.Event{
			Type:          event.TypeCheckoutSuccess,
			CorrelationID: trigger.CorrelationID,
			OrderID:       trigger.OrderID,
		})
	}
}

func (s *Service) abortCheckout(trigger *event.Event) saga.Action {
	return func(ctx context.Context, cause *event.Event) error {
		reason := "checkout failed"
		if cause != nil && cause.Error != "" {
			reason = cause.Error
		}
		return s.publisher.Publish(ctx, event.TopicOrchestratorResponses, &event.Event{
			Type:          event.TypeCheckoutFailed,
			CorrelationID: trigger.CorrelationID,
			OrderID:       trigger.OrderID,
			Error:         reason,
		})
	}
}
