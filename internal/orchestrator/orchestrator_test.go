package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/event"
)

type published struct {
	topic string
	ev    *event.Event
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []published
}

var _ bus.Publisher = (*capturePublisher)(nil)

func (p *capturePublisher) Publish(ctx context.Context, topic string, ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, ev: ev.Clone()})
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.ev.Type
	}
	return out
}

func trigger() *event.Event {
	return &event.Event{
		Type:          event.TypeCheckoutRequested,
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		UserID:        "user-1",
		Items:         []event.Item{{ID: "item-1", Quantity: 2}},
		Amount:        10,
	}
}

func TestCheckoutIssuesSubtractStockFirst(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))

	require.Equal(t, []string{event.TypeSubtractStock}, pub.types())
	cmd := pub.msgs[0]
	assert.Equal(t, event.TopicStockOperations, cmd.topic)
	assert.Equal(t, "corr-1", cmd.ev.CorrelationID)
	assert.Equal(t, "order-1", cmd.ev.OrderID)
	assert.Equal(t, []event.Item{{ID: "item-1", Quantity: 2}}, cmd.ev.Items)
	assert.Equal(t, 1, s.Running())
}

func TestPayCommandCarriesUserAndAmount(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))
	// The stock outcome echoes the stock command; it has no user id.
	require.NoError(t, s.Handle(ctx, &event.Event{
		Type:          event.TypeStockSubtracted,
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		Items:         []event.Item{{ID: "item-1", Quantity: 2}},
	}))

	require.Equal(t, []string{event.TypeSubtractStock, event.TypePay}, pub.types())
	pay := pub.msgs[1]
	assert.Equal(t, event.TopicPaymentOperations, pay.topic)
	assert.Equal(t, "user-1", pay.ev.UserID)
	assert.Equal(t, int64(10), pay.ev.Amount)
}

func TestPaymentProcessedCommits(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeStockSubtracted, CorrelationID: "corr-1"}))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypePaymentProcessed, CorrelationID: "corr-1", Credit: 90}))

	require.Equal(t, []string{
		event.TypeSubtractStock,
		event.TypePay,
		event.TypeCheckoutSuccess,
	}, pub.types())
	last := pub.msgs[2]
	assert.Equal(t, event.TopicOrchestratorResponses, last.topic)
	assert.Equal(t, "order-1", last.ev.OrderID)
	assert.Equal(t, 0, s.Running())
}

func TestPaymentErrorCompensatesStock(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeStockSubtracted, CorrelationID: "corr-1"}))
	require.NoError(t, s.Handle(ctx, &event.Event{
		Type:          event.TypePaymentError,
		CorrelationID: "corr-1",
		Error:         "INSUFFICIENT FUNDS",
	}))

	require.Equal(t, []string{
		event.TypeSubtractStock,
		event.TypePay,
		event.TypeAddStock,
		event.TypeCheckoutFailed,
	}, pub.types())

	addStock := pub.msgs[2]
	assert.Equal(t, event.TopicStockOperations, addStock.topic)
	assert.Equal(t, []event.Item{{ID: "item-1", Quantity: 2}}, addStock.ev.Items)

	failed := pub.msgs[3]
	assert.Equal(t, event.TopicOrchestratorResponses, failed.topic)
	assert.Equal(t, "INSUFFICIENT FUNDS", failed.ev.Error)
	assert.Equal(t, 0, s.Running())
}

func TestStockErrorFailsWithoutPay(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))
	require.NoError(t, s.Handle(ctx, &event.Event{
		Type:          event.TypeStockError,
		CorrelationID: "corr-1",
		Error:         "item item-1: insufficient stock",
	}))

	require.Equal(t, []string{event.TypeSubtractStock, event.TypeCheckoutFailed}, pub.types())
	assert.Equal(t, "item item-1: insufficient stock", pub.msgs[1].ev.Error)
	assert.Equal(t, 0, s.Running())
}

func TestRedeliveredTriggerIgnoredWhileRunning(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, trigger()))
	require.NoError(t, s.Handle(ctx, trigger()))

	assert.Equal(t, []string{event.TypeSubtractStock}, pub.types())
	assert.Equal(t, 1, s.Running())
}

func TestOutcomeForUnknownSagaDropped(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeStockSubtracted, CorrelationID: "ghost"}))
	assert.Empty(t, pub.types())
}

func TestCompensationOutcomesAreTerminalNoise(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	s := New(pub)

	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeStockCompensated, CorrelationID: "c"}))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeStockCompensationFailed, CorrelationID: "c", Error: "DB error"}))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeRefundError, CorrelationID: "c"}))
	require.NoError(t, s.Handle(ctx, &event.Event{Type: event.TypeItemFound, CorrelationID: "c"}))

	assert.Empty(t, pub.types())
}
