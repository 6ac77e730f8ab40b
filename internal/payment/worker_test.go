package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobertoN0/dds25--team4/pkg/bus"
	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
	"github.com/RobertoN0/dds25--team4/pkg/retry"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []*event.Event
}

var _ bus.Publisher = (*capturePublisher)(nil)

func (p *capturePublisher) Publish(ctx context.Context, topic string, ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev.Clone())
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) last() *event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestWorker(t *testing.T) (*Worker, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	w := NewWorker(&WorkerConfig{
		Store:     kv.NewMemoryStore(),
		Publisher: pub,
		Retry:     &retry.Config{MaxAttempts: 3, Interval: time.Millisecond},
	})
	return w, pub
}

func seedUser(t *testing.T, w *Worker, credit int64) string {
	t.Helper()
	id, err := w.Repository().Create(context.Background())
	require.NoError(t, err)
	if credit != 0 {
		_, err = w.Repository().Adjust(context.Background(), id, credit)
		require.NoError(t, err)
	}
	return id
}

func TestPayWithdrawsCredit(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)
	u := seedUser(t, w, 100)

	require.NoError(t, w.Handle(ctx, &event.Event{
		Type:          event.TypePay,
		CorrelationID: "c1",
		OrderID:       "o1",
		UserID:        u,
		Amount:        30,
	}))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, event.TypePaymentProcessed, out.Type)
	assert.Equal(t, int64(70), out.Credit)
	assert.Equal(t, "o1", out.OrderID)
	assert.Equal(t, []string{event.TopicPaymentResponses}, pub.topics)

	user, err := w.Repository().Get(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(70), user.Credit)
}

func TestPayInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)
	u := seedUser(t, w, 10)

	require.NoError(t, w.Handle(ctx, &event.Event{
		Type:          event.TypePay,
		CorrelationID: "c1",
		UserID:        u,
		Amount:        30,
	}))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, event.TypePaymentError, out.Type)
	assert.Contains(t, out.Error, "INSUFFICIENT FUNDS")

	user, err := w.Repository().Get(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(10), user.Credit)
}

func TestPayUnknownUser(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)

	require.NoError(t, w.Handle(ctx, &event.Event{
		Type:          event.TypePay,
		CorrelationID: "c1",
		UserID:        "ghost",
		Amount:        5,
	}))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, event.TypePaymentError, out.Type)
	assert.Contains(t, out.Error, "user not found")
}

func TestRedeliveredPayChargesOnce(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)
	u := seedUser(t, w, 100)

	cmd := &event.Event{
		Type:          event.TypePay,
		CorrelationID: "c1",
		UserID:        u,
		Amount:        30,
	}
	require.NoError(t, w.Handle(ctx, cmd))
	require.NoError(t, w.Handle(ctx, cmd))

	user, err := w.Repository().Get(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(70), user.Credit)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 2)
	assert.Equal(t, pub.events[0], pub.events[1])
}

func TestRefundRestoresCredit(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)
	u := seedUser(t, w, 100)

	require.NoError(t, w.Handle(ctx, &event.Event{
		Type: event.TypePay, CorrelationID: "c1", UserID: u, Amount: 30,
	}))
	require.NoError(t, w.Handle(ctx, &event.Event{
		Type: event.TypeRefund, CorrelationID: "c1", UserID: u, Amount: 30,
	}))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, event.TypeRefundProcessed, out.Type)
	assert.Equal(t, int64(100), out.Credit)

	user, err := w.Repository().Get(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Credit)
}

func TestRefundUnknownUser(t *testing.T) {
	ctx := context.Background()
	w, pub := newTestWorker(t)

	require.NoError(t, w.Handle(ctx, &event.Event{
		Type: event.TypeRefund, CorrelationID: "c1", UserID: "ghost", Amount: 30,
	}))

	assert.Equal(t, event.TypeRefundError, pub.last().Type)
}

// conflictStore makes every Update fail.
type conflictStore struct {
	*kv.MemoryStore
}

func (s *conflictStore) Update(ctx context.Context, keys []string, fn func(tx kv.Tx) error) error {
	return kv.ErrConflict
}

func TestExhaustedRetriesConvergeToDBError(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	w := NewWorker(&WorkerConfig{
		Store:     &conflictStore{kv.NewMemoryStore()},
		Publisher: pub,
		Retry:     &retry.Config{MaxAttempts: 2, Interval: time.Millisecond},
	})

	cmd := &event.Event{Type: event.TypePay, CorrelationID: "c1", UserID: "u", Amount: 5}
	require.NoError(t, w.Handle(ctx, cmd))

	out := pub.last()
	require.NotNil(t, out)
	assert.Equal(t, event.TypePaymentError, out.Type)
	assert.Equal(t, "DB error", out.Error)

	require.NoError(t, w.Handle(ctx, cmd))
	assert.Equal(t, out, pub.last())
}
