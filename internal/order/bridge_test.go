package order

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

func newTestBridge(t *testing.T, findTimeout time.Duration) (*Bridge, *Repository, *kv.MemoryStore, *capturePublisher) {
	t.Helper()
	store := kv.NewMemoryStore()
	repo := NewRepository(store)
	pub := &capturePublisher{}
	b := NewBridge(&BridgeConfig{
		Store:           store,
		Publisher:       pub,
		Repo:            repo,
		CheckoutTimeout: findTimeout,
		FindItemTimeout: findTimeout,
		Retry:           &retry.Config{MaxAttempts: 2, Interval: time.Millisecond},
	})
	return b, repo, store, pub
}

func respond(t *testing.T, store *kv.MemoryStore, corrID string, out *event.Event) {
	t.Helper()
	data, err := event.EncodeStored(out)
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), nil, func(tx kv.Tx) error {
		tx.Append(event.ResponseStream(corrID), data)
		return nil
	}))
}

func TestAddItemPublishesFindItemAndReturnsOutcome(t *testing.T) {
	ctx := context.Background()
	b, repo, store, pub := newTestBridge(t, time.Second)

	orderID, err := repo.Create(ctx, "user-1")
	require.NoError(t, err)

	go func() {
		// Wait for the published command, then answer on its stream like
		// the response consumer would.
		for {
			cmd := pub.last()
			if cmd != nil {
				out := cmd.WithType(event.TypeItemFound)
				out.TotalCost = 10
				respond(t, store, cmd.CorrelationID, out)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	outcome, err := b.AddItem(ctx, orderID, "item-1", 2)
	require.NoError(t, err)
	assert.Equal(t, event.TypeItemFound, outcome.Type)
	assert.Equal(t, int64(10), outcome.TotalCost)

	cmd := pub.last()
	assert.Equal(t, []string{event.TopicStockOperations}, pub.topics)
	assert.Equal(t, event.TypeFindItem, cmd.Type)
	assert.Equal(t, orderID, cmd.OrderID)
	assert.Equal(t, "item-1", cmd.ItemID)
	assert.Equal(t, int64(2), cmd.Quantity)
	assert.NotEmpty(t, cmd.CorrelationID)

	// The stream was deleted after the read.
	_, err = store.ReadStream(ctx, event.ResponseStream(cmd.CorrelationID), 10*time.Millisecond)
	assert.ErrorIs(t, err, kv.ErrStreamTimeout)
}

func TestCheckoutCarriesOrderSnapshot(t *testing.T) {
	ctx := context.Background()
	b, repo, store, pub := newTestBridge(t, time.Second)

	orderID, err := repo.Create(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, nil, func(tx kv.Tx) error {
		_, err := repo.AddItemTx(ctx, tx, orderID, "item-1", 2, 5)
		return err
	}))

	go func() {
		for {
			cmd := pub.last()
			if cmd != nil {
				respond(t, store, cmd.CorrelationID, cmd.WithType(event.TypeCheckoutSuccess))
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	outcome, err := b.Checkout(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeCheckoutSuccess, outcome.Type)

	cmd := pub.last()
	assert.Equal(t, []string{event.TopicOrderOperations}, pub.topics)
	assert.Equal(t, event.TypeCheckoutRequested, cmd.Type)
	assert.Equal(t, "user-1", cmd.UserID)
	assert.Equal(t, []event.Item{{ID: "item-1", Quantity: 2}}, cmd.Items)
	assert.Equal(t, int64(10), cmd.Amount)
}

func TestBridgeTimesOutWithoutStateChange(t *testing.T) {
	ctx := context.Background()
	b, repo, _, _ := newTestBridge(t, 30*time.Millisecond)

	orderID, err := repo.Create(ctx, "user-1")
	require.NoError(t, err)

	_, err = b.Checkout(ctx, orderID)
	assert.ErrorIs(t, err, ErrTimeout)

	o, err := repo.Get(ctx, orderID)
	require.NoError(t, err)
	assert.False(t, o.Paid)
}

func TestBridgeRejectsUnknownOrder(t *testing.T) {
	ctx := context.Background()
	b, _, _, pub := newTestBridge(t, time.Second)

	_, err := b.Checkout(ctx, "ghost")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = b.AddItem(ctx, "ghost", "item-1", 1)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	assert.Nil(t, pub.last())
}
