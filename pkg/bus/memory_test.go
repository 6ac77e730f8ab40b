package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RobertoN0/dds25--team4/pkg/event"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	b.Subscribe(func(ctx context.Context, ev *event.Event) error {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		return nil
	}, "topic-a")

	require.NoError(t, b.Publish(context.Background(), "topic-a", &event.Event{Type: "One", CorrelationID: "c1"}))
	require.NoError(t, b.Publish(context.Background(), "topic-b", &event.Event{Type: "Other", CorrelationID: "c1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"One"}, got)
}

func TestPerKeyOrderPreserved(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	const n = 50
	var mu sync.Mutex
	var got []int64
	b.Subscribe(func(ctx context.Context, ev *event.Event) error {
		mu.Lock()
		got = append(got, ev.Quantity)
		mu.Unlock()
		return nil
	}, "ordered")

	for i := int64(0); i < n; i++ {
		require.NoError(t, b.Publish(context.Background(), "ordered", &event.Event{
			Type:          "Seq",
			CorrelationID: "same-key",
			Quantity:      i,
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := int64(0); i < n; i++ {
		assert.Equal(t, i, got[i])
	}
}

func TestRedeliveryOnHandlerError(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	attempts := 0
	b.Subscribe(func(ctx context.Context, ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, "flaky")

	require.NoError(t, b.Publish(context.Background(), "flaky", &event.Event{Type: "X", CorrelationID: "c1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3
	}, time.Second, 5*time.Millisecond)
}

func TestRedeliveryBlocksSuccessors(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	failedOnce := false
	b.Subscribe(func(ctx context.Context, ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if ev.Type == "First" && !failedOnce {
			failedOnce = true
			return errors.New("retry me")
		}
		got = append(got, ev.Type)
		return nil
	}, "strict")

	require.NoError(t, b.Publish(context.Background(), "strict", &event.Event{Type: "First", CorrelationID: "k"}))
	require.NoError(t, b.Publish(context.Background(), "strict", &event.Event{Type: "Second", CorrelationID: "k"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"First", "Second"}, got)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("sub-%d", i)
		b.Subscribe(func(ctx context.Context, ev *event.Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			return nil
		}, "fanout")
	}

	require.NoError(t, b.Publish(context.Background(), "fanout", &event.Event{Type: "X", CorrelationID: "c"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestCloseStopsDispatch(t *testing.T) {
	b := NewMemoryBus()
	b.Subscribe(func(ctx context.Context, ev *event.Event) error {
		return errors.New("always failing")
	}, "doomed")

	require.NoError(t, b.Publish(context.Background(), "doomed", &event.Event{Type: "X", CorrelationID: "c"}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	// Publishing after close is a no-op.
	assert.NoError(t, b.Publish(context.Background(), "doomed", &event.Event{Type: "Y", CorrelationID: "c"}))
}
