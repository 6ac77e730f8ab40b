package bus

import (
	"context"
	"sync"
	"time"

	"github.com/RobertoN0/dds25--team4/pkg/event"
)

// MemoryBus is the in-process transport used by tests. It keeps the
// guarantees of the Kafka adapter: per-subscription sequential dispatch in
// publish order, and redelivery of an event whose handler returned an
// error.
type MemoryBus struct {
	mu     sync.Mutex
	subs   []*memSub
	closed bool
	wg     sync.WaitGroup

	// RedeliveryDelay is the pause before re-attempting a failed event.
	RedeliveryDelay time.Duration
}

var _ Publisher = (*MemoryBus)(nil)

type memSub struct {
	topics  map[string]bool
	handler Handler
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*event.Event
	done    bool
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{RedeliveryDelay: 5 * time.Millisecond}
}

// Subscribe registers a handler for the given topics. Each subscription
// gets its own dispatch goroutine; events are handled one at a time in
// publish order.
func (b *MemoryBus) Subscribe(handler Handler, topics ...string) {
	sub := &memSub{
		topics:  make(map[string]bool, len(topics)),
		handler: handler,
	}
	sub.cond = sync.NewCond(&sub.mu)
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(sub)
}

func (b *MemoryBus) dispatch(sub *memSub) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.done {
			sub.cond.Wait()
		}
		if sub.done {
			sub.mu.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.mu.Unlock()

		for {
			if err := sub.handler(context.Background(), ev.Clone()); err == nil {
				break
			}
			sub.mu.Lock()
			done := sub.done
			sub.mu.Unlock()
			if done {
				return
			}
			time.Sleep(b.RedeliveryDelay)
		}

		sub.mu.Lock()
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()
	}
}

// Publish delivers the event to every subscription of the topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, ev *event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.subs {
		if !sub.topics[topic] {
			continue
		}
		sub.mu.Lock()
		sub.queue = append(sub.queue, ev.Clone())
		sub.cond.Signal()
		sub.mu.Unlock()
	}
	return nil
}

// Close stops all dispatch goroutines and waits for them.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.done = true
		sub.cond.Broadcast()
		sub.mu.Unlock()
	}
	b.wg.Wait()
	return nil
}
