// Package bus abstracts the event transport. Delivery guarantees, matching
// what the Kafka adapter provides: events with the same key arrive in
// publish order, every published event is handled at least once, and an
// event is acknowledged only after its handler returned nil. Handlers must
// tolerate redelivery.
package bus

import (
	"context"

	"github.com/RobertoN0/dds25--team4/pkg/event"
)

// Handler processes one delivered event. A non-nil error leaves the event
// unacknowledged; the transport will deliver it again.
type Handler func(ctx context.Context, ev *event.Event) error

// Publisher publishes events. The event's correlation id is used as the
// message key, which pins all events of one distributed transaction to one
// partition and so to one ordered delivery lane.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev *event.Event) error
	Close() error
}

// Consumer runs a handler over one or more topics until its context is
// canceled or Stop is called.
type Consumer interface {
	Run(ctx context.Context) error
	Stop()
}
