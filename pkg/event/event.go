// Package event defines the wire contract shared by all checkout services:
// the event envelope, the event type constants and the Kafka topics they
// travel on. Every event belonging to one distributed transaction carries
// the same correlation id, which is also used as the message key so that
// the broker preserves per-transaction ordering.
package event

import (
	"encoding/json"
	"fmt"
)

// Event types produced and consumed across the system.
const (
	TypeCheckoutRequested = "CheckoutRequested"

	TypeSubtractStock           = "SubtractStock"
	TypeAddStock                = "AddStock"
	TypeStockSubtracted         = "StockSubtracted"
	TypeStockError              = "StockError"
	TypeStockCompensated        = "StockCompensated"
	TypeStockCompensationFailed = "StockCompensationFailed"

	TypeFindItem     = "FindItem"
	TypeItemFound    = "ItemFound"
	TypeItemNotFound = "ItemNotFound"

	TypePay              = "Pay"
	TypeRefund           = "Refund"
	TypePaymentProcessed = "PaymentProcessed"
	TypeRefundProcessed  = "RefundProcessed"
	TypePaymentError     = "PaymentError"
	TypeRefundError      = "RefundError"

	TypeCheckoutSuccess = "CheckoutSuccess"
	TypeCheckoutFailed  = "CheckoutFailed"
)

// Topic names. These are part of the external contract.
const (
	TopicOrderOperations       = "order-operations"
	TopicOrchestratorResponses = "orchestrator-responses"
	TopicStockOperations       = "stock-operations"
	TopicStockResponses        = "stock-responses"
	TopicPaymentOperations     = "payment-operations"
	TopicPaymentResponses      = "payment-responses"
)

// Item is an (item_id, quantity) pair. It marshals as a two-element array
// on both JSON and msgpack, matching the tuple encoding of the stored
// order values.
type Item struct {
	ID       string
	Quantity int64
}

// MarshalJSON encodes the item as [id, quantity].
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{it.ID, it.Quantity})
}

// UnmarshalJSON decodes [id, quantity].
func (it *Item) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("item must be a [id, quantity] pair: %w", err)
	}
	if err := json.Unmarshal(pair[0], &it.ID); err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &it.Quantity); err != nil {
		return fmt.Errorf("item quantity: %w", err)
	}
	return nil
}

// Event is the envelope published on the bus. Type and CorrelationID are
// mandatory; the remaining fields are populated per the payload table of
// the event contract and echoed through outcome events.
type Event struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id"`

	OrderID   string `json:"order_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Items     []Item `json:"items,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
	Stock     int64  `json:"stock,omitempty"`
	Price     int64  `json:"price,omitempty"`
	TotalCost int64  `json:"total_cost,omitempty"`
	Credit    int64  `json:"credit,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Marshal encodes the event as UTF-8 JSON for the bus.
func (e *Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// Unmarshal decodes a bus payload into an Event.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("event missing type")
	}
	return &e, nil
}

// Clone returns a deep copy of the event. Outcome events are built by
// cloning the inbound command and switching the type, so the original
// payload is echoed back untouched.
func (e *Event) Clone() *Event {
	c := *e
	if e.Items != nil {
		c.Items = make([]Item, len(e.Items))
		copy(c.Items, e.Items)
	}
	return &c
}

// WithType clones the event and sets the given type.
func (e *Event) WithType(t string) *Event {
	c := e.Clone()
	c.Type = t
	return c
}

// IdempotencyKey returns the per-command key under which a participant
// records the outcome it produced: "<event_type>:<correlation_id>".
func (e *Event) IdempotencyKey() string {
	return e.Type + ":" + e.CorrelationID
}

// ResponseStream returns the name of the per-correlation response stream
// the Order service uses as a rendezvous.
func ResponseStream(correlationID string) string {
	return "order_response:" + correlationID
}
