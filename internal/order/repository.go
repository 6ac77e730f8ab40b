// Package order implements the order service: order records, the request
// bridge that turns HTTP calls into correlated event exchanges, and the
// response consumer that applies outcome events to order state.
package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
)

// ErrOrderNotFound is returned for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// Order is the stored order record, keyed by order id.
type Order struct {
	Paid      bool         `msgpack:"paid"`
	Items     []event.Item `msgpack:"items"`
	UserID    string       `msgpack:"user_id"`
	TotalCost int64        `msgpack:"total_cost"`
}

// Repository persists orders.
type Repository struct {
	store kv.Store
}

// NewRepository creates an order repository on the given store.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func encodeOrder(o *Order) ([]byte, error) {
	data, err := msgpack.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	return data, nil
}

func decodeOrder(data []byte) (*Order, error) {
	var o Order
	if err := msgpack.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &o, nil
}

// Create stores a new empty order for the user and returns its id.
func (r *Repository) Create(ctx context.Context, userID string) (string, error) {
	id := uuid.New().String()
	data, err := encodeOrder(&Order{UserID: userID})
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, id, data, 0); err != nil {
		return "", err
	}
	return id, nil
}

// BatchInit creates n orders keyed "0".."n-1", each holding two random
// items of quantity one, for load seeding.
func (r *Repository) BatchInit(ctx context.Context, n, nItems, nUsers int, itemPrice int64) error {
	pairs := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		o := &Order{
			UserID: strconv.Itoa(rand.Intn(nUsers)),
			Items: []event.Item{
				{ID: strconv.Itoa(rand.Intn(nItems)), Quantity: 1},
				{ID: strconv.Itoa(rand.Intn(nItems)), Quantity: 1},
			},
			TotalCost: 2 * itemPrice,
		}
		data, err := encodeOrder(o)
		if err != nil {
			return err
		}
		pairs[strconv.Itoa(i)] = data
	}
	return r.store.MSet(ctx, pairs)
}

// Get loads one order.
func (r *Repository) Get(ctx context.Context, orderID string) (*Order, error) {
	data, err := r.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}
	return decodeOrder(data)
}

func (r *Repository) getTx(ctx context.Context, tx kv.Tx, orderID string) (*Order, error) {
	data, err := tx.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, err
	}
	return decodeOrder(data)
}

// AddItemTx merges (itemID, quantity) into the order inside an open
// transaction and returns the new total cost. A quantity for an item
// already present is summed into the existing entry.
func (r *Repository) AddItemTx(ctx context.Context, tx kv.Tx, orderID, itemID string, quantity, price int64) (int64, error) {
	o, err := r.getTx(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}

	merged := false
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			o.Items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		o.Items = append(o.Items, event.Item{ID: itemID, Quantity: quantity})
	}
	o.TotalCost += quantity * price

	data, err := encodeOrder(o)
	if err != nil {
		return 0, err
	}
	tx.Set(orderID, data, 0)
	return o.TotalCost, nil
}

// MarkPaidTx flips the paid flag inside an open transaction.
func (r *Repository) MarkPaidTx(ctx context.Context, tx kv.Tx, orderID string) error {
	o, err := r.getTx(ctx, tx, orderID)
	if err != nil {
		return err
	}
	o.Paid = true
	data, err := encodeOrder(o)
	if err != nil {
		return err
	}
	tx.Set(orderID, data, 0)
	return nil
}
