// Package stock implements the stock participant: item records in the
// key-value store, the command worker of the checkout saga, and the HTTP
// boundary for direct item management.
package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertoN0/dds25--team4/pkg/event"
	"github.com/RobertoN0/dds25--team4/pkg/kv"
)

// Domain errors
var (
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Item is the stored stock record, keyed by item id.
type Item struct {
	Stock int64 `msgpack:"stock"`
	Price int64 `msgpack:"price"`
}

// Repository persists stock items.
type Repository struct {
	store kv.Store
}

// NewRepository creates a stock repository on the given store.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func encodeItem(it *Item) ([]byte, error) {
	data, err := msgpack.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item: %w", err)
	}
	return data, nil
}

func decodeItem(data []byte) (*Item, error) {
	var it Item
	if err := msgpack.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return &it, nil
}

// Create stores a new item with zero stock and returns its id.
func (r *Repository) Create(ctx context.Context, price int64) (string, error) {
	id := uuid.New().String()
	data, err := encodeItem(&Item{Stock: 0, Price: price})
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, id, data, 0); err != nil {
		return "", err
	}
	return id, nil
}

// BatchInit creates items keyed "0".."n-1", all with the same starting
// stock and price.
func (r *Repository) BatchInit(ctx context.Context, n int, startingStock, price int64) error {
	data, err := encodeItem(&Item{Stock: startingStock, Price: price})
	if err != nil {
		return err
	}
	pairs := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		pairs[strconv.Itoa(i)] = data
	}
	return r.store.MSet(ctx, pairs)
}

// Get loads one item.
func (r *Repository) Get(ctx context.Context, itemID string) (*Item, error) {
	data, err := r.store.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
		}
		return nil, err
	}
	return decodeItem(data)
}

func (r *Repository) getTx(ctx context.Context, tx kv.Tx, itemID string) (*Item, error) {
	data, err := tx.Get(ctx, itemID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
		}
		return nil, err
	}
	return decodeItem(data)
}

// SubtractTx subtracts the given quantities inside an open transaction.
// Every item is checked before any write is queued, so a failing item
// leaves the whole command unapplied.
func (r *Repository) SubtractTx(ctx context.Context, tx kv.Tx, items []event.Item) error {
	return r.adjustTx(ctx, tx, items, -1)
}

// AddTx adds the given quantities inside an open transaction. Used both
// for compensation and for direct restocking.
func (r *Repository) AddTx(ctx context.Context, tx kv.Tx, items []event.Item) error {
	return r.adjustTx(ctx, tx, items, +1)
}

func (r *Repository) adjustTx(ctx context.Context, tx kv.Tx, items []event.Item, sign int64) error {
	updated := make(map[string]*Item, len(items))
	order := make([]string, 0, len(items))

	for _, it := range items {
		rec, seen := updated[it.ID]
		if !seen {
			var err error
			rec, err = r.getTx(ctx, tx, it.ID)
			if err != nil {
				return err
			}
			updated[it.ID] = rec
			order = append(order, it.ID)
		}
		rec.Stock += sign * it.Quantity
		if rec.Stock < 0 {
			return fmt.Errorf("item %s: %w", it.ID, ErrInsufficientStock)
		}
	}

	for _, id := range order {
		data, err := encodeItem(updated[id])
		if err != nil {
			return err
		}
		tx.Set(id, data, 0)
	}
	return nil
}

// Adjust applies a single-item stock change in its own optimistic
// transaction. Backs the direct HTTP add/subtract endpoints.
func (r *Repository) Adjust(ctx context.Context, itemID string, delta int64) error {
	return r.store.Update(ctx, []string{itemID}, func(tx kv.Tx) error {
		rec, err := r.getTx(ctx, tx, itemID)
		if err != nil {
			return err
		}
		rec.Stock += delta
		if rec.Stock < 0 {
			return fmt.Errorf("item %s: %w", itemID, ErrInsufficientStock)
		}
		data, err := encodeItem(rec)
		if err != nil {
			return err
		}
		tx.Set(itemID, data, 0)
		return nil
	})
}

// WatchKeys returns the distinct item ids of a command, in order of first
// appearance.
func WatchKeys(items []event.Item) []string {
	seen := make(map[string]bool, len(items))
	keys := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ID] {
			seen[it.ID] = true
			keys = append(keys, it.ID)
		}
	}
	return keys
}
