// Package payment implements the payment participant: user credit
// balances in the key-value store, the Pay/Refund worker of the checkout
// saga, and the HTTP boundary for direct account management.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RobertoN0/dds25--team4/pkg/kv"
)

// Domain errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("INSUFFICIENT FUNDS")
)

// User is the stored account record, keyed by user id.
type User struct {
	Credit int64 `msgpack:"credit"`
}

// Repository persists user accounts.
type Repository struct {
	store kv.Store
}

// NewRepository creates a payment repository on the given store.
func NewRepository(store kv.Store) *Repository {
	return &Repository{store: store}
}

func encodeUser(u *User) ([]byte, error) {
	data, err := msgpack.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	return data, nil
}

func decodeUser(data []byte) (*User, error) {
	var u User
	if err := msgpack.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// Create stores a new user with zero credit and returns its id.
func (r *Repository) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	data, err := encodeUser(&User{Credit: 0})
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, id, data, 0); err != nil {
		return "", err
	}
	return id, nil
}

// BatchInit creates users keyed "0".."n-1", all with the same starting
// credit.
func (r *Repository) BatchInit(ctx context.Context, n int, startingMoney int64) error {
	data, err := encodeUser(&User{Credit: startingMoney})
	if err != nil {
		return err
	}
	pairs := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		pairs[strconv.Itoa(i)] = data
	}
	return r.store.MSet(ctx, pairs)
}

// Get loads one user.
func (r *Repository) Get(ctx context.Context, userID string) (*User, error) {
	data, err := r.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
		}
		return nil, err
	}
	return decodeUser(data)
}

func (r *Repository) getTx(ctx context.Context, tx kv.Tx, userID string) (*User, error) {
	data, err := tx.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
		}
		return nil, err
	}
	return decodeUser(data)
}

// PayTx withdraws amount inside an open transaction and returns the
// remaining credit.
func (r *Repository) PayTx(ctx context.Context, tx kv.Tx, userID string, amount int64) (int64, error) {
	return r.adjustTx(ctx, tx, userID, -amount)
}

// RefundTx deposits amount inside an open transaction and returns the
// resulting credit.
func (r *Repository) RefundTx(ctx context.Context, tx kv.Tx, userID string, amount int64) (int64, error) {
	return r.adjustTx(ctx, tx, userID, +amount)
}

func (r *Repository) adjustTx(ctx context.Context, tx kv.Tx, userID string, delta int64) (int64, error) {
	u, err := r.getTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	u.Credit += delta
	if u.Credit < 0 {
		return 0, fmt.Errorf("user %s: %w", userID, ErrInsufficientFunds)
	}
	data, err := encodeUser(u)
	if err != nil {
		return 0, err
	}
	tx.Set(userID, data, 0)
	return u.Credit, nil
}

// Adjust applies a single credit change in its own optimistic
// transaction. Backs the direct HTTP add_funds/pay endpoints.
func (r *Repository) Adjust(ctx context.Context, userID string, delta int64) (int64, error) {
	var credit int64
	err := r.store.Update(ctx, []string{userID}, func(tx kv.Tx) error {
		var err error
		credit, err = r.adjustTx(ctx, tx, userID, delta)
		return err
	})
	return credit, err
}
