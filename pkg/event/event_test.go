package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemEncodesAsPair(t *testing.T) {
	data, err := json.Marshal(Item{ID: "item-1", Quantity: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `["item-1", 3]`, string(data))

	var it Item
	require.NoError(t, json.Unmarshal([]byte(`["item-2", 7]`), &it))
	assert.Equal(t, "item-2", it.ID)
	assert.Equal(t, int64(7), it.Quantity)
}

func TestItemRejectsNonPair(t *testing.T) {
	var it Item
	assert.Error(t, json.Unmarshal([]byte(`{"id":"x"}`), &it))
	assert.Error(t, json.Unmarshal([]byte(`[1, "x"]`), &it))
}

func TestEventRoundTrip(t *testing.T) {
	in := &Event{
		Type:          TypeCheckoutRequested,
		CorrelationID: "corr-1",
		OrderID:       "order-1",
		UserID:        "user-1",
		Items:         []Item{{ID: "a", Quantity: 2}, {ID: "b", Quantity: 1}},
		Amount:        30,
	}

	data, err := in.Marshal()
	require.NoError(t, err)

	out, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEventOmitsEmptyFields(t *testing.T) {
	data, err := (&Event{Type: TypeFindItem, CorrelationID: "c", ItemID: "i"}).Marshal()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "type")
	assert.Contains(t, raw, "correlation_id")
	assert.Contains(t, raw, "item_id")
	assert.NotContains(t, raw, "items")
	assert.NotContains(t, raw, "amount")
	assert.NotContains(t, raw, "error")
}

func TestUnmarshalRejectsMissingType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"correlation_id":"c"}`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	in := &Event{Type: TypePay, CorrelationID: "c", Items: []Item{{ID: "a", Quantity: 1}}}
	c := in.Clone()
	c.Items[0].Quantity = 99
	assert.Equal(t, int64(1), in.Items[0].Quantity)
}

func TestWithType(t *testing.T) {
	in := &Event{Type: TypePay, CorrelationID: "c", UserID: "u", Amount: 10}
	out := in.WithType(TypePaymentProcessed)
	assert.Equal(t, TypePaymentProcessed, out.Type)
	assert.Equal(t, "u", out.UserID)
	assert.Equal(t, int64(10), out.Amount)
	assert.Equal(t, TypePay, in.Type)
}

func TestIdempotencyKey(t *testing.T) {
	e := &Event{Type: TypeSubtractStock, CorrelationID: "corr-9"}
	assert.Equal(t, "SubtractStock:corr-9", e.IdempotencyKey())
}

func TestResponseStream(t *testing.T) {
	assert.Equal(t, "order_response:abc", ResponseStream("abc"))
}

func TestStoredRoundTrip(t *testing.T) {
	in := &Event{
		Type:          TypeStockSubtracted,
		CorrelationID: "corr-2",
		OrderID:       "order-2",
		Items:         []Item{{ID: "a", Quantity: 4}},
	}

	data, err := EncodeStored(in)
	require.NoError(t, err)

	out, err := DecodeStored(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeStoredRejectsGarbage(t *testing.T) {
	_, err := DecodeStored([]byte("\xc1garbage"))
	assert.Error(t, err)
}
