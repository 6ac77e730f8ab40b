package event

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Stored values (domain records, idempotency records) use msgpack; only
// the bus payload is JSON.

var (
	_ msgpack.CustomEncoder = (*Item)(nil)
	_ msgpack.CustomDecoder = (*Item)(nil)
)

// EncodeMsgpack encodes the item as the same [id, quantity] pair used on
// the wire.
func (it *Item) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(it.ID); err != nil {
		return err
	}
	return enc.EncodeInt(it.Quantity)
}

// DecodeMsgpack decodes [id, quantity].
func (it *Item) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("item must be a [id, quantity] pair, got %d elements", n)
	}
	if it.ID, err = dec.DecodeString(); err != nil {
		return err
	}
	it.Quantity, err = dec.DecodeInt64()
	return err
}

// EncodeStored encodes an event for storage under an idempotency key.
func EncodeStored(e *Event) ([]byte, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stored %s event: %w", e.Type, err)
	}
	return data, nil
}

// DecodeStored decodes an event stored under an idempotency key.
func DecodeStored(data []byte) (*Event, error) {
	var e Event
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode stored event: %w", err)
	}
	return &e, nil
}
