package codec

import (
	"github.com/bytedance/sonic"

	"tradecore/internal/schema"
)

// api sorts map keys so identical values always encode to identical bytes.
var api = sonic.ConfigStd

// Encode serializes a record payload.
func Encode(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Decode deserializes a record payload into v.
func Decode(payload []byte, v any) error {
	return api.Unmarshal(payload, v)
}

// DecodeFill decodes a fill record payload.
func DecodeFill(payload []byte) (schema.Fill, error) {
	var f schema.Fill
	err := api.Unmarshal(payload, &f)
	return f, err
}

// DecodeOrder decodes an order record payload.
func DecodeOrder(payload []byte) (schema.Order, error) {
	var o schema.Order
	err := api.Unmarshal(payload, &o)
	return o, err
}

// DecodePosition decodes a position record payload.
func DecodePosition(payload []byte) (schema.Position, error) {
	var p schema.Position
	err := api.Unmarshal(payload, &p)
	return p, err
}
