// Package codec binds operation names to the serializer/deserializer pair
// used for their request and response payloads.
//
// Payloads travel inside the message envelope as already-encoded JSON
// fragments (json.RawMessage), so converters translate between Go values
// and raw fragments - the envelope serializer then embeds the fragment
// verbatim instead of quoting it.
package codec

import (
	"bytes"
	"encoding/json"
)

// None is the payload type of operations that carry no request or response
// body. Its converter encodes to a null body.
type None struct{}

// Converter translates between a typed payload and its raw JSON form.
type Converter[T any] interface {
	Serialize(value T) (json.RawMessage, error)
	Deserialize(body json.RawMessage) (T, error)
}

// JSON returns the default converter for T, backed by encoding/json.
// A missing or null body deserializes to the zero value.
func JSON[T any]() Converter[T] {
	return jsonConverter[T]{}
}

// Raw returns the identity converter: the payload is passed through as an
// opaque JSON fragment. This is the "any" type of the framework.
func Raw() Converter[json.RawMessage] {
	return rawConverter{}
}

// Void returns the converter for operations without a payload: it encodes
// to a null body and ignores whatever body arrives.
func Void() Converter[None] {
	return voidConverter{}
}

type jsonConverter[T any] struct{}

func (jsonConverter[T]) Serialize(value T) (json.RawMessage, error) {
	return json.Marshal(value)
}

func (jsonConverter[T]) Deserialize(body json.RawMessage) (T, error) {
	var value T
	if isNullBody(body) {
		return value, nil
	}
	err := json.Unmarshal(body, &value)
	return value, err
}

type rawConverter struct{}

func (rawConverter) Serialize(value json.RawMessage) (json.RawMessage, error) {
	return value, nil
}

func (rawConverter) Deserialize(body json.RawMessage) (json.RawMessage, error) {
	return body, nil
}

type voidConverter struct{}

func (voidConverter) Serialize(None) (json.RawMessage, error) {
	return nil, nil
}

func (voidConverter) Deserialize(json.RawMessage) (None, error) {
	return None{}, nil
}

// isNullBody reports whether body encodes "no payload": absent, empty, or a
// JSON null literal.
func isNullBody(body json.RawMessage) bool {
	return len(body) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}
