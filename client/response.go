package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ws-rpc/codec"
	"ws-rpc/message"
)

// Response is a typed view over a reply envelope: it adjudicates success
// versus error and decodes the body on demand.
type Response[T any] struct {
	msg       *message.Message
	converter codec.Converter[T]
}

// NewResponse wraps a reply envelope. The message must be a response.
func NewResponse[T any](msg *message.Message, converter codec.Converter[T]) (*Response[T], error) {
	if msg == nil {
		return nil, errors.New("message cannot be nil")
	}
	if !msg.IsResponse() {
		return nil, fmt.Errorf("message with op %q is not a response", msg.Op)
	}
	if converter == nil {
		return nil, errors.New("converter cannot be nil")
	}
	return &Response[T]{msg: msg, converter: converter}, nil
}

// Message returns the underlying reply envelope.
func (r *Response[T]) Message() *message.Message { return r.msg }

// IsSuccessful reports whether the reply is a RESPONSE rather than an
// ERROR.
func (r *Response[T]) IsSuccessful() bool { return !r.msg.IsError() }

// Value decodes the response body. Do not rely on the zero value to detect
// failure - a successful response may itself decode to the zero value;
// check IsSuccessful or Err instead.
func (r *Response[T]) Value() (T, error) {
	var zero T
	if !r.IsSuccessful() {
		return zero, errors.New("response represents an error; inspect Err or ErrorDetails")
	}
	return r.converter.Deserialize(r.msg.Body)
}

// ErrorDetails decodes the error body. When the peer is a custom service
// that does not answer with serialized error details, the decode fails and
// the caller should fall back to RawError.
func (r *Response[T]) ErrorDetails() (*message.ErrorDetails, error) {
	if r.IsSuccessful() {
		return nil, nil
	}
	var details message.ErrorDetails
	if err := json.Unmarshal(r.msg.Body, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// RawError returns the error body without interpreting it.
func (r *Response[T]) RawError() json.RawMessage {
	if r.IsSuccessful() {
		return nil
	}
	return r.msg.Body
}

// Err surfaces an error reply as a *RequestError; it is nil for successful
// responses. When the error body cannot be decoded into error details, the
// raw body is carried instead.
func (r *Response[T]) Err() error {
	if r.IsSuccessful() {
		return nil
	}
	details, err := r.ErrorDetails()
	if err != nil {
		return &RequestError{Raw: r.RawError()}
	}
	return &RequestError{Details: details, Raw: r.RawError()}
}

// RoundtripMillis is the wall time between the request's send and the
// reply's arrival, or zero when the timing marks are missing.
func (r *Response[T]) RoundtripMillis() int64 {
	if r.msg.ReceivedMillis == nil || r.msg.SentMillis == nil {
		return 0
	}
	return *r.msg.ReceivedMillis - *r.msg.SentMillis
}

// ProcessingMillis is the time the handler spent on the request, or zero
// when the timing marks are missing.
func (r *Response[T]) ProcessingMillis() int64 {
	if r.msg.StopProcessingMillis == nil || r.msg.StartProcessingMillis == nil {
		return 0
	}
	return *r.msg.StopProcessingMillis - *r.msg.StartProcessingMillis
}

// NetworkLatencyMillis is roundtrip minus processing. The two sides stamp
// with their own clocks, so skew can make this negative; it is reported
// as-is.
func (r *Response[T]) NetworkLatencyMillis() int64 {
	return r.RoundtripMillis() - r.ProcessingMillis()
}

// RequestError is the framework-level error surfaced for an ERROR reply.
type RequestError struct {
	Details *message.ErrorDetails
	Raw     json.RawMessage
}

func (e *RequestError) Error() string {
	if e.Details != nil {
		if len(e.Details.Reasons) > 0 {
			return fmt.Sprintf("%s: %s", e.Details.Error, strings.Join(e.Details.Reasons, ": "))
		}
		return e.Details.Error
	}
	if len(e.Raw) > 0 {
		return string(e.Raw)
	}
	return "request failed"
}
