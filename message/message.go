// Package message defines the envelope exchanged between services on every
// WebSocket frame.
//
// Message is the wire object for a single call leg. It gets serialized to a
// single JSON document by the transport layer and carries the correlation
// id, the operation name, the raw body, and the timing marks used for
// roundtrip/processing measurements.
//
//   - On request:  Op names the operation, ID is set iff a response is
//     expected, Body contains the already-encoded request payload.
//   - On response: Op is RESPONSE or ERROR, ID is copied verbatim from the
//     request, Body contains the encoded result (or the error details).
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Reserved operation names. User-defined operations must not collide with
// these (comparison is case-insensitive).
const (
	OpResponse          = "RESPONSE"
	OpError             = "ERROR"
	OpStatus            = "STATUS"
	OpDependencyUpdated = "DEPENDENCY_UPDATED"
	OpCloseAllSessions  = "CLOSE_ALL_SESSIONS"
)

// Message is the envelope for a single request or response.
//
// The Body field is an already-encoded JSON fragment: it is written to the
// wire raw (embedded, never double-encoded as a string). All timing marks
// are epoch milliseconds and nullable; unknown fields are ignored on decode
// and missing fields decode to nil.
//
// A quirk carried over for roundtrip measurement: SentMillis on a response
// is the *request's* send time, copied by the response factories, so the
// caller can compute receivedMillis-sentMillis without keeping the request
// around.
type Message struct {
	ID                    *string         `json:"id"`
	Op                    string          `json:"op"`
	Body                  json.RawMessage `json:"body"`
	SentMillis            *int64          `json:"sentMillis"`
	ReceivedMillis        *int64          `json:"receivedMillis"`
	StartProcessingMillis *int64          `json:"startProcessingMillis"`
	StopProcessingMillis  *int64          `json:"stopProcessingMillis"`
}

// IsResponseOp reports whether op names one of the reply operations.
func IsResponseOp(op string) bool {
	return strings.EqualFold(op, OpResponse) || IsErrorOp(op)
}

// IsErrorOp reports whether op is the error reply operation.
func IsErrorOp(op string) bool {
	return strings.EqualFold(op, OpError)
}

// IsReservedOp reports whether op collides with a built-in operation name.
func IsReservedOp(op string) bool {
	for _, reserved := range []string{OpResponse, OpError, OpStatus, OpDependencyUpdated, OpCloseAllSessions} {
		if strings.EqualFold(op, reserved) {
			return true
		}
	}
	return false
}

// NowMillis returns the current wall clock as epoch milliseconds, ready to
// assign to a timing mark.
func NowMillis() *int64 {
	now := time.Now().UnixMilli()
	return &now
}

// New creates a message that can be sent between services. When
// expectsResponse is true a fresh globally-unique request id is minted;
// otherwise the message has no id and is fire-and-forget.
//
// The reply operations RESPONSE and ERROR are rejected here - replies may
// only be produced through NewSuccessResponse and NewErrorResponse, in
// reaction to a request.
func New(expectsResponse bool, op string, body json.RawMessage) (*Message, error) {
	if IsErrorOp(op) {
		return nil, errors.New("use NewErrorResponse when creating an error response")
	}
	if IsResponseOp(op) {
		return nil, errors.New("use NewSuccessResponse when creating a successful response")
	}

	msg := &Message{Op: op, Body: body}
	if expectsResponse {
		id := ulid.Make().String()
		msg.ID = &id
	}
	return msg, nil
}

// NewSuccessResponse creates the successful reply to a previous request.
// The request id is copied verbatim, and the request's SentMillis is carried
// over so the caller can compute the roundtrip time from the reply alone.
func NewSuccessResponse(request *Message, body json.RawMessage) (*Message, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	if !request.ExpectsResponse() {
		return nil, errors.New("the request message is not expecting a response")
	}

	return &Message{
		ID:         request.ID,
		Op:         OpResponse,
		Body:       body,
		SentMillis: request.SentMillis,
	}, nil
}

// NewErrorResponse creates an error reply. The request may be nil when the
// triggering request is unknown (e.g. a transport-level fault), in which
// case the reply carries no correlation id. stackDepth bounds the number of
// stack frames serialized into the error details; 0 includes none.
func NewErrorResponse(request *Message, cause error, stackDepth int) *Message {
	msg := &Message{Op: OpError}
	if request != nil {
		msg.ID = request.ID
		msg.SentMillis = request.SentMillis
	}

	details := NewErrorDetails(cause, stackDepth)
	body, err := json.Marshal(details)
	if err != nil {
		// The details are plain strings and ints, so this should never
		// happen; fall back to a minimal body rather than failing the
		// error path.
		body = json.RawMessage(fmt.Sprintf(`{"error":%q}`, cause.Error()))
	}
	msg.Body = body

	return msg
}

// IsResponse reports whether this message is a reply to a previous request.
func (m *Message) IsResponse() bool {
	return m.ID != nil && IsResponseOp(m.Op)
}

// IsError reports whether this message conveys an error.
func (m *Message) IsError() bool {
	return IsErrorOp(m.Op)
}

// ExpectsResponse reports whether the sender of this message is waiting for
// a reply.
func (m *Message) ExpectsResponse() bool {
	return m.ID != nil && !m.IsResponse()
}

// RequestID returns the correlation id, or the empty string when the message
// does not participate in a request/response pair.
func (m *Message) RequestID() string {
	if m.ID == nil {
		return ""
	}
	return *m.ID
}
