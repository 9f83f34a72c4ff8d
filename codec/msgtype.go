package codec

import (
	"encoding/json"

	"ws-rpc/message"
	"ws-rpc/status"
)

// MessageType binds an operation name to the converters for its request and
// response payloads. Names are matched case-insensitively by the handler
// table; a MessageType is immutable after construction.
type MessageType[Req, Res any] struct {
	name     string
	request  Converter[Req]
	response Converter[Res]
}

// NewMessageType creates a message type using the default JSON converters
// for both payloads.
func NewMessageType[Req, Res any](name string) MessageType[Req, Res] {
	return NewMessageTypeWith[Req, Res](name, JSON[Req](), JSON[Res]())
}

// NewMessageTypeWith creates a message type with explicit converters, for
// payloads the default JSON converter does not handle (raw fragments, void
// bodies, custom encodings).
func NewMessageTypeWith[Req, Res any](name string, request Converter[Req], response Converter[Res]) MessageType[Req, Res] {
	if name == "" {
		panic("codec: message type name cannot be empty")
	}
	if request == nil || response == nil {
		panic("codec: message type converters cannot be nil")
	}
	return MessageType[Req, Res]{name: name, request: request, response: response}
}

// Name returns the operation name.
func (mt MessageType[Req, Res]) Name() string { return mt.name }

// Request returns the request payload converter.
func (mt MessageType[Req, Res]) Request() Converter[Req] { return mt.request }

// Response returns the response payload converter.
func (mt MessageType[Req, Res]) Response() Converter[Res] { return mt.response }

// Built-in message types. STATUS accepts an arbitrary request fragment and
// answers with the service status; DEPENDENCY_UPDATED names the dependency
// whose location changed; CLOSE_ALL_SESSIONS carries no payload either way.
var (
	Status            = NewMessageTypeWith[json.RawMessage, status.ServiceStatus](message.OpStatus, Raw(), JSON[status.ServiceStatus]())
	DependencyUpdated = NewMessageTypeWith[string, None](message.OpDependencyUpdated, JSON[string](), Void())
	CloseAllSessions  = NewMessageTypeWith[None, None](message.OpCloseAllSessions, Void(), Void())
)
