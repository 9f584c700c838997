// Package protocol implements the JSON-RPC 2.0 wire format of the Browser
// Agent Protocol: frame parsing and classification, the closed error
// taxonomy, and protocol version negotiation.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC version every frame must carry.
const Version = "2.0"

// FrameKind classifies a parsed frame.
type FrameKind int

const (
	FrameInvalid FrameKind = iota
	FrameRequest
	FrameResponse
	FrameNotification
)

func (k FrameKind) String() string {
	switch k {
	case FrameRequest:
		return "request"
	case FrameResponse:
		return "response"
	case FrameNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is the superset of the three JSON-RPC frame shapes. ID is kept raw
// so the client's integer is echoed byte-for-byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies the frame. A frame with a method and an id is a request,
// a method without an id is a notification, and a result or error with an id
// is a response. Anything else is invalid.
func (m *Message) Kind() FrameKind {
	if m.JSONRPC != Version {
		return FrameInvalid
	}
	hasID := len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
	switch {
	case m.Method != "" && hasID:
		return FrameRequest
	case m.Method != "":
		return FrameNotification
	case hasID && (m.Result != nil || m.Error != nil):
		return FrameResponse
	default:
		return FrameInvalid
	}
}

// Decode parses a wire frame. The error it returns is internal only; callers
// must answer the client with ErrParse and never echo parser details.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return &m, nil
}

// NewResponse builds a success response echoing the request id. The result
// is marshalled immediately so a marshalling failure surfaces as an internal
// error instead of a broken frame.
func NewResponse(id json.RawMessage, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response echoing the request id. A nil id
// produces the null id mandated for unparseable requests.
func NewErrorResponse(id json.RawMessage, err *Error) *Message {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Message{JSONRPC: Version, ID: id, Error: err}
}

// NewNotification builds a server-to-client notification frame.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding notification params: %w", err)
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// Encode serializes a frame for the wire.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}
