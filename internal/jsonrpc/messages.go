// Package jsonrpc implements the JSON-RPC 2.0 framing used by the MCP
// streamable HTTP transport: a discriminated envelope union (request,
// notification, response, error) plus a strict decoder that maps failures to
// protocol error codes.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the JSON-RPC version marker every envelope must carry.
const ProtocolVersion = "2.0"

// Message is the raw JSON form of a single JSON-RPC message.
type Message []byte

// AnyMessage is a decoded JSON-RPC message before classification. Exactly one
// of the request or response interpretations is valid; use Type, AsRequest
// and AsResponse to discriminate.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request is a JSON-RPC request (ID set) or notification (ID nil).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no correlation ID.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// NewNotification builds a notification-shaped request for the given method.
func NewNotification(method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal notification params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// Response is a JSON-RPC response carrying either a result or an error.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewResultResponse builds a successful response for the given request ID.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response with the given code and message.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// Decode parses and validates a single JSON-RPC message. Failures are always
// a *DecodeError: bad JSON maps to -32700, a structurally invalid envelope
// (wrong version marker, request with result, response with neither result
// nor error, batch array) maps to -32600.
func Decode(data []byte) (*AnyMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Err: fmt.Errorf("batch messages are not supported")}
	}
	var msg AnyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		if _, ok := err.(*json.SyntaxError); ok {
			return nil, &DecodeError{Code: ErrorCodeParseError, Err: fmt.Errorf("parse error: %w", err)}
		}
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Err: fmt.Errorf("invalid message: %w", err)}
		}
		return nil, &DecodeError{Code: ErrorCodeInvalidRequest, Err: err}
	}
	return &msg, nil
}

// Encode serializes a message built from well-formed parts. Encoding then
// decoding yields an equal message.
func Encode(v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return Message(b), nil
}

// UnmarshalJSON enforces JSON-RPC 2.0 structure while decoding.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type raw AnyMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	if r.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid jsonrpc version: want %q, got %q", ProtocolVersion, r.JSONRPCVersion)
	}

	hasMethod := r.Method != ""
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil

	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request cannot carry result or error")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response cannot carry both result and error")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("response must carry result or error")
	}

	*m = AnyMessage(r)
	return nil
}

// Type classifies the message as "request", "notification" or "response".
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the request view of the message, or nil for responses.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the response view of the message, or nil for requests.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
