package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates the body was not valid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON was not a structurally valid
	// JSON-RPC message.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates the params did not match the method's
	// expected shape.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an unexpected server-side failure.
	ErrorCodeInternalError ErrorCode = -32603

	// Implementation-defined range (-32000..-32099).

	// ErrorCodeSessionNotFound indicates the session identifier is missing,
	// unknown, or refers to a closed session. Clients should re-initialize.
	ErrorCodeSessionNotFound ErrorCode = -32001
	// ErrorCodeUnsupportedProtocolVersion indicates no overlap between the
	// client's requested protocol version and the server's supported set.
	ErrorCodeUnsupportedProtocolVersion ErrorCode = -32002
)

// DecodeError is returned by Decode when the payload cannot be turned into a
// well-formed message. Code is always ErrorCodeParseError (bad JSON) or
// ErrorCodeInvalidRequest (valid JSON, invalid envelope).
type DecodeError struct {
	Code ErrorCode
	Err  error
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
