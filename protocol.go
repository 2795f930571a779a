package datamcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode"
)

// ProtocolVersion is the JSON-RPC protocol version carried in every envelope.
const ProtocolVersion = "2.0"

// JSON-RPC error codes. These are a wire contract shared with clients and
// must not change.
const (
	ErrCodeParse          = -32700
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
	ErrCodeApplication    = -32000
)

// Method names understood by the dispatcher.
const (
	MethodInitialize   = "initialize"
	MethodShutdown     = "shutdown"
	MethodListTables   = "list_tables"
	MethodDiscoverData = "discover_data"
	MethodPrepareQuery = "prepare_query"
	MethodQuery        = "query"

	MethodCodeCompletion    = "code_completion"
	MethodCodeAnalysis      = "code_analysis"
	MethodCodeDocumentation = "code_documentation"
)

// NullID is the id used in responses when no id could be recovered from the
// request payload.
var NullID = RequestID("null")

// RequestID holds the raw JSON value of an envelope's "id" field. Keeping the
// raw bytes lets string and integer ids round-trip unchanged into the
// matching response.
type RequestID json.RawMessage

// Valid reports whether the id is a JSON string or number, the only forms
// the protocol allows.
func (id RequestID) Valid() bool {
	if len(id) == 0 {
		return false
	}
	c := rune(id[0])
	return c == '"' || c == '-' || unicode.IsDigit(c)
}

// MarshalJSON emits the raw id bytes, or null when the id is unset.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(id).MarshalJSON()
}

// UnmarshalJSON stores a compacted copy of the raw id bytes.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(id).UnmarshalJSON(data)
}

// Equal reports whether two ids carry the same JSON value.
func (id RequestID) Equal(other RequestID) bool {
	return bytes.Equal(id, other)
}

// Envelope represents a JSON-RPC 2.0 message. A request populates Method and
// optionally Params; a response populates exactly one of Result or Error.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// DecodeEnvelope parses a request body into an Envelope. It fails with a
// ParseError-coded *Error when the body is not a JSON object or the required
// id and method fields are absent or wrongly typed.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &Error{Code: ErrCodeParse, Message: "Parse error",
			Data: map[string]any{"detail": err.Error()}}
	}
	if env.JSONRPC != "" && env.JSONRPC != ProtocolVersion {
		return Envelope{}, &Error{Code: ErrCodeParse, Message: "Parse error",
			Data: map[string]any{"detail": fmt.Sprintf("unsupported jsonrpc version %q", env.JSONRPC)}}
	}
	if !env.ID.Valid() {
		return Envelope{}, &Error{Code: ErrCodeParse, Message: "Parse error",
			Data: map[string]any{"detail": "missing or invalid id"}}
	}
	if env.Method == "" {
		return Envelope{}, &Error{Code: ErrCodeParse, Message: "Parse error",
			Data: map[string]any{"detail": "missing method"}}
	}
	env.JSONRPC = ProtocolVersion
	return env, nil
}

// RecoverID extracts a best-effort id from a payload that failed to decode so
// the error response can still correlate with the request. It returns NullID
// when nothing usable is found.
func RecoverID(data []byte) RequestID {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return NullID
	}
	if id := RequestID(probe.ID); id.Valid() {
		return id
	}
	return NullID
}

// NewResult builds a success envelope. The result value is marshaled
// immediately; a marshal failure degrades to an internal error envelope so
// the caller always holds a valid response.
func NewResult(id RequestID, result any) Envelope {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewError(id, ErrCodeInternal, "Internal error", nil)
	}
	return Envelope{JSONRPC: ProtocolVersion, ID: id, Result: raw}
}

// NewError builds an error envelope.
func NewError(id RequestID, code int, message string, data map[string]any) Envelope {
	return Envelope{
		JSONRPC: ProtocolVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	bs, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return bs, nil
}
