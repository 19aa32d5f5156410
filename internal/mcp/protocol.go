// Package mcp implements the tool registry and the JSON-RPC dispatch path:
// typed tool schemas, argument validation, handler invocation under a
// deadline, and the uniform error envelope with stable numeric codes.
package mcp

import (
	"context"
	"encoding/json"
)

// ParamType is one of the six primitive parameter kinds.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes. These are stable wire contract; never renumber.
const (
	CodeToolNotFound   = -32000
	CodeToolExecution  = -32001
	CodeAuthentication = -32002
	CodeRateLimited    = -32003 // also carries SAFEGUARD block payloads
	CodeExternalAPI    = -32004
	CodeValidation     = -32005
	CodeTimeout        = -32006
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
	Enum        []any
	// Items describes array element schemas; Properties nested objects.
	// Both are optional and shallow.
	Items      *Parameter
	Properties []Parameter
}

// Handler executes a tool call. Arguments have already been validated
// against the schema; ctx carries the per-call deadline.
type Handler func(ctx context.Context, cc *CallContext, args map[string]any) (any, error)

// Tool binds a name and schema to a handler.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// InputSchema is the JSON-Schema-shaped public description of a tool's
// arguments, as emitted on /mcp/tools and the SSE discovery event.
type InputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]map[string]any `json:"properties"`
	Required   []string                  `json:"required"`
}

// ToolSchema is the discovery record for one tool.
type ToolSchema struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	InputSchema   InputSchema `json:"inputSchema"`
	SecurityLevel string      `json:"security_level,omitempty"`
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  RequestParams   `json:"params"`
}

// RequestParams carries the tool call payload.
type RequestParams struct {
	Name       string         `json:"name"`
	Arguments  map[string]any `json:"arguments"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObj       `json:"error,omitempty"`
}

// ErrorObj is the JSON-RPC error member.
type ErrorObj struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Error implements the error interface so ErrorObj values can flow through
// normal error returns.
func (e *ErrorObj) Error() string {
	return e.Message
}

// NewResponse builds a success response for the given request id.
func NewResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id json.RawMessage, code int, message string, data map[string]any) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &ErrorObj{Code: code, Message: message, Data: data}}
}
