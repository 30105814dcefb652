// Package jsonrpc implements the thin slice of JSON-RPC 2.0 the gateway
// needs: extracting the method/tool name from a request envelope and
// constructing the governance error envelope on block/throttle/upstream
// failure. It never interprets MCP semantics beyond that.
package jsonrpc

import "encoding/json"

// Error codes for the governance error envelope (§6).
const (
	CodeGovernanceBlock = -32001
	CodeUpstreamTimeout = -32002
	CodeUpstreamError   = -32003
)

// Envelope is the subset of a JSON-RPC 2.0 request this gateway inspects.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type toolCallParams struct {
	Name string `json:"name"`
}

// ToolName extracts the effective tool name from a decoded envelope: for
// method "tools/call" it is params.name, otherwise the method itself.
func (e *Envelope) ToolName() string {
	if e.Method == "tools/call" {
		var p toolCallParams
		if err := json.Unmarshal(e.Params, &p); err == nil && p.Name != "" {
			return p.Name
		}
	}
	return e.Method
}

// Parse attempts to decode body as a JSON-RPC envelope. It returns ok=false
// (not an error) when the body isn't a JSON-RPC request — callers treat that
// as "skip content-aware guardrails", not a failure.
func Parse(body []byte) (*Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, false
	}
	if e.Method == "" {
		return nil, false
	}
	return &e, true
}

// ErrorData is the "data" object of the governance error envelope.
type ErrorData struct {
	DecisionID          string   `json:"decision_id"`
	Action              string   `json:"action"`
	GuardrailsTriggered []string `json:"guardrails_triggered"`
	RetryAfterSeconds   int      `json:"retry_after_seconds,omitempty"`
}

// ErrorBody is the full error response shape on block/throttle.
type ErrorBody struct {
	JSONRPC string `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   struct {
		Code    int       `json:"code"`
		Message string    `json:"message"`
		Data    ErrorData `json:"data"`
	} `json:"error"`
}

// NewError builds the JSON-RPC error envelope described in §6.
func NewError(id json.RawMessage, code int, message string, data ErrorData) *ErrorBody {
	body := &ErrorBody{JSONRPC: "2.0", ID: id}
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Data = data
	return body
}
