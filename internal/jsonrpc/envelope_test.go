package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ValidEnvelope(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search"}}`)
	env, ok := Parse(body)
	require.True(t, ok)
	assert.Equal(t, "tools/call", env.Method)
	assert.Equal(t, "search", env.ToolName())
}

func TestParse_NonJSONRPCBody(t *testing.T) {
	_, ok := Parse([]byte(`{"foo":"bar"}`))
	assert.False(t, ok)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, ok := Parse([]byte(`not json`))
	assert.False(t, ok)
}

func TestToolName_NonToolCallMethodUsesMethodItself(t *testing.T) {
	env := Envelope{Method: "ping"}
	assert.Equal(t, "ping", env.ToolName())
}

func TestToolName_ToolCallWithoutNameFallsBackToMethod(t *testing.T) {
	env := Envelope{Method: "tools/call", Params: json.RawMessage(`{}`)}
	assert.Equal(t, "tools/call", env.ToolName())
}

func TestNewError_BuildsGovernanceEnvelope(t *testing.T) {
	id := json.RawMessage(`7`)
	body := NewError(id, CodeGovernanceBlock, "blocked by rbac", ErrorData{
		DecisionID:          "d1",
		Action:              "block_request",
		GuardrailsTriggered: []string{"rbac"},
		RetryAfterSeconds:   0,
	})

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded ErrorBody
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, CodeGovernanceBlock, decoded.Error.Code)
	assert.Equal(t, "d1", decoded.Error.Data.DecisionID)
	assert.Equal(t, []string{"rbac"}, decoded.Error.Data.GuardrailsTriggered)
	assert.NotContains(t, string(raw), "retry_after_seconds", "zero retry-after must be omitted")
}
