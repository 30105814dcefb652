package guardrail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerberusgw/gateway/internal/policy"
)

func TestContentSizeEvaluator_LargeDocuments(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentLargeDocuments)
	cfg := map[string]interface{}{"max_chars": 10}

	t.Run("under limit allows", func(t *testing.T) {
		body := map[string]interface{}{"text": "short"}
		result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
		require.NoError(t, err)
		assert.Equal(t, ActionAllow, result.Action)
	})

	t.Run("over limit blocks", func(t *testing.T) {
		body := map[string]interface{}{"text": strings.Repeat("a", 50)}
		result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
		require.NoError(t, err)
		assert.Equal(t, ActionBlock, result.Action)
		assert.True(t, result.Triggered)
	})
}

func TestContentSizeEvaluator_StructuredData(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentStructuredData)
	cfg := map[string]interface{}{"max_rows": 2}

	rows := []interface{}{"a", "b", "c"}
	body := map[string]interface{}{"rows": rows}
	result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
}

func TestContentSizeEvaluator_SourceCodeFenced(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentSourceCode)
	cfg := map[string]interface{}{"max_chars": 10}

	body := map[string]interface{}{
		"text": "here is code:\n```go\n" + strings.Repeat("x", 50) + "\n```\nend",
	}
	result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
}

func TestContentSizeEvaluator_SourceCodeExplicitType(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentSourceCode)
	cfg := map[string]interface{}{"max_chars": 10}

	body := map[string]interface{}{
		"type": "code",
		"text": strings.Repeat("y", 50),
	}
	result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
}

func TestContentSizeEvaluator_LogOnlyDoesNotBlock(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentLargeDocuments)
	cfg := map[string]interface{}{"max_chars": 5}
	body := map[string]interface{}{"text": "well over the limit"}
	result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionLogOnly, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionLogOnly, result.Action)
	assert.True(t, result.Triggered)
}

func TestContentSizeEvaluator_SinglePassStopsAtFirstViolation(t *testing.T) {
	ev := NewContentSizeEvaluator(policy.GuardrailContentLargeDocuments)
	cfg := map[string]interface{}{"max_chars": 3}
	body := map[string]interface{}{
		"a": strings.Repeat("a", 10),
		"b": strings.Repeat("b", 10),
	}
	result, err := ev.Evaluate(context.Background(), DirectionResponse, body, Context{}, policy.ActionBlock, cfg)
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
}
