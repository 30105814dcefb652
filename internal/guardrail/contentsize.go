// Package guardrail: ContentSizeEvaluator (§4.6), built on the shared
// internal/jsonwalk traversal per the "body traversal" design note.
package guardrail

import (
	"context"
	"regexp"

	"github.com/cerberusgw/gateway/internal/jsonwalk"
	"github.com/cerberusgw/gateway/internal/policy"
)

// ContentSizeEvaluator implements the three content-size variants. Which
// variant an instance checks is fixed by its guardrailType.
type ContentSizeEvaluator struct {
	guardrailType policy.GuardrailType
}

func NewContentSizeEvaluator(t policy.GuardrailType) *ContentSizeEvaluator {
	return &ContentSizeEvaluator{guardrailType: t}
}

func (e *ContentSizeEvaluator) Type() policy.GuardrailType { return e.guardrailType }

func (e *ContentSizeEvaluator) SupportsDirection(d Direction) bool { return true }

func (e *ContentSizeEvaluator) Evaluate(ctx context.Context, direction Direction, body interface{}, rc Context, action policy.Action, cfg map[string]interface{}) (Result, error) {
	if body == nil {
		return Result{Action: ActionAllow}, nil
	}

	var violated bool
	var limitField string
	var limitValue int

	switch e.guardrailType {
	case policy.GuardrailContentLargeDocuments:
		limitValue = intConfig(cfg, "max_chars", 50000)
		limitField = "max_chars"
		violated = jsonwalk.AnyStringOver(body, limitValue)
	case policy.GuardrailContentStructuredData:
		limitValue = intConfig(cfg, "max_rows", 1000)
		limitField = "max_rows"
		violated = jsonwalk.AnyArrayOver(body, limitValue)
	case policy.GuardrailContentSourceCode:
		limitValue = intConfig(cfg, "max_chars", 20000)
		limitField = "max_chars"
		violated = anyCodeOver(body, limitValue)
	}

	if !violated {
		return Result{Action: ActionAllow, Triggered: false}, nil
	}

	details := map[string]interface{}{"guardrail_type": string(e.guardrailType), limitField: limitValue}

	if action == policy.ActionLogOnly {
		return Result{Action: ActionLogOnly, Triggered: true, Details: details}, nil
	}
	return Result{Action: ActionBlock, Triggered: true, Details: details}, nil
}

var fencedCodeBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*\\n?(.*?)```")

// anyCodeOver detects the two code-leaf shapes named in §4.6: a
// triple-backtick fenced section embedded in free text, or an explicit
// `"type": "code"` object whose text-bearing field is the code. It stops
// at the first violation.
func anyCodeOver(node interface{}, maxChars int) bool {
	switch v := node.(type) {
	case string:
		for _, m := range fencedCodeBlock.FindAllStringSubmatch(v, -1) {
			if len([]rune(m[1])) > maxChars {
				return true
			}
		}
		return false
	case []interface{}:
		for _, e := range v {
			if anyCodeOver(e, maxChars) {
				return true
			}
		}
		return false
	case map[string]interface{}:
		if t, ok := v["type"].(string); ok && t == "code" {
			for _, field := range []string{"content", "text", "code"} {
				if s, ok := v[field].(string); ok && len([]rune(s)) > maxChars {
					return true
				}
			}
		}
		for _, val := range v {
			if anyCodeOver(val, maxChars) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
