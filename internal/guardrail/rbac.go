// Package guardrail: RBACEvaluator (§4.4), grounded on the reference
// codebase's pattern_validator.go glob/regex matching idiom, simplified to
// the `*`-as-zero-or-more wildcard the spec calls for (full-string,
// case-sensitive match — no regex engine needed).
package guardrail

import (
	"context"
	"strings"

	"github.com/cerberusgw/gateway/internal/policy"
)

// RBACEvaluator implements §4.4's tool allow/deny matching. It runs only on
// the request direction.
type RBACEvaluator struct{}

func NewRBACEvaluator() *RBACEvaluator { return &RBACEvaluator{} }

func (e *RBACEvaluator) Type() policy.GuardrailType { return policy.GuardrailRBAC }

func (e *RBACEvaluator) SupportsDirection(d Direction) bool { return d == DirectionRequest }

func (e *RBACEvaluator) Evaluate(ctx context.Context, direction Direction, body interface{}, rc Context, action policy.Action, cfg map[string]interface{}) (Result, error) {
	if direction != DirectionRequest {
		return Result{Action: ActionAllow}, nil
	}

	denied := stringSliceConfig(cfg, "denied_tools")
	allowed := stringSliceConfig(cfg, "allowed_tools")
	defaultAction := stringConfig(cfg, "default_action", "allow")

	tool := rc.ToolName

	// 1. Any denied_tools pattern match -> block.
	for _, pat := range denied {
		if globMatch(pat, tool) {
			return Result{
				Action:    ActionBlock,
				Triggered: true,
				Details:   map[string]interface{}{"matched_pattern": pat, "list": "denied_tools", "tool": tool},
			}, nil
		}
	}

	// 2/3. allowed_tools non-empty: match -> allow, no match -> block.
	if len(allowed) > 0 {
		for _, pat := range allowed {
			if globMatch(pat, tool) {
				return Result{
					Action:    ActionAllow,
					Triggered: false,
					Details:   map[string]interface{}{"matched_pattern": pat, "list": "allowed_tools", "tool": tool},
				}, nil
			}
		}
		return Result{
			Action:    ActionBlock,
			Triggered: true,
			Details:   map[string]interface{}{"reason": "not in allowed_tools", "tool": tool},
		}, nil
	}

	// 4. default_action.
	if defaultAction == "deny" {
		return Result{Action: ActionBlock, Triggered: true, Details: map[string]interface{}{"reason": "default_action=deny", "tool": tool}}, nil
	}
	return Result{Action: ActionAllow, Triggered: false}, nil
}

// globMatch implements the spec's restricted glob: `*` matches zero or more
// of any character, full-string, case-sensitive. No other metacharacters
// are special.
func globMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := len(segments) - 1
	for i := 1; i < last; i++ {
		seg := segments[i]
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}

	return strings.HasSuffix(s, segments[last])
}
