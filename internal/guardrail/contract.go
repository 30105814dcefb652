// Package guardrail defines the evaluator contract (§4.3) and the concrete
// evaluator families, implemented as a tagged-variant dispatch per the §9
// design note: each evaluator is a value carrying its kind and a pure
// evaluation function, rather than a registry of name→implementation
// objects.
package guardrail

import (
	"context"

	"github.com/cerberusgw/gateway/internal/policy"
)

// Direction is which leg of a request the evaluator is running against.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// ResultAction is the outcome an evaluator returns for one (direction,
// body) pair.
type ResultAction string

const (
	ActionAllow    ResultAction = "allow"
	ActionBlock    ResultAction = "block"
	ActionRedact   ResultAction = "redact_with"
	ActionThrottle ResultAction = "throttle"
	ActionLogOnly  ResultAction = "log_only"
)

// Result is the per-evaluator outcome (§4.3).
type Result struct {
	Action        ResultAction
	Triggered     bool
	Details       map[string]interface{}
	NewBody       interface{} // set when Action == ActionRedact
	RetryAfterSec int         // set when Action == ActionThrottle
}

// Context carries the request-scoped identifiers an evaluator may need
// (rate limiting keys on tenant/agent, for instance).
type Context struct {
	RequestID   string
	TenantID    string
	WorkspaceID string
	AgentID     string
	ToolName    string
	Method      string
}

// Evaluator is the contract every guardrail implements: a pure function of
// (direction, body, context, action, config) to a Result, except when the
// result is a redaction, which carries a transformed body. action is the
// winning Policy row's Action (§4.2 step 3) — RBAC and rate limiting derive
// their own decision from cfg and ignore it, while the PII and content-size
// families use it to choose block vs. redact vs. log_only.
type Evaluator interface {
	// Type returns the guardrail type this evaluator instance was built
	// for (so the pipeline can label events without re-deriving it).
	Type() policy.GuardrailType

	// SupportsDirection reports whether this evaluator runs on a given
	// direction at all (RBAC and rate limiting are request-only).
	SupportsDirection(d Direction) bool

	// Evaluate runs the guardrail against body (already decoded into an
	// interface{} JSON tree, or nil if the body wasn't JSON).
	Evaluate(ctx context.Context, direction Direction, body interface{}, rc Context, action policy.Action, cfg map[string]interface{}) (Result, error)
}
