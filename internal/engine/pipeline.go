// Package engine implements Pipeline (§4.8): the fixed canonical-order
// composition of guardrail evaluators per direction, with short-circuit on
// block/throttle and body-replacing continuation on redact.
package engine

import (
	"context"

	"github.com/cerberusgw/gateway/internal/guardrail"
	"github.com/cerberusgw/gateway/internal/policy"
)

// requestOrder and responseOrder are the canonical evaluation orders from
// §4.8: cheap structural checks first, content scanning last. RBAC and rate
// limiting are request-only and simply absent from responseOrder.
var requestOrder = []policy.GuardrailType{
	policy.GuardrailRBAC,
	policy.GuardrailRateLimitPerMinute,
	policy.GuardrailRateLimitPerHour,
	policy.GuardrailPIISSN,
	policy.GuardrailPIICreditCard,
	policy.GuardrailPIIEmail,
	policy.GuardrailPIIPhone,
	policy.GuardrailPIIIPAddress,
	policy.GuardrailContentLargeDocuments,
	policy.GuardrailContentStructuredData,
	policy.GuardrailContentSourceCode,
}

var responseOrder = []policy.GuardrailType{
	policy.GuardrailPIISSN,
	policy.GuardrailPIICreditCard,
	policy.GuardrailPIIEmail,
	policy.GuardrailPIIPhone,
	policy.GuardrailPIIIPAddress,
	policy.GuardrailContentLargeDocuments,
	policy.GuardrailContentStructuredData,
	policy.GuardrailContentSourceCode,
}

// FinalAction is the pipeline-level aggregate outcome (§4.8).
type FinalAction string

const (
	FinalAllow    FinalAction = "allow"
	FinalModify   FinalAction = "modify"
	FinalBlock    FinalAction = "block"
	FinalThrottle FinalAction = "throttle"
)

// Event is one evaluator's outcome, carried through to the audit record.
type Event struct {
	GuardrailType string
	Triggered     bool
	ActionTaken   string
	Details       map[string]interface{}
}

// BlockDetail describes why the pipeline terminated in block or throttle.
type BlockDetail struct {
	GuardrailType string
	RetryAfterSec int
	Message       string
}

// Outcome is PipelineOutcome (§3): the aggregated result of running every
// applicable evaluator for one direction.
type Outcome struct {
	FinalAction FinalAction
	Events      []Event
	Body        interface{}
	Block       *BlockDetail
}

// Pipeline runs the guardrail registry's evaluators in canonical order.
type Pipeline struct {
	Registry *guardrail.Registry
}

func New(registry *guardrail.Registry) *Pipeline {
	return &Pipeline{Registry: registry}
}

// Run evaluates direction's canonical order against set, starting from
// body. It stops at the first block or throttle; redactions replace the
// working body and evaluation continues.
func (p *Pipeline) Run(ctx context.Context, direction guardrail.Direction, body interface{}, rc guardrail.Context, set *policy.EffectivePolicySet) (*Outcome, error) {
	order := requestOrder
	if direction == guardrail.DirectionResponse {
		order = responseOrder
	}

	outcome := &Outcome{FinalAction: FinalAllow, Body: body}
	modified := false

	for _, t := range order {
		entry, ok := set.Get(t)
		if !ok {
			continue
		}

		ev := p.Registry.Build(t)
		if ev == nil {
			continue
		}
		if !ev.SupportsDirection(direction) {
			continue
		}

		result, err := ev.Evaluate(ctx, direction, outcome.Body, rc, entry.Action, entry.Config)
		if err != nil {
			return nil, err
		}

		outcome.Events = append(outcome.Events, Event{
			GuardrailType: string(t),
			Triggered:     result.Triggered,
			ActionTaken:   string(result.Action),
			Details:       result.Details,
		})

		switch result.Action {
		case guardrail.ActionBlock:
			outcome.FinalAction = FinalBlock
			outcome.Block = &BlockDetail{GuardrailType: string(t), Message: "blocked by " + string(t)}
			return outcome, nil
		case guardrail.ActionThrottle:
			outcome.FinalAction = FinalThrottle
			outcome.Block = &BlockDetail{GuardrailType: string(t), RetryAfterSec: result.RetryAfterSec, Message: "throttled by " + string(t)}
			return outcome, nil
		case guardrail.ActionRedact:
			outcome.Body = result.NewBody
			modified = true
		case guardrail.ActionAllow, guardrail.ActionLogOnly:
			// continue
		}
	}

	if modified {
		outcome.FinalAction = FinalModify
	}
	return outcome, nil
}

// TriggeredTypes returns the guardrail_type of every triggered event, in
// evaluation order, for the JSON-RPC error envelope's
// guardrails_triggered list.
func (o *Outcome) TriggeredTypes() []string {
	var out []string
	for _, e := range o.Events {
		if e.Triggered {
			out = append(out, e.GuardrailType)
		}
	}
	return out
}
