package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerberusgw/gateway/internal/guardrail"
	"github.com/cerberusgw/gateway/internal/policy"
)

// spyEvaluator counts invocations and returns a canned result, used to
// verify short-circuit behaviour (property 3).
type spyEvaluator struct {
	t         policy.GuardrailType
	result    guardrail.Result
	calls     *int
	direction guardrail.Direction
}

func (s *spyEvaluator) Type() policy.GuardrailType { return s.t }
func (s *spyEvaluator) SupportsDirection(d guardrail.Direction) bool {
	if s.direction == "" {
		return true
	}
	return d == s.direction
}
func (s *spyEvaluator) Evaluate(ctx context.Context, direction guardrail.Direction, body interface{}, rc guardrail.Context, action policy.Action, cfg map[string]interface{}) (guardrail.Result, error) {
	*s.calls++
	return s.result, nil
}

func registryOf(evs map[policy.GuardrailType]guardrail.Evaluator) *guardrail.Registry {
	reg := guardrail.NewRegistry(nil)
	for t, ev := range evs {
		ev := ev
		reg.Register(t, func() guardrail.Evaluator { return ev })
	}
	return reg
}

func setOf(entries ...policy.EffectiveEntry) *policy.EffectivePolicySet {
	return &policy.EffectivePolicySet{Entries: entries}
}

func TestPipeline_ShortCircuitOnBlock(t *testing.T) {
	rbacCalls, rateCalls, piiCalls := 0, 0, 0
	reg := registryOf(map[policy.GuardrailType]guardrail.Evaluator{
		policy.GuardrailRBAC:               &spyEvaluator{t: policy.GuardrailRBAC, calls: &rbacCalls, result: guardrail.Result{Action: guardrail.ActionBlock, Triggered: true}},
		policy.GuardrailRateLimitPerMinute: &spyEvaluator{t: policy.GuardrailRateLimitPerMinute, calls: &rateCalls, result: guardrail.Result{Action: guardrail.ActionAllow}},
		policy.GuardrailPIISSN:             &spyEvaluator{t: policy.GuardrailPIISSN, calls: &piiCalls, result: guardrail.Result{Action: guardrail.ActionAllow}},
	})
	p := New(reg)

	set := setOf(
		policy.EffectiveEntry{GuardrailType: policy.GuardrailRBAC, Action: policy.ActionBlock},
		policy.EffectiveEntry{GuardrailType: policy.GuardrailRateLimitPerMinute, Action: policy.ActionThrottle},
		policy.EffectiveEntry{GuardrailType: policy.GuardrailPIISSN, Action: policy.ActionBlock},
	)

	outcome, err := p.Run(context.Background(), guardrail.DirectionRequest, nil, guardrail.Context{}, set)
	require.NoError(t, err)
	assert.Equal(t, FinalBlock, outcome.FinalAction)
	assert.Equal(t, 1, rbacCalls)
	assert.Equal(t, 0, rateCalls, "evaluator after the block must not run")
	assert.Equal(t, 0, piiCalls, "evaluator after the block must not run")
}

func TestPipeline_RedactComposition(t *testing.T) {
	ssnResult := guardrail.Result{Action: guardrail.ActionRedact, Triggered: true, NewBody: "ssn-redacted-and-email-redacted"}
	emailResult := guardrail.Result{Action: guardrail.ActionRedact, Triggered: true, NewBody: "ssn-redacted-and-email-redacted"}

	reg := registryOf(map[policy.GuardrailType]guardrail.Evaluator{
		policy.GuardrailPIISSN:   &spyEvaluator{t: policy.GuardrailPIISSN, calls: new(int), result: ssnResult},
		policy.GuardrailPIIEmail: &spyEvaluator{t: policy.GuardrailPIIEmail, calls: new(int), result: emailResult},
	})
	p := New(reg)

	set := setOf(
		policy.EffectiveEntry{GuardrailType: policy.GuardrailPIISSN, Action: policy.ActionRedact},
		policy.EffectiveEntry{GuardrailType: policy.GuardrailPIIEmail, Action: policy.ActionRedact},
	)

	outcome, err := p.Run(context.Background(), guardrail.DirectionResponse, "ssn-original-and-email-original", guardrail.Context{}, set)
	require.NoError(t, err)
	assert.Equal(t, FinalModify, outcome.FinalAction)
	assert.Equal(t, "ssn-redacted-and-email-redacted", outcome.Body)
}

func TestPipeline_BlockBeatsRedact(t *testing.T) {
	reg := registryOf(map[policy.GuardrailType]guardrail.Evaluator{
		policy.GuardrailPIICreditCard: &spyEvaluator{t: policy.GuardrailPIICreditCard, calls: new(int), result: guardrail.Result{Action: guardrail.ActionBlock, Triggered: true}},
		policy.GuardrailPIIEmail:      &spyEvaluator{t: policy.GuardrailPIIEmail, calls: new(int), result: guardrail.Result{Action: guardrail.ActionRedact, Triggered: true, NewBody: "redacted"}},
	})
	p := New(reg)

	set := setOf(
		policy.EffectiveEntry{GuardrailType: policy.GuardrailPIICreditCard, Action: policy.ActionBlock},
		policy.EffectiveEntry{GuardrailType: policy.GuardrailPIIEmail, Action: policy.ActionRedact},
	)

	outcome, err := p.Run(context.Background(), guardrail.DirectionResponse, "original", guardrail.Context{}, set)
	require.NoError(t, err)
	assert.Equal(t, FinalBlock, outcome.FinalAction)
}

func TestPipeline_EmptySetAllowsEverything(t *testing.T) {
	p := New(guardrail.NewRegistry(nil))
	outcome, err := p.Run(context.Background(), guardrail.DirectionRequest, "body", guardrail.Context{}, &policy.EffectivePolicySet{})
	require.NoError(t, err)
	assert.Equal(t, FinalAllow, outcome.FinalAction)
	assert.Equal(t, "body", outcome.Body)
}

func TestPipeline_ResponseDirectionSkipsRequestOnlyGuardrails(t *testing.T) {
	calls := 0
	reg := registryOf(map[policy.GuardrailType]guardrail.Evaluator{
		policy.GuardrailRBAC: &spyEvaluator{t: policy.GuardrailRBAC, calls: &calls, direction: guardrail.DirectionRequest, result: guardrail.Result{Action: guardrail.ActionBlock}},
	})
	p := New(reg)
	set := setOf(policy.EffectiveEntry{GuardrailType: policy.GuardrailRBAC, Action: policy.ActionBlock})

	outcome, err := p.Run(context.Background(), guardrail.DirectionResponse, nil, guardrail.Context{}, set)
	require.NoError(t, err)
	assert.Equal(t, FinalAllow, outcome.FinalAction)
	assert.Equal(t, 0, calls)
}

func TestOutcome_TriggeredTypes(t *testing.T) {
	o := &Outcome{Events: []Event{
		{GuardrailType: "rbac", Triggered: false},
		{GuardrailType: "pii_ssn", Triggered: true},
		{GuardrailType: "pii_email", Triggered: true},
	}}
	assert.Equal(t, []string{"pii_ssn", "pii_email"}, o.TriggeredTypes())
}
