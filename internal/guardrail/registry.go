package guardrail

import (
	"github.com/cerberusgw/gateway/internal/policy"
)

// Factory builds an Evaluator instance for a guardrail type. Evaluators
// that need infrastructure (the rate limiter's counter store) close over it
// when registered; this keeps the registry itself infrastructure-free.
type Factory func() Evaluator

// Registry maps guardrail type to a constructor, instantiated fresh per
// request (§4.3's "instantiate per-request with config" — the config
// itself is supplied at Evaluate time, not at construction, since it comes
// from the EffectivePolicySet).
type Registry struct {
	factories map[policy.GuardrailType]Factory
}

// NewRegistry builds the standard registry wiring every evaluator family.
// limiter is the RateLimitEvaluator's counter-store dependency.
func NewRegistry(limiter RateLimiter) *Registry {
	r := &Registry{factories: make(map[policy.GuardrailType]Factory)}

	r.Register(policy.GuardrailRBAC, func() Evaluator { return NewRBACEvaluator() })

	r.Register(policy.GuardrailPIISSN, func() Evaluator { return NewPIIEvaluator(policy.GuardrailPIISSN) })
	r.Register(policy.GuardrailPIICreditCard, func() Evaluator { return NewPIIEvaluator(policy.GuardrailPIICreditCard) })
	r.Register(policy.GuardrailPIIEmail, func() Evaluator { return NewPIIEvaluator(policy.GuardrailPIIEmail) })
	r.Register(policy.GuardrailPIIPhone, func() Evaluator { return NewPIIEvaluator(policy.GuardrailPIIPhone) })
	r.Register(policy.GuardrailPIIIPAddress, func() Evaluator { return NewPIIEvaluator(policy.GuardrailPIIIPAddress) })

	r.Register(policy.GuardrailContentLargeDocuments, func() Evaluator { return NewContentSizeEvaluator(policy.GuardrailContentLargeDocuments) })
	r.Register(policy.GuardrailContentStructuredData, func() Evaluator { return NewContentSizeEvaluator(policy.GuardrailContentStructuredData) })
	r.Register(policy.GuardrailContentSourceCode, func() Evaluator { return NewContentSizeEvaluator(policy.GuardrailContentSourceCode) })

	r.Register(policy.GuardrailRateLimitPerMinute, func() Evaluator { return NewRateLimitEvaluator(policy.GuardrailRateLimitPerMinute, limiter) })
	r.Register(policy.GuardrailRateLimitPerHour, func() Evaluator { return NewRateLimitEvaluator(policy.GuardrailRateLimitPerHour, limiter) })

	return r
}

func (r *Registry) Register(t policy.GuardrailType, f Factory) {
	r.factories[t] = f
}

// Build instantiates the evaluator registered for a guardrail type, or nil
// if nothing is registered (the pipeline skips an unknown guardrail_type in
// a Policy row; it is never fatal).
func (r *Registry) Build(t policy.GuardrailType) Evaluator {
	f, ok := r.factories[t]
	if !ok {
		return nil
	}
	return f()
}
