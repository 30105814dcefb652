package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerberusgw/gateway/internal/policy"
)

func TestRegistry_BuildsEveryKnownType(t *testing.T) {
	reg := NewRegistry(newFakeLimiter())
	types := []policy.GuardrailType{
		policy.GuardrailRBAC,
		policy.GuardrailPIISSN,
		policy.GuardrailPIICreditCard,
		policy.GuardrailPIIEmail,
		policy.GuardrailPIIPhone,
		policy.GuardrailPIIIPAddress,
		policy.GuardrailContentLargeDocuments,
		policy.GuardrailContentStructuredData,
		policy.GuardrailContentSourceCode,
		policy.GuardrailRateLimitPerMinute,
		policy.GuardrailRateLimitPerHour,
	}
	for _, ty := range types {
		ev := reg.Build(ty)
		require.NotNil(t, ev, "expected evaluator for %s", ty)
		assert.Equal(t, ty, ev.Type())
	}
}

func TestRegistry_UnknownTypeReturnsNil(t *testing.T) {
	reg := NewRegistry(newFakeLimiter())
	assert.Nil(t, reg.Build(policy.GuardrailType("unknown")))
}

func TestRegistry_BuildIsFreshPerCall(t *testing.T) {
	reg := NewRegistry(newFakeLimiter())
	// PIIEvaluator carries fields; pointers to distinct zero-size values
	// (such as *RBACEvaluator) may compare equal, so they cannot show this.
	a := reg.Build(policy.GuardrailPIISSN)
	b := reg.Build(policy.GuardrailPIISSN)
	assert.NotSame(t, a, b)
}
