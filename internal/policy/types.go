// Package policy defines the gateway's data model for guardrail
// configuration and the hierarchical-merge resolution over it, grounded on
// the reference codebase's override-resolution pattern (its
// EffectiveStaticPolicy.EffectiveAction) but remapped onto this gateway's
// tenant/workspace/agent vocabulary (see SPEC_FULL.md's vocabulary
// decision).
package policy

import "time"

// GuardrailType enumerates every guardrail kind this gateway knows how to
// evaluate.
type GuardrailType string

const (
	GuardrailRBAC                  GuardrailType = "rbac"
	GuardrailPIISSN                GuardrailType = "pii_ssn"
	GuardrailPIICreditCard         GuardrailType = "pii_credit_card"
	GuardrailPIIEmail              GuardrailType = "pii_email"
	GuardrailPIIPhone              GuardrailType = "pii_phone"
	GuardrailPIIIPAddress          GuardrailType = "pii_ip_address"
	GuardrailRateLimitPerMinute    GuardrailType = "rate_limit_per_minute"
	GuardrailRateLimitPerHour      GuardrailType = "rate_limit_per_hour"
	GuardrailContentLargeDocuments GuardrailType = "content_large_documents"
	GuardrailContentStructuredData GuardrailType = "content_structured_data"
	GuardrailContentSourceCode     GuardrailType = "content_source_code"
)

// Action is the effective action a policy assigns a guardrail.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionBlock    Action = "block"
	ActionRedact   Action = "redact"
	ActionThrottle Action = "throttle"
	ActionLogOnly  Action = "log_only"
)

// Scope classifies which tier a policy row applies at, derived from which
// of WorkspaceID/AgentID are set.
type Scope int

const (
	ScopeTenant Scope = iota
	ScopeWorkspace
	ScopeAgent
)

// Policy is one row of the `policies` table.
type Policy struct {
	ID            string
	TenantID      string
	WorkspaceID   *string
	AgentID       *string
	GuardrailType GuardrailType
	Action        Action
	Config        map[string]interface{}
	Priority      int
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// ScopeOf derives the Policy's scope from its nullable columns.
func (p *Policy) ScopeOf() Scope {
	switch {
	case p.AgentID != nil:
		return ScopeAgent
	case p.WorkspaceID != nil:
		return ScopeWorkspace
	default:
		return ScopeTenant
	}
}

// EffectiveEntry is one resolved guardrail in an EffectivePolicySet.
type EffectiveEntry struct {
	GuardrailType GuardrailType
	Action        Action
	Config        map[string]interface{}
}

// EffectivePolicySet is the per-request, precedence-resolved policy list
// produced by Resolve, already in canonical evaluation order.
type EffectivePolicySet struct {
	TenantID    string
	WorkspaceID string
	AgentID     string
	Entries     []EffectiveEntry
	ComputedAt  time.Time
}

// Get returns the effective entry for a guardrail type, if present.
func (s *EffectivePolicySet) Get(t GuardrailType) (EffectiveEntry, bool) {
	for _, e := range s.Entries {
		if e.GuardrailType == t {
			return e, true
		}
	}
	return EffectiveEntry{}, false
}
