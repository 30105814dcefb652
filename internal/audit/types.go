package audit

import "time"

// Direction records which sub-outcome (request or response evaluation) an
// AuditDecision, or an entry within it, describes.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// GuardrailEvent is one evaluator's structured outcome, part of an
// AuditDecision's per_guardrail_events.
type GuardrailEvent struct {
	GuardrailType string                 `json:"guardrail_type"`
	Triggered     bool                   `json:"triggered"`
	ActionTaken   string                 `json:"action_taken"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Decision is the persisted record described in §3.
type Decision struct {
	DecisionID        string           `json:"decision_id"`
	RequestID         string           `json:"request_id"`
	TenantID          string           `json:"tenant_id"`
	WorkspaceID       string           `json:"workspace_id"`
	AgentID           string           `json:"agent_id"`
	Direction         Direction        `json:"direction"`
	Method            string           `json:"method"`
	ToolName          string           `json:"tool_name,omitempty"`
	FinalAction       string           `json:"final_action"`
	GuardrailEvents   []GuardrailEvent `json:"per_guardrail_events"`
	ProcessingTimeMs  int64            `json:"processing_time_ms"`
	ClientDisconnected bool            `json:"client_disconnected,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

// UsageUpdate is the fire-and-forget last_used_at/usage_count bump
// KeyAuthenticator enqueues on every successful authentication (§4.1).
type UsageUpdate struct {
	AccessKeyID string
	UsedAt      time.Time
}
