package authn

import "time"

// RequestContext is the derived, non-persistent context produced by a
// successful authentication (§3).
type RequestContext struct {
	RequestID   string
	TenantID    string
	WorkspaceID string
	AgentID     string
	UpstreamURL string
	FailMode    FailMode
	Scopes      []string
	ReceivedAt  time.Time
}

// FailMode is the per-workspace degradation policy (§6 configuration).
type FailMode string

const (
	FailClosed FailMode = "closed"
	FailOpen   FailMode = "open"
)
