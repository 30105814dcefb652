// Package policystore implements policy.Store against Postgres, grounded on
// the reference codebase's dynamic policy engine (its parameterized SELECT
// over a JSONB-backed policies table, unmarshaled into Go structs).
package policystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/cerberusgw/gateway/internal/policy"
)

// Store queries the `policies` table.
type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// QueryApplicable returns every enabled, non-deleted policy row whose scope
// matches the given context at the tenant, workspace, or agent level (§4.2
// step 1).
func (s *Store) QueryApplicable(ctx context.Context, tenantID, workspaceID, agentID string) ([]policy.Policy, error) {
	const q = `
		SELECT id, tenant_id, workspace_id, agent_id, guardrail_type, action,
		       config, priority, enabled
		FROM policies
		WHERE deleted_at IS NULL
		  AND enabled = true
		  AND tenant_id = $1
		  AND (
		        (workspace_id IS NULL AND agent_id IS NULL) OR
		        (workspace_id = $2 AND agent_id IS NULL) OR
		        (workspace_id = $2 AND agent_id = $3)
		      )`

	rows, err := s.DB.QueryContext(ctx, q, tenantID, workspaceID, agentID)
	if err != nil {
		return nil, fmt.Errorf("query applicable policies: %w", err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		var p policy.Policy
		var workspaceIDN, agentIDN sql.NullString
		var configRaw []byte
		if err := rows.Scan(&p.ID, &p.TenantID, &workspaceIDN, &agentIDN,
			&p.GuardrailType, &p.Action, &configRaw, &p.Priority, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		if workspaceIDN.Valid {
			v := workspaceIDN.String
			p.WorkspaceID = &v
		}
		if agentIDN.Valid {
			v := agentIDN.String
			p.AgentID = &v
		}
		if len(configRaw) > 0 {
			if err := json.Unmarshal(configRaw, &p.Config); err != nil {
				return nil, fmt.Errorf("unmarshal policy config for %s: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
