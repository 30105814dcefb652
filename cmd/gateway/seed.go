package main

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFixture is the minimal shape §6.1 describes: just enough rows to make
// the governance data path testable end-to-end against a real Postgres
// instance, with no admin HTTP surface or operator auth flows.
type seedFixture struct {
	Tenants []struct {
		ID string `yaml:"id"`
	} `yaml:"tenants"`
	Workspaces []struct {
		ID             string `yaml:"id"`
		TenantID       string `yaml:"tenant_id"`
		UpstreamMCPURL string `yaml:"upstream_mcp_url"`
		FailMode       string `yaml:"fail_mode"`
	} `yaml:"workspaces"`
	AgentAccessKeys []struct {
		ID          string `yaml:"id"`
		PlaintextKey string `yaml:"plaintext_key"`
		Prefix       string `yaml:"prefix"`
		WorkspaceID  string `yaml:"workspace_id"`
		AgentID      string `yaml:"agent_id"`
	} `yaml:"agent_access_keys"`
	Policies []struct {
		ID            string                 `yaml:"id"`
		TenantID      string                 `yaml:"tenant_id"`
		WorkspaceID   *string                `yaml:"workspace_id"`
		AgentID       *string                `yaml:"agent_id"`
		GuardrailType string                 `yaml:"guardrail_type"`
		Action        string                 `yaml:"action"`
		Config        map[string]interface{} `yaml:"config"`
		Priority      int                    `yaml:"priority"`
	} `yaml:"policies"`
}

// runSeed loads a YAML fixture and upserts its rows into the configured
// Postgres database. It mirrors the reference material's scripts/seed_db
// idea without reimplementing its API surface: this is a one-shot CLI
// action, not a service.
func runSeed(db *sql.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed fixture: %w", err)
	}

	var fixture seedFixture
	if err := yaml.Unmarshal(raw, &fixture); err != nil {
		return fmt.Errorf("parse seed fixture: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range fixture.Tenants {
		if _, err := tx.Exec(`INSERT INTO tenants (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, t.ID); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
	}

	for _, w := range fixture.Workspaces {
		if _, err := tx.Exec(`
			INSERT INTO workspaces (id, tenant_id, upstream_mcp_url, fail_mode)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET upstream_mcp_url = $3, fail_mode = $4`,
			w.ID, w.TenantID, w.UpstreamMCPURL, w.FailMode); err != nil {
			return fmt.Errorf("seed workspace %s: %w", w.ID, err)
		}
	}

	for _, k := range fixture.AgentAccessKeys {
		hash := sha256.Sum256([]byte(k.PlaintextKey))
		keyHash := hex.EncodeToString(hash[:])
		if _, err := tx.Exec(`
			INSERT INTO agent_access_keys (id, tenant_id, hash, prefix, workspace_id, agent_id, is_active, is_revoked)
			VALUES ($1, (SELECT tenant_id FROM workspaces WHERE id = $4), $2, $3, $4, $5, true, false)
			ON CONFLICT (id) DO UPDATE SET tenant_id = EXCLUDED.tenant_id, hash = $2, prefix = $3, workspace_id = $4, agent_id = $5`,
			k.ID, keyHash, k.Prefix, k.WorkspaceID, k.AgentID); err != nil {
			return fmt.Errorf("seed access key %s: %w", k.ID, err)
		}
	}

	for _, p := range fixture.Policies {
		configJSON, err := json.Marshal(p.Config)
		if err != nil {
			return fmt.Errorf("marshal policy config for %s: %w", p.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO policies (id, tenant_id, workspace_id, agent_id, guardrail_type, action, config, priority, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
			ON CONFLICT (id) DO UPDATE SET action = $6, config = $7, priority = $8`,
			p.ID, p.TenantID, p.WorkspaceID, p.AgentID, p.GuardrailType, p.Action, configJSON, p.Priority); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}
