// Package authn implements KeyAuthenticator (§4.1), grounded directly on
// the reference codebase's db_auth.go: SHA-256(token) computed once,
// looked up by an indexed hash column joined to the owning workspace, with
// a fire-and-forget last-used-at update so the lookup never blocks the
// request path on a write.
package authn

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cerberusgw/gateway/internal/audit"
	"github.com/cerberusgw/gateway/internal/gwerrors"
)

// Authenticator validates bearer access keys against the database.
type Authenticator struct {
	DB     *sql.DB
	Audit  *audit.Emitter // usage updates go to the emitter's bounded
	                      // usage-update channel (separate from the
	                      // audit-decision channel) and are dropped,
	                      // not waited on, when it is full.
}

func New(db *sql.DB, emitter *audit.Emitter) *Authenticator {
	return &Authenticator{DB: db, Audit: emitter}
}

// keyRow is the joined access-key + workspace row this query returns.
type keyRow struct {
	id           string
	tenantID     string
	workspaceID  string
	agentID      string
	upstreamURL  string
	failMode     string
	isActive     bool
	isRevoked    bool
	expiresAt    sql.NullTime
}

// Authenticate implements §4.1's contract exactly: non-empty bearer token
// required; SHA-256(token) looked up by indexed hash; Unauthorized on no
// match, inactive, revoked, or expired key; on success the workspace join
// supplies upstream_url and fail_mode, and the usage counters are bumped
// without blocking the caller.
func (a *Authenticator) Authenticate(ctx context.Context, requestID, bearerToken string) (*RequestContext, error) {
	if bearerToken == "" {
		return nil, gwerrors.New(gwerrors.Unauthorized, "empty bearer token")
	}

	hash := sha256.Sum256([]byte(bearerToken))
	keyHash := hex.EncodeToString(hash[:])

	const q = `
		SELECT k.id, k.tenant_id, k.workspace_id, k.agent_id,
		       w.upstream_mcp_url, w.fail_mode,
		       k.is_active, k.is_revoked, k.expires_at
		FROM agent_access_keys k
		JOIN workspaces w ON w.id = k.workspace_id AND w.deleted_at IS NULL
		WHERE k.hash = $1 AND k.deleted_at IS NULL`

	var row keyRow
	err := a.DB.QueryRowContext(ctx, q, keyHash).Scan(
		&row.id, &row.tenantID, &row.workspaceID, &row.agentID,
		&row.upstreamURL, &row.failMode, &row.isActive, &row.isRevoked, &row.expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, gwerrors.New(gwerrors.Unauthorized, "no matching access key")
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unauthorized, "access key lookup failed", err)
	}

	if !row.isActive {
		return nil, gwerrors.New(gwerrors.Unauthorized, "access key is inactive")
	}
	if row.isRevoked {
		return nil, gwerrors.New(gwerrors.Unauthorized, "access key is revoked")
	}
	if row.expiresAt.Valid && time.Now().After(row.expiresAt.Time) {
		return nil, gwerrors.New(gwerrors.Unauthorized, "access key has expired")
	}

	failMode := FailOpen
	if row.failMode == string(FailClosed) {
		failMode = FailClosed
	}

	rc := &RequestContext{
		RequestID:   requestID,
		TenantID:    row.tenantID,
		WorkspaceID: row.workspaceID,
		AgentID:     row.agentID,
		UpstreamURL: row.upstreamURL,
		FailMode:    failMode,
		ReceivedAt:  time.Now(),
	}

	// Fire-and-forget usage update: enqueued on the audit channel so it
	// never blocks or fails the request path (§4.1 side effect clause).
	if a.Audit != nil {
		a.Audit.EmitUsage(audit.UsageUpdate{AccessKeyID: row.id, UsedAt: rc.ReceivedAt})
	}

	return rc, nil
}
