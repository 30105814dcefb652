// Package proxy implements ProxyOrchestrator (§4.10): the end-to-end
// per-request flow tying authentication, policy resolution, the guardrail
// pipeline, upstream forwarding, and audit emission together.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cerberusgw/gateway/internal/audit"
	"github.com/cerberusgw/gateway/internal/authn"
	"github.com/cerberusgw/gateway/internal/engine"
	"github.com/cerberusgw/gateway/internal/guardrail"
	"github.com/cerberusgw/gateway/internal/gwerrors"
	"github.com/cerberusgw/gateway/internal/jsonrpc"
	"github.com/cerberusgw/gateway/internal/metrics"
	"github.com/cerberusgw/gateway/internal/obslog"
	"github.com/cerberusgw/gateway/internal/policy"
	"github.com/cerberusgw/gateway/internal/upstream"
)

// Orchestrator wires every collaborator §4.10 names into a single HTTP
// handler for the proxy endpoint.
type Orchestrator struct {
	Authenticator   *authn.Authenticator
	Resolver        *policy.Resolver
	Pipeline        *engine.Pipeline
	Upstream        *upstream.Client
	Audit           *audit.Emitter
	Logger          *obslog.Logger
	Metrics         *metrics.Metrics
	DecisionTimeout time.Duration
}

// ServeProxy handles POST /governance-plane/api/v1/proxy/{path}.
func (o *Orchestrator) ServeProxy(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)
	started := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), o.effectiveTimeout())
	defer cancel()

	// 1. Authenticate.
	token := extractBearer(r.Header.Get("Authorization"))
	rc, err := o.Authenticator.Authenticate(ctx, requestID, token)
	if err != nil {
		o.recordMetrics("unauthorized", started)
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	logFields := obslog.Fields{RequestID: requestID, TenantID: rc.TenantID, WorkspaceID: rc.WorkspaceID, AgentID: rc.AgentID}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		o.logger().Warn(logFields, "failed to read request body", map[string]interface{}{"error": err.Error()})
		bodyBytes = nil
	}

	// 3. Parse body as JSON if content-type permits; otherwise treat as
	// opaque and skip content-aware guardrails.
	var reqBody interface{}
	var envelope *jsonrpc.Envelope
	contentAware := strings.Contains(r.Header.Get("Content-Type"), "json")
	if contentAware && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &reqBody); err != nil {
			contentAware = false
		} else {
			envelope, _ = jsonrpc.Parse(bodyBytes)
		}
	}

	method, toolName, rpcID := "", "", json.RawMessage("null")
	if envelope != nil {
		method = envelope.Method
		toolName = envelope.ToolName()
		if len(envelope.ID) > 0 {
			rpcID = envelope.ID
		}
	}

	// 2. Resolve policy.
	set, err := o.Resolver.Resolve(ctx, rc.TenantID, rc.WorkspaceID, rc.AgentID)
	if err != nil {
		if rc.FailMode == authn.FailClosed {
			o.writeGovernanceError(w, rpcID, requestID, "", []string{}, http.StatusForbidden,
				jsonrpc.CodeGovernanceBlock, "policy resolution failed under fail-closed mode", 0)
			o.emitDecision(requestID, requestID, rc, audit.DirectionRequest, method, toolName, "block", nil, time.Since(started), false)
			o.recordMetrics("block", started)
			return
		}
		o.logger().Warn(logFields, "policy resolution degraded, proceeding with empty policy set", map[string]interface{}{"error": err.Error()})
		set = &policy.EffectivePolicySet{TenantID: rc.TenantID, WorkspaceID: rc.WorkspaceID, AgentID: rc.AgentID}
	}

	gctx := guardrail.Context{
		RequestID: requestID, TenantID: rc.TenantID, WorkspaceID: rc.WorkspaceID,
		AgentID: rc.AgentID, ToolName: toolName, Method: method,
	}

	var reqEvalBody interface{}
	if contentAware {
		reqEvalBody = reqBody
	}

	// 4. Run request pipeline.
	reqOutcome, err := o.Pipeline.Run(ctx, guardrail.DirectionRequest, reqEvalBody, gctx, set)
	if err != nil {
		if gwerrors.Is(err, gwerrors.GuardrailInfraFailure) {
			reqOutcome = o.handleGuardrailInfraFailure(err, rc, logFields, reqEvalBody)
		} else {
			o.logger().Error(logFields, "request pipeline evaluation failed", map[string]interface{}{"error": err.Error()})
			o.writeGovernanceError(w, rpcID, requestID, "", []string{}, http.StatusForbidden,
				jsonrpc.CodeGovernanceBlock, "governance evaluation failed", 0)
			o.emitDecision(requestID, requestID, rc, audit.DirectionRequest, method, toolName, "block", nil, time.Since(started), false)
			o.recordMetrics("block", started)
			return
		}
	}
	o.countTriggers(reqOutcome.Events)

	decisionID := uuid.NewString()
	w.Header().Set("X-Request-Decision-ID", decisionID)

	if reqOutcome.FinalAction == engine.FinalBlock || reqOutcome.FinalAction == engine.FinalThrottle {
		status, code, retryAfter := blockStatus(reqOutcome)
		o.writeGovernanceError(w, rpcID, decisionID, actionLabel(reqOutcome), reqOutcome.TriggeredTypes(), status, code, reqOutcome.Block.Message, retryAfter)
		o.emitDecision(decisionID, requestID, rc, audit.DirectionRequest, method, toolName, string(reqOutcome.FinalAction), reqOutcome.Events, time.Since(started), false)
		o.recordMetrics(string(reqOutcome.FinalAction), started)
		return
	}

	// 5. Forward via UpstreamClient with the (possibly modified) body.
	forwardBody := bodyBytes
	if reqOutcome.FinalAction == engine.FinalModify {
		if marshaled, err := json.Marshal(reqOutcome.Body); err == nil {
			forwardBody = marshaled
		}
	}

	upstreamURL := strings.TrimRight(rc.UpstreamURL, "/") + "/" + strings.TrimLeft(mux.Vars(r)["path"], "/")
	meta := upstream.Meta{RequestID: requestID, TenantID: rc.TenantID, WorkspaceID: rc.WorkspaceID, AgentID: rc.AgentID, ClientAddr: r.RemoteAddr}

	resp, err := o.Upstream.Forward(ctx, r.Method, upstreamURL, r.Header, forwardBody, meta)
	if err != nil {
		o.handleUpstreamError(w, err, rpcID, decisionID, requestID, rc, method, toolName, started)
		return
	}
	if resp.Retries > 0 && o.Metrics != nil {
		o.Metrics.UpstreamRetriesTotal.Add(float64(resp.Retries))
	}

	// Client disconnected before we could evaluate the response.
	if ctx.Err() != nil {
		o.emitDecisionWithFlag(decisionID, requestID, rc, audit.DirectionResponse, method, toolName, "block", nil, time.Since(started), true)
		return
	}

	var respBody interface{}
	respContentAware := strings.Contains(resp.Header.Get("Content-Type"), "json")
	if respContentAware && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &respBody); err != nil {
			respContentAware = false
		}
	}

	var respEvalBody interface{}
	if respContentAware {
		respEvalBody = respBody
	}

	// 6. Run response pipeline.
	respOutcome, err := o.Pipeline.Run(ctx, guardrail.DirectionResponse, respEvalBody, gctx, set)
	if err != nil {
		if gwerrors.Is(err, gwerrors.GuardrailInfraFailure) {
			respOutcome = o.handleGuardrailInfraFailure(err, rc, logFields, respEvalBody)
		} else {
			o.logger().Error(logFields, "response pipeline evaluation failed", map[string]interface{}{"error": err.Error()})
			o.writeGovernanceError(w, rpcID, decisionID, "block_response", []string{}, http.StatusForbidden,
				jsonrpc.CodeGovernanceBlock, "governance evaluation failed", 0)
			o.emitDecision(decisionID, requestID, rc, audit.DirectionResponse, method, toolName, "block", nil, time.Since(started), false)
			o.recordMetrics("block", started)
			return
		}
	}
	o.countTriggers(respOutcome.Events)

	responseDecisionID := uuid.NewString()
	w.Header().Set("X-Response-Decision-ID", responseDecisionID)

	if respOutcome.FinalAction == engine.FinalBlock || respOutcome.FinalAction == engine.FinalThrottle {
		status, code, retryAfter := blockStatus(respOutcome)
		o.writeGovernanceError(w, rpcID, responseDecisionID, "block_response", respOutcome.TriggeredTypes(), status, code, respOutcome.Block.Message, retryAfter)
		o.emitDecision(responseDecisionID, requestID, rc, audit.DirectionResponse, method, toolName, string(respOutcome.FinalAction), respOutcome.Events, time.Since(started), false)
		o.recordMetrics(string(respOutcome.FinalAction), started)
		return
	}

	finalBody := resp.Body
	if respOutcome.FinalAction == engine.FinalModify {
		if marshaled, err := json.Marshal(respOutcome.Body); err == nil {
			finalBody = marshaled
		}
	}

	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(finalBody)

	allEvents := append(append([]engine.Event{}, reqOutcome.Events...), respOutcome.Events...)
	o.emitDecision(responseDecisionID, requestID, rc, audit.DirectionResponse, method, toolName, string(respOutcome.FinalAction), allEvents, time.Since(started), false)
	o.recordMetrics(string(respOutcome.FinalAction), started)
}

func (o *Orchestrator) effectiveTimeout() time.Duration {
	if o.DecisionTimeout > 0 {
		return o.DecisionTimeout
	}
	return 35 * time.Second
}

func (o *Orchestrator) logger() *obslog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return obslog.New("proxy")
}

func (o *Orchestrator) countTriggers(events []engine.Event) {
	if o.Metrics == nil {
		return
	}
	for _, e := range events {
		if e.Triggered {
			o.Metrics.GuardrailTriggered.WithLabelValues(e.GuardrailType, e.ActionTaken).Inc()
		}
	}
}

func (o *Orchestrator) recordMetrics(finalAction string, started time.Time) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.RequestsTotal.WithLabelValues(finalAction).Inc()
	o.Metrics.RequestDuration.WithLabelValues(finalAction).Observe(time.Since(started).Seconds())
}

func (o *Orchestrator) handleUpstreamError(w http.ResponseWriter, err error, rpcID json.RawMessage, decisionID, requestID string, rc *authn.RequestContext, method, toolName string, started time.Time) {
	var status int
	var code int
	var msg string

	switch {
	case gwerrors.Is(err, gwerrors.UpstreamTimeout):
		status, code, msg = http.StatusGatewayTimeout, jsonrpc.CodeUpstreamTimeout, "upstream request timed out"
	default:
		status, code, msg = http.StatusBadGateway, jsonrpc.CodeUpstreamError, "upstream request failed"
	}

	o.writeGovernanceError(w, rpcID, decisionID, "upstream_error", nil, status, code, msg, 0)
	o.emitDecision(decisionID, requestID, rc, audit.DirectionResponse, method, toolName, "block", nil, time.Since(started), false)
	o.recordMetrics("upstream_error", started)
}

// handleGuardrailInfraFailure implements §4.7/§7's fail_mode branch for a
// GuardrailInfraFailure surfaced from the pipeline (today only the
// rate-limit counter store): fail-open logs the degradation and lets the
// request proceed with its body untouched; fail-closed throttles it.
func (o *Orchestrator) handleGuardrailInfraFailure(err error, rc *authn.RequestContext, logFields obslog.Fields, body interface{}) *engine.Outcome {
	retryAfter := 60
	message := "guardrail infrastructure unavailable"
	if gerr, ok := err.(*gwerrors.Error); ok {
		if gerr.RetryAfter > 0 {
			retryAfter = gerr.RetryAfter
		}
		message = gerr.Message
	}

	if rc.FailMode == authn.FailOpen {
		o.logger().Warn(logFields, "guardrail infrastructure degraded, failing open", map[string]interface{}{"error": err.Error()})
		return &engine.Outcome{FinalAction: engine.FinalAllow, Body: body}
	}

	o.logger().Warn(logFields, "guardrail infrastructure degraded, failing closed", map[string]interface{}{"error": err.Error()})
	return &engine.Outcome{
		FinalAction: engine.FinalThrottle,
		Body:        body,
		Block:       &engine.BlockDetail{GuardrailType: "rate_limit", RetryAfterSec: retryAfter, Message: message},
	}
}

func blockStatus(outcome *engine.Outcome) (status, code, retryAfter int) {
	if outcome.FinalAction == engine.FinalThrottle {
		return http.StatusTooManyRequests, jsonrpc.CodeGovernanceBlock, outcome.Block.RetryAfterSec
	}
	return http.StatusForbidden, jsonrpc.CodeGovernanceBlock, 0
}

func actionLabel(outcome *engine.Outcome) string {
	if outcome.FinalAction == engine.FinalThrottle {
		return "throttle"
	}
	return "block_request"
}

func (o *Orchestrator) writeGovernanceError(w http.ResponseWriter, rpcID json.RawMessage, decisionID, action string, guardrails []string, status, code int, message string, retryAfterSec int) {
	if retryAfterSec > 0 {
		w.Header().Set("Retry-After", itoa(retryAfterSec))
	}
	w.Header().Set("Content-Type", "application/json")
	body := jsonrpc.NewError(rpcID, code, message, jsonrpc.ErrorData{
		DecisionID:          decisionID,
		Action:              action,
		GuardrailsTriggered: guardrails,
		RetryAfterSeconds:   retryAfterSec,
	})
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (o *Orchestrator) emitDecision(decisionID, requestID string, rc *authn.RequestContext, direction audit.Direction, method, toolName, finalAction string, events []engine.Event, elapsed time.Duration, disconnected bool) {
	o.emitDecisionWithFlag(decisionID, requestID, rc, direction, method, toolName, finalAction, events, elapsed, disconnected)
}

// emitDecisionWithFlag persists decisionID as the audit row's DecisionID —
// the same value (already minted in ServeProxy) that was returned to the
// client via the X-Request-Decision-ID/X-Response-Decision-ID headers and
// the JSON-RPC error envelope's data.decision_id, so the two can always be
// correlated.
func (o *Orchestrator) emitDecisionWithFlag(decisionID, requestID string, rc *authn.RequestContext, direction audit.Direction, method, toolName, finalAction string, events []engine.Event, elapsed time.Duration, disconnected bool) {
	if o.Audit == nil {
		return
	}
	ge := make([]audit.GuardrailEvent, 0, len(events))
	for _, e := range events {
		ge = append(ge, audit.GuardrailEvent{
			GuardrailType: e.GuardrailType,
			Triggered:     e.Triggered,
			ActionTaken:   e.ActionTaken,
			Details:       e.Details,
		})
	}
	o.Audit.Emit(audit.Decision{
		DecisionID:         decisionID,
		RequestID:          requestID,
		TenantID:           rc.TenantID,
		WorkspaceID:        rc.WorkspaceID,
		AgentID:            rc.AgentID,
		Direction:          direction,
		Method:             method,
		ToolName:           toolName,
		FinalAction:        finalAction,
		GuardrailEvents:    ge,
		ProcessingTimeMs:   elapsed.Milliseconds(),
		ClientDisconnected: disconnected,
		Timestamp:          time.Now(),
	})
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
