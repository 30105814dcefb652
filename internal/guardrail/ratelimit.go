// Package guardrail: RateLimitEvaluator (§4.7), fixed-window by default
// with an optional two-bucket sliding blend, grounded on the reference
// codebase's redis_rate_limit.go atomic-pipeline idiom (here a single Lua
// script does the increment+expire round trip, per §4.7's "MUST perform the
// increment and the TTL setting as a single round-trip" requirement).
package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/cerberusgw/gateway/internal/gwerrors"
	"github.com/cerberusgw/gateway/internal/policy"
)

// RateLimiter is the counter-store dependency: a single atomic
// increment-and-expire, plus a plain read for the sliding-window blend's
// previous bucket.
type RateLimiter interface {
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// RateLimitEvaluator implements §4.7. It runs only on the request
// direction.
type RateLimitEvaluator struct {
	guardrailType policy.GuardrailType
	limiter       RateLimiter
}

func NewRateLimitEvaluator(t policy.GuardrailType, limiter RateLimiter) *RateLimitEvaluator {
	return &RateLimitEvaluator{guardrailType: t, limiter: limiter}
}

func (e *RateLimitEvaluator) Type() policy.GuardrailType { return e.guardrailType }

func (e *RateLimitEvaluator) SupportsDirection(d Direction) bool { return d == DirectionRequest }

func (e *RateLimitEvaluator) Evaluate(ctx context.Context, direction Direction, body interface{}, rc Context, action policy.Action, cfg map[string]interface{}) (Result, error) {
	if direction != DirectionRequest {
		return Result{Action: ActionAllow}, nil
	}
	if e.limiter == nil {
		return Result{}, &gwerrors.Error{Kind: gwerrors.GuardrailInfraFailure, Message: fmt.Sprintf("rate limit guardrail %s: no counter store configured", e.guardrailType), RetryAfter: 60}
	}

	limit := intConfig(cfg, "limit", 60)
	windowSec := intConfig(cfg, "window", 60)
	if windowSec <= 0 {
		windowSec = 60
	}
	window := time.Duration(windowSec) * time.Second
	sliding := stringConfig(cfg, "window_mode", "fixed") == "sliding"

	now := time.Now()
	bucket := now.Unix() / int64(windowSec)
	key := rateLimitKey(rc.TenantID, rc.AgentID, e.guardrailType, bucket)

	count, err := e.limiter.IncrWithExpire(ctx, key, window)
	if err != nil {
		// §4.7: counter-store unreachable is a GuardrailInfraFailure, not a
		// generic evaluation error — the orchestrator branches this on
		// fail_mode rather than treating it as a governance block.
		infraErr := gwerrors.Wrap(gwerrors.GuardrailInfraFailure, fmt.Sprintf("rate limit guardrail %s: counter store unreachable", e.guardrailType), err)
		infraErr.RetryAfter = windowSec
		return Result{}, infraErr
	}

	effective := float64(count)
	if sliding {
		prevKey := rateLimitKey(rc.TenantID, rc.AgentID, e.guardrailType, bucket-1)
		prevCount, err := e.limiter.Get(ctx, prevKey)
		if err == nil {
			elapsedFrac := float64(now.Unix()%int64(windowSec)) / float64(windowSec)
			effective = float64(count) + float64(prevCount)*(1-elapsedFrac)
		}
	}

	details := map[string]interface{}{
		"guardrail_type": string(e.guardrailType),
		"limit":          limit,
		"count":          count,
		"window_seconds": windowSec,
	}

	if effective > float64(limit) {
		retryAfter := windowSec - int(now.Unix()%int64(windowSec))
		return Result{
			Action:        ActionThrottle,
			Triggered:     true,
			RetryAfterSec: retryAfter,
			Details:       details,
		}, nil
	}

	return Result{Action: ActionAllow, Triggered: false, Details: details}, nil
}

func rateLimitKey(tenantID, agentID string, t policy.GuardrailType, bucket int64) string {
	return fmt.Sprintf("rl:%s:%s:%s:%d", tenantID, agentID, t, bucket)
}
