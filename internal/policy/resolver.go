package policy

import (
	"context"
	"sort"
	"time"
)

// CanonicalOrder is the fixed evaluation order entries are emitted in,
// matching the pipeline's canonical order (§4.8): cheap/structural checks
// first, content-scanning checks last. The pipeline itself re-splits these
// by direction; this ordering just needs to be stable and consistent.
var CanonicalOrder = []GuardrailType{
	GuardrailRBAC,
	GuardrailRateLimitPerMinute,
	GuardrailRateLimitPerHour,
	GuardrailPIISSN,
	GuardrailPIICreditCard,
	GuardrailPIIEmail,
	GuardrailPIIPhone,
	GuardrailPIIIPAddress,
	GuardrailContentLargeDocuments,
	GuardrailContentStructuredData,
	GuardrailContentSourceCode,
}

// Store is the persistence dependency Resolve needs: a flat query over
// enabled, non-deleted policies reachable from a request context.
type Store interface {
	QueryApplicable(ctx context.Context, tenantID, workspaceID, agentID string) ([]Policy, error)
}

// Cache is the optional memoisation dependency (§4.2's "external KV
// store"); a nil Cache (or a cache miss) simply falls back to Store.
type Cache interface {
	Get(ctx context.Context, key string) (*EffectivePolicySet, bool)
	Set(ctx context.Context, key string, set *EffectivePolicySet, ttl time.Duration) error
}

// Resolver implements §4.2: load, merge, cache.
type Resolver struct {
	Store    Store
	Cache    Cache
	CacheTTL time.Duration
}

func cacheKey(tenantID, workspaceID, agentID string) string {
	return "policyset:" + tenantID + ":" + workspaceID + ":" + agentID
}

// Resolve returns the EffectivePolicySet for a request context, consulting
// the cache first and falling back to the store on miss or cache
// unavailability. The absence of a cache is never a blocker.
func (r *Resolver) Resolve(ctx context.Context, tenantID, workspaceID, agentID string) (*EffectivePolicySet, error) {
	key := cacheKey(tenantID, workspaceID, agentID)

	if r.Cache != nil {
		if set, ok := r.Cache.Get(ctx, key); ok {
			return set, nil
		}
	}

	rows, err := r.Store.QueryApplicable(ctx, tenantID, workspaceID, agentID)
	if err != nil {
		return nil, err
	}

	set := Merge(tenantID, workspaceID, agentID, rows)

	if r.Cache != nil {
		ttl := r.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		// Best-effort: a cache write failure never fails resolution.
		_ = r.Cache.Set(ctx, key, set, ttl)
	}

	return set, nil
}

// Merge implements the group-by-winner reduction described in §4.2 step
// 2-4 and §9's "hierarchical policy merge as data" design note: group by
// guardrail_type, within a group rank by (scope specificity desc, priority
// desc), the top-ranked row wins, then emit in CanonicalOrder.
func Merge(tenantID, workspaceID, agentID string, rows []Policy) *EffectivePolicySet {
	byType := make(map[GuardrailType][]Policy, len(rows))
	for _, p := range rows {
		if !p.Enabled || p.DeletedAt != nil {
			continue
		}
		byType[p.GuardrailType] = append(byType[p.GuardrailType], p)
	}

	winners := make(map[GuardrailType]Policy, len(byType))
	for t, group := range byType {
		sort.SliceStable(group, func(i, j int) bool {
			si, sj := group[i].ScopeOf(), group[j].ScopeOf()
			if si != sj {
				return si > sj // ScopeAgent(2) > ScopeWorkspace(1) > ScopeTenant(0)
			}
			return group[i].Priority > group[j].Priority
		})
		winners[t] = group[0]
	}

	set := &EffectivePolicySet{
		TenantID:    tenantID,
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		ComputedAt:  time.Now(),
	}
	for _, t := range CanonicalOrder {
		if p, ok := winners[t]; ok {
			set.Entries = append(set.Entries, EffectiveEntry{
				GuardrailType: p.GuardrailType,
				Action:        p.Action,
				Config:        p.Config,
			})
		}
	}
	return set
}
