package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// ABAC POLICY EVALUATION
// ============================================================================

// EvaluatePolicies runs the attribute-based stage on its own: applicable
// policies in precedence order, deny veto over allow, memoized through the
// decision cache. The empty effect means no policy matched and the caller's
// default applies.
func (e *Engine) EvaluatePolicies(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (Effect, error) {
	effect, _, err := e.evaluatePolicies(ctx, authCtx, check)
	return effect, err
}

// evaluatePolicies additionally reports the id of the deciding policy.
func (e *Engine) evaluatePolicies(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (Effect, string, error) {
	cached, err := e.stores.DecisionCache.Get(ctx, authCtx.UserID, check.ResourceType, check.ResourceID, check.Action)
	if err != nil {
		return "", "", fmt.Errorf("decision cache read: %w", err)
	}
	if cached != nil && !cached.IsExpired() {
		return cached.Effect, cachedDecider(cached), nil
	}

	policies, err := e.stores.Policies.ListApplicable(ctx, check.ResourceType, check.Action, authCtx.TenantID)
	if err != nil {
		return "", "", fmt.Errorf("list policies: %w", err)
	}

	var effect Effect
	var decider string
	var matched []string

	if len(policies) > 0 {
		sens, err := e.stores.Sensitivity.Get(ctx, check.ResourceType, check.ResourceID)
		if err != nil {
			return "", "", fmt.Errorf("load resource attributes: %w", err)
		}
		attrs := BuildAttributeMap(authCtx, sens)

		// stores already order by precedence; re-sorting here keeps the deny
		// veto and first-allow semantics independent of the backend
		SortPoliciesByPrecedence(policies)

		for _, p := range policies {
			if !EvaluateConditionSet(p.Conditions, attrs) {
				continue
			}
			matched = append(matched, p.ID)
			if p.Effect == EffectDeny {
				effect = EffectDeny
				decider = p.ID
				break
			}
			if effect != EffectAllow {
				effect = EffectAllow
				decider = p.ID
			}
		}

		if err := e.cacheDecision(ctx, authCtx, check, effect, matched, attrs); err != nil {
			e.log.Error("decision cache write failed",
				"user_id", authCtx.UserID,
				"resource_type", check.ResourceType,
				"error", err)
		}
	}

	return effect, decider, nil
}

func (e *Engine) cacheDecision(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck, effect Effect, matched []string, attrs map[string]any) error {
	snapshot, err := json.Marshal(attrs)
	if err != nil {
		snapshot = []byte("{}")
	}
	return e.stores.DecisionCache.Put(ctx, &CachedDecision{
		UserID:           authCtx.UserID,
		ResourceType:     check.ResourceType,
		ResourceID:       check.ResourceID,
		Action:           check.Action,
		Effect:           effect,
		MatchedPolicyIDs: matched,
		ContextSnapshot:  string(snapshot),
		ExpiresAt:        time.Now().Add(e.decisionCacheTTL),
	})
}

// cachedDecider recovers the deciding policy from a cached entry: a deny is
// always the last match because it stops evaluation, an allow is the first.
func cachedDecider(d *CachedDecision) string {
	if len(d.MatchedPolicyIDs) == 0 {
		return ""
	}
	if d.Effect == EffectDeny {
		return d.MatchedPolicyIDs[len(d.MatchedPolicyIDs)-1]
	}
	return d.MatchedPolicyIDs[0]
}
