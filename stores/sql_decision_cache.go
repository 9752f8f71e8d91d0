package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLDecisionCache persists memoized policy decisions in SQL (squealx)
type SQLDecisionCache struct {
	db *squealx.DB
}

func NewSQLDecisionCache(db *squealx.DB) *SQLDecisionCache {
	return &SQLDecisionCache{db: db}
}

func (s *SQLDecisionCache) Get(ctx context.Context, userID, resourceType, resourceID, action string) (*authz.CachedDecision, error) {
	q := `SELECT effect, matched_policy_json, context_snapshot, expires_at FROM abac_decision_cache WHERE user_id = :user_id AND resource_type = :resource_type AND resource_id = :resource_id AND action = :action`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"user_id":       userID,
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"action":        action,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	var effect, matchedJSON, snapshot string
	var expiresRaw interface{}
	if err := r.Scan(&effect, &matchedJSON, &snapshot, &expiresRaw); err != nil {
		return nil, err
	}
	d := &authz.CachedDecision{
		UserID:           userID,
		ResourceType:     resourceType,
		ResourceID:       resourceID,
		Action:           action,
		Effect:           authz.Effect(effect),
		MatchedPolicyIDs: jsonDecodeStrings(matchedJSON),
		ContextSnapshot:  snapshot,
		ExpiresAt:        scanTime(expiresRaw),
	}
	if d.IsExpired() {
		return nil, nil
	}
	return d, nil
}

func (s *SQLDecisionCache) Put(ctx context.Context, d *authz.CachedDecision) error {
	matched, _ := json.Marshal(d.MatchedPolicyIDs)
	q := `INSERT INTO abac_decision_cache(user_id, resource_type, resource_id, action, effect, matched_policy_json, context_snapshot, expires_at) VALUES(:user_id, :resource_type, :resource_id, :action, :effect, :matched_policy_json, :context_snapshot, :expires_at) ON CONFLICT(user_id, resource_type, resource_id, action) DO UPDATE SET effect = :effect, matched_policy_json = :matched_policy_json, context_snapshot = :context_snapshot, expires_at = :expires_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":             d.UserID,
		"resource_type":       d.ResourceType,
		"resource_id":         d.ResourceID,
		"action":              d.Action,
		"effect":              string(d.Effect),
		"matched_policy_json": string(matched),
		"context_snapshot":    d.ContextSnapshot,
		"expires_at":          d.ExpiresAt,
	})
	return err
}

func (s *SQLDecisionCache) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM abac_decision_cache WHERE user_id = :user_id`, map[string]any{"user_id": userID})
	return err
}

func (s *SQLDecisionCache) PurgeExpired(ctx context.Context) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM abac_decision_cache WHERE expires_at < :now`, map[string]any{"now": time.Now()})
	return err
}
