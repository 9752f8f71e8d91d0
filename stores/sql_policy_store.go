package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLPolicyStore persists ABAC policies in SQL (squealx)
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *authz.Policy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	q := `INSERT INTO abac_policies(id, tenant_id, resource_type, action, effect, conditions_json, priority, enabled, created_at, updated_at) VALUES(:id, :tenant_id, :resource_type, :action, :effect, :conditions_json, :priority, :enabled, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              p.ID,
		"tenant_id":       p.TenantID,
		"resource_type":   p.ResourceType,
		"action":          p.Action,
		"effect":          string(p.Effect),
		"conditions_json": jsonEncode(p.Conditions),
		"priority":        p.Priority,
		"enabled":         boolToInt(p.Enabled),
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, p *authz.Policy) error {
	p.UpdatedAt = time.Now()
	q := `UPDATE abac_policies SET tenant_id=:tenant_id, resource_type=:resource_type, action=:action, effect=:effect, conditions_json=:conditions_json, priority=:priority, enabled=:enabled, updated_at=:updated_at WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              p.ID,
		"tenant_id":       p.TenantID,
		"resource_type":   p.ResourceType,
		"action":          p.Action,
		"effect":          string(p.Effect),
		"conditions_json": jsonEncode(p.Conditions),
		"priority":        p.Priority,
		"enabled":         boolToInt(p.Enabled),
		"updated_at":      p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM abac_policies WHERE id = :id`, map[string]any{"id": id})
	return err
}

const policyColumns = `id, tenant_id, resource_type, action, effect, conditions_json, priority, enabled, created_at, updated_at`

func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*authz.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM abac_policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("policy %s: %w", id, authz.ErrNotFound)
	}
	return scanPolicy(r)
}

// ListApplicable pushes the precedence ordering into the query: priority
// descending, creation time ascending on ties.
func (s *SQLPolicyStore) ListApplicable(ctx context.Context, resourceType, action, tenantID string) ([]*authz.Policy, error) {
	q := `SELECT ` + policyColumns + ` FROM abac_policies WHERE resource_type = :resource_type AND action = :action AND enabled = 1 AND (tenant_id = '' OR tenant_id = :tenant_id) ORDER BY priority DESC, created_at ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"resource_type": resourceType,
		"action":        action,
		"tenant_id":     tenantID,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.Policy, 0)
	for r.Next() {
		p, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPolicy(r *squealx.Rows) (*authz.Policy, error) {
	var id, tenant, resourceType, action, effect, condJSON string
	var priority, enabledInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &tenant, &resourceType, &action, &effect, &condJSON, &priority, &enabledInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	p := &authz.Policy{
		ID:           id,
		TenantID:     tenant,
		ResourceType: resourceType,
		Action:       action,
		Effect:       authz.Effect(effect),
		Priority:     priority,
		Enabled:      enabledInt != 0,
		CreatedAt:    scanTime(createdRaw),
		UpdatedAt:    scanTime(updatedRaw),
	}
	_ = json.Unmarshal([]byte(condJSON), &p.Conditions)
	return p, nil
}
