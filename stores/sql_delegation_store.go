package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLDelegationStore persists permission delegations in SQL (squealx)
type SQLDelegationStore struct {
	db *squealx.DB
}

func NewSQLDelegationStore(db *squealx.DB) *SQLDelegationStore {
	return &SQLDelegationStore{db: db}
}

func (s *SQLDelegationStore) Grant(ctx context.Context, d *authz.Delegation) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	q := `INSERT INTO permission_delegations(id, delegated_by, delegated_to, resource_type, resource_id, permissions_json, valid_until, can_redelegate, max_uses, uses, revoked, created_at) VALUES(:id, :delegated_by, :delegated_to, :resource_type, :resource_id, :permissions_json, :valid_until, :can_redelegate, :max_uses, :uses, :revoked, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               d.ID,
		"delegated_by":     d.DelegatedBy,
		"delegated_to":     d.DelegatedTo,
		"resource_type":    d.ResourceType,
		"resource_id":      d.ResourceID,
		"permissions_json": jsonEncode(d.Permissions),
		"valid_until":      sqlNullTimeOrNil(d.ValidUntil),
		"can_redelegate":   boolToInt(d.CanRedelegate),
		"max_uses":         d.MaxUses,
		"uses":             d.Uses,
		"revoked":          boolToInt(d.Revoked),
		"created_at":       d.CreatedAt,
	})
	return err
}

func (s *SQLDelegationStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `UPDATE permission_delegations SET revoked = 1 WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLDelegationStore) ListActiveFor(ctx context.Context, userID string, now time.Time) ([]*authz.Delegation, error) {
	q := `SELECT id, delegated_by, delegated_to, resource_type, resource_id, permissions_json, valid_until, can_redelegate, max_uses, uses, revoked, created_at FROM permission_delegations WHERE delegated_to = :delegated_to AND revoked = 0 AND (valid_until IS NULL OR valid_until > :now) AND (max_uses = 0 OR uses < max_uses)`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"delegated_to": userID, "now": now})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.Delegation, 0)
	for r.Next() {
		var id, by, to, resourceType, resourceID, permsJSON string
		var redelegateInt, maxUses, uses, revokedInt int
		var validRaw, createdRaw interface{}
		if err := r.Scan(&id, &by, &to, &resourceType, &resourceID, &permsJSON, &validRaw, &redelegateInt, &maxUses, &uses, &revokedInt, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &authz.Delegation{
			ID:            id,
			DelegatedBy:   by,
			DelegatedTo:   to,
			ResourceType:  resourceType,
			ResourceID:    resourceID,
			Permissions:   jsonDecodeStrings(permsJSON),
			ValidUntil:    scanTime(validRaw),
			CanRedelegate: redelegateInt != 0,
			MaxUses:       maxUses,
			Uses:          uses,
			Revoked:       revokedInt != 0,
			CreatedAt:     scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLDelegationStore) IncrementUses(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `UPDATE permission_delegations SET uses = uses + 1 WHERE id = :id`, map[string]any{"id": id})
	return err
}
