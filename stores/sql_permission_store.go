package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLPermissionStore persists materialized permission rows in SQL (squealx)
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

func (s *SQLPermissionStore) ListByUserPermission(ctx context.Context, userID, permission string) ([]*authz.MaterializedPermission, error) {
	q := `SELECT user_id, resource_type, resource_id, permission, expires_at, created_at FROM materialized_permissions WHERE user_id = :user_id AND (permission = :permission OR permission = '*')`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID, "permission": permission})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.MaterializedPermission, 0)
	for r.Next() {
		var uid, resourceType, resourceID, perm string
		var expiresRaw, createdRaw interface{}
		if err := r.Scan(&uid, &resourceType, &resourceID, &perm, &expiresRaw, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &authz.MaterializedPermission{
			UserID:       uid,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Permission:   perm,
			ExpiresAt:    scanTime(expiresRaw),
			CreatedAt:    scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLPermissionStore) Replace(ctx context.Context, userID string, perms []*authz.MaterializedPermission) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM materialized_permissions WHERE user_id = :user_id`, map[string]any{"user_id": userID}); err != nil {
		return err
	}
	for _, p := range perms {
		if err := s.insertRow(ctx, userID, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLPermissionStore) Grant(ctx context.Context, perm *authz.MaterializedPermission) error {
	return s.insertRow(ctx, perm.UserID, perm)
}

func (s *SQLPermissionStore) insertRow(ctx context.Context, userID string, p *authz.MaterializedPermission) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	resourceID := p.ResourceID
	if resourceID == "" {
		resourceID = "*"
	}
	q := `INSERT INTO materialized_permissions(user_id, resource_type, resource_id, permission, expires_at, created_at) VALUES(:user_id, :resource_type, :resource_id, :permission, :expires_at, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":       userID,
		"resource_type": p.ResourceType,
		"resource_id":   resourceID,
		"permission":    p.Permission,
		"expires_at":    sqlNullTimeOrNil(p.ExpiresAt),
		"created_at":    created,
	})
	return err
}
