package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLRoleStore persists roles in SQL (squealx)
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *authz.Role) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	q := `INSERT INTO roles(id, tenant_id, name, permissions_json, is_system, created_at) VALUES(:id, :tenant_id, :name, :permissions_json, :is_system, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"tenant_id":        r.TenantID,
		"name":             r.Name,
		"permissions_json": jsonEncode(r.Permissions),
		"is_system":        boolToInt(r.System),
		"created_at":       r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *authz.Role) error {
	q := `UPDATE roles SET tenant_id=:tenant_id, name=:name, permissions_json=:permissions_json, is_system=:is_system WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               r.ID,
		"tenant_id":        r.TenantID,
		"name":             r.Name,
		"permissions_json": jsonEncode(r.Permissions),
		"is_system":        boolToInt(r.System),
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	r, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if r.System {
		return fmt.Errorf("role %s is a system role", id)
	}
	_, err = s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*authz.Role, error) {
	q := `SELECT id, tenant_id, name, permissions_json, is_system, created_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("role %s: %w", id, authz.ErrNotFound)
	}
	return scanRole(r)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*authz.Role, error) {
	q := `SELECT id, tenant_id, name, permissions_json, is_system, created_at FROM roles WHERE tenant_id = :tenant_id OR tenant_id = '' OR :tenant_id = ''`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.Role, 0)
	for r.Next() {
		role, err := scanRole(r)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

func scanRole(r *squealx.Rows) (*authz.Role, error) {
	var id, tenant, name, permsJSON string
	var systemInt int
	var createdRaw interface{}
	if err := r.Scan(&id, &tenant, &name, &permsJSON, &systemInt, &createdRaw); err != nil {
		return nil, err
	}
	return &authz.Role{
		ID:          id,
		TenantID:    tenant,
		Name:        name,
		Permissions: jsonDecodeStrings(permsJSON),
		System:      systemInt != 0,
		CreatedAt:   scanTime(createdRaw),
	}, nil
}
