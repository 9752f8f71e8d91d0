package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLInheritanceStore persists inheritance edges in SQL (squealx)
type SQLInheritanceStore struct {
	db *squealx.DB
}

func NewSQLInheritanceStore(db *squealx.DB) *SQLInheritanceStore {
	return &SQLInheritanceStore{db: db}
}

func (s *SQLInheritanceStore) ListChildren(ctx context.Context, resourceType, resourceID string) ([]*authz.InheritanceEdge, error) {
	q := `SELECT parent_resource_type, parent_resource_id, child_resource_type, child_resource_id, enabled, max_depth FROM permission_inheritance WHERE parent_resource_type = :parent_type AND parent_resource_id = :parent_id AND enabled = 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"parent_type": resourceType, "parent_id": resourceID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.InheritanceEdge, 0)
	for r.Next() {
		var parentType, parentID, childType, childID string
		var enabledInt, maxDepth int
		if err := r.Scan(&parentType, &parentID, &childType, &childID, &enabledInt, &maxDepth); err != nil {
			return nil, err
		}
		out = append(out, &authz.InheritanceEdge{
			ParentResourceType: parentType,
			ParentResourceID:   parentID,
			ChildResourceType:  childType,
			ChildResourceID:    childID,
			Enabled:            enabledInt != 0,
			MaxDepth:           maxDepth,
		})
	}
	return out, nil
}

func (s *SQLInheritanceStore) CreateEdge(ctx context.Context, edge *authz.InheritanceEdge) error {
	q := `INSERT INTO permission_inheritance(parent_resource_type, parent_resource_id, child_resource_type, child_resource_id, enabled, max_depth) VALUES(:parent_type, :parent_id, :child_type, :child_id, :enabled, :max_depth) ON CONFLICT(parent_resource_type, parent_resource_id, child_resource_type, child_resource_id) DO UPDATE SET enabled = :enabled, max_depth = :max_depth`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"parent_type": edge.ParentResourceType,
		"parent_id":   edge.ParentResourceID,
		"child_type":  edge.ChildResourceType,
		"child_id":    edge.ChildResourceID,
		"enabled":     boolToInt(edge.Enabled),
		"max_depth":   edge.MaxDepth,
	})
	return err
}

func (s *SQLInheritanceStore) DeleteEdge(ctx context.Context, edge *authz.InheritanceEdge) error {
	q := `DELETE FROM permission_inheritance WHERE parent_resource_type = :parent_type AND parent_resource_id = :parent_id AND child_resource_type = :child_type AND child_resource_id = :child_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"parent_type": edge.ParentResourceType,
		"parent_id":   edge.ParentResourceID,
		"child_type":  edge.ChildResourceType,
		"child_id":    edge.ChildResourceID,
	})
	return err
}
