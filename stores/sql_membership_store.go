package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

// SQLMembershipStore persists subject -> role assignments in SQL (squealx)
type SQLMembershipStore struct {
	db *squealx.DB
}

func NewSQLMembershipStore(db *squealx.DB) *SQLMembershipStore {
	return &SQLMembershipStore{db: db}
}

func (s *SQLMembershipStore) AssignRole(ctx context.Context, subjectID, roleID string) error {
	q := `INSERT INTO role_memberships(subject_id, role_id) VALUES(:subject_id, :role_id) ON CONFLICT(subject_id, role_id) DO NOTHING`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"subject_id": subjectID, "role_id": roleID})
	return err
}

func (s *SQLMembershipStore) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	q := `DELETE FROM role_memberships WHERE subject_id = :subject_id AND role_id = :role_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"subject_id": subjectID, "role_id": roleID})
	return err
}

func (s *SQLMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	q := `SELECT role_id FROM role_memberships WHERE subject_id = :subject_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"subject_id": subjectID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var roleID string
		if err := r.Scan(&roleID); err != nil {
			return nil, err
		}
		out = append(out, roleID)
	}
	return out, nil
}
