package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLMaskingStore persists masking rules, column bindings and column
// permissions in SQL (squealx)
type SQLMaskingStore struct {
	db *squealx.DB
}

func NewSQLMaskingStore(db *squealx.DB) *SQLMaskingStore {
	return &SQLMaskingStore{db: db}
}

func (s *SQLMaskingStore) CreateRule(ctx context.Context, r *authz.MaskingRule) error {
	q := `INSERT INTO masking_rules(id, mask_type, config_json, bypass_roles_json, bypass_users_json, enabled) VALUES(:id, :mask_type, :config_json, :bypass_roles_json, :bypass_users_json, :enabled) ON CONFLICT(id) DO UPDATE SET mask_type = :mask_type, config_json = :config_json, bypass_roles_json = :bypass_roles_json, bypass_users_json = :bypass_users_json, enabled = :enabled`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                r.ID,
		"mask_type":         string(r.Type),
		"config_json":       jsonEncode(r.Config),
		"bypass_roles_json": jsonEncode(r.BypassRoles),
		"bypass_users_json": jsonEncode(r.BypassUsers),
		"enabled":           boolToInt(r.Enabled),
	})
	return err
}

func (s *SQLMaskingStore) GetRule(ctx context.Context, id string) (*authz.MaskingRule, error) {
	q := `SELECT id, mask_type, config_json, bypass_roles_json, bypass_users_json, enabled FROM masking_rules WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("masking rule %s: %w", id, authz.ErrNotFound)
	}
	var idv, maskType, configJSON, bypassRolesJSON, bypassUsersJSON string
	var enabledInt int
	if err := r.Scan(&idv, &maskType, &configJSON, &bypassRolesJSON, &bypassUsersJSON, &enabledInt); err != nil {
		return nil, err
	}
	rule := &authz.MaskingRule{
		ID:          idv,
		Type:        authz.MaskingType(maskType),
		BypassRoles: jsonDecodeStrings(bypassRolesJSON),
		BypassUsers: jsonDecodeStrings(bypassUsersJSON),
		Enabled:     enabledInt != 0,
	}
	_ = json.Unmarshal([]byte(configJSON), &rule.Config)
	return rule, nil
}

func (s *SQLMaskingStore) CreateBinding(ctx context.Context, b *authz.ColumnMaskingBinding) error {
	cond := ""
	if b.Condition != nil {
		cond = jsonEncode(b.Condition)
	}
	q := `INSERT INTO column_masking_bindings(schema_name, table_name, column_name, rule_id, condition_json, enabled) VALUES(:schema_name, :table_name, :column_name, :rule_id, :condition_json, :enabled)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"schema_name":    b.Schema,
		"table_name":     b.Table,
		"column_name":    b.Column,
		"rule_id":        b.RuleID,
		"condition_json": cond,
		"enabled":        boolToInt(b.Enabled),
	})
	return err
}

func (s *SQLMaskingStore) ListBindings(ctx context.Context, schema, table string) ([]*authz.ColumnMaskingBinding, error) {
	q := `SELECT schema_name, table_name, column_name, rule_id, condition_json, enabled FROM column_masking_bindings WHERE schema_name = :schema_name AND table_name = :table_name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"schema_name": schema, "table_name": table})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.ColumnMaskingBinding, 0)
	for r.Next() {
		var schemaName, tableName, columnName, ruleID, condJSON string
		var enabledInt int
		if err := r.Scan(&schemaName, &tableName, &columnName, &ruleID, &condJSON, &enabledInt); err != nil {
			return nil, err
		}
		b := &authz.ColumnMaskingBinding{
			Schema:  schemaName,
			Table:   tableName,
			Column:  columnName,
			RuleID:  ruleID,
			Enabled: enabledInt != 0,
		}
		if condJSON != "" {
			cond := &authz.Condition{}
			if err := json.Unmarshal([]byte(condJSON), cond); err == nil {
				b.Condition = cond
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *SQLMaskingStore) SetColumnPermission(ctx context.Context, p *authz.ColumnPermission) error {
	q := `INSERT INTO column_permissions(schema_name, table_name, column_name, user_id, role_id, level) VALUES(:schema_name, :table_name, :column_name, :user_id, :role_id, :level)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"schema_name": p.Schema,
		"table_name":  p.Table,
		"column_name": p.Column,
		"user_id":     p.UserID,
		"role_id":     p.RoleID,
		"level":       string(p.Level),
	})
	return err
}

func (s *SQLMaskingStore) ListColumnPermissions(ctx context.Context, schema, table string) ([]*authz.ColumnPermission, error) {
	q := `SELECT schema_name, table_name, column_name, user_id, role_id, level FROM column_permissions WHERE schema_name = :schema_name AND table_name = :table_name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"schema_name": schema, "table_name": table})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.ColumnPermission, 0)
	for r.Next() {
		var schemaName, tableName, columnName, userID, roleID, level string
		if err := r.Scan(&schemaName, &tableName, &columnName, &userID, &roleID, &level); err != nil {
			return nil, err
		}
		out = append(out, &authz.ColumnPermission{
			Schema: schemaName,
			Table:  tableName,
			Column: columnName,
			UserID: userID,
			RoleID: roleID,
			Level:  authz.PermissionLevel(level),
		})
	}
	return out, nil
}
