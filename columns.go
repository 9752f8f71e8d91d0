package authz

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// COLUMN-LEVEL RESOLUTION
// ============================================================================

// GetColumnPermissions resolves the caller's effective access level per
// column of one table. Grants aimed at the user and at any of their roles
// are merged most-permissive-wins. Columns without a grant are absent from
// the map; callers treat absence as plain read.
func (e *Engine) GetColumnPermissions(ctx context.Context, authCtx *AuthorizationContext, schema, table string) (map[string]PermissionLevel, error) {
	rows, err := e.stores.Masking.ListColumnPermissions(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list column permissions %s.%s: %w", schema, table, err)
	}

	levels := make(map[string]PermissionLevel)
	for _, row := range rows {
		if row.UserID != "" && row.UserID != authCtx.UserID {
			continue
		}
		if row.UserID == "" && (row.RoleID == "" || !authCtx.HasRole(row.RoleID)) {
			continue
		}
		if current, ok := levels[row.Column]; !ok || row.Level.Rank() > current.Rank() {
			levels[row.Column] = row.Level
		}
	}
	return levels, nil
}

// GetColumnMaskingRules resolves the masking rule that applies to each
// column of one table for this caller. Disabled bindings and rules are
// skipped; a binding condition is evaluated against the caller's attribute
// map. A binding whose rule is missing falls back to a full mask so the
// column never leaks on a configuration gap.
func (e *Engine) GetColumnMaskingRules(ctx context.Context, authCtx *AuthorizationContext, schema, table string) (map[string]*MaskingRule, error) {
	bindings, err := e.stores.Masking.ListBindings(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("list masking bindings %s.%s: %w", schema, table, err)
	}

	var attrs map[string]any
	rules := make(map[string]*MaskingRule)
	for _, b := range bindings {
		if !b.Enabled {
			continue
		}
		if b.Condition != nil {
			if attrs == nil {
				attrs = BuildAttributeMap(authCtx, nil)
			}
			if !EvaluateCondition(*b.Condition, attrs) {
				continue
			}
		}
		rule, err := e.stores.Masking.GetRule(ctx, b.RuleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.log.Warn("masking binding references unknown rule",
					"schema", schema, "table", table, "column", b.Column, "rule_id", b.RuleID)
				rules[b.Column] = &MaskingRule{ID: b.RuleID, Type: MaskFull, Enabled: true}
				continue
			}
			return nil, fmt.Errorf("load masking rule %s: %w", b.RuleID, err)
		}
		if !rule.Enabled {
			continue
		}
		rules[b.Column] = rule
	}
	return rules, nil
}

// ApplyRowPolicies projects result rows through the caller's column
// permissions and masking rules: level none drops the column, masked applies
// the bound rule (or a full mask when none is bound), read and write pass
// the value through any bound rule, which itself honors bypass lists.
func (e *Engine) ApplyRowPolicies(ctx context.Context, authCtx *AuthorizationContext, schema, table string, rows []map[string]any) ([]map[string]any, error) {
	levels, err := e.GetColumnPermissions(ctx, authCtx, schema, table)
	if err != nil {
		return nil, err
	}
	rules, err := e.GetColumnMaskingRules(ctx, authCtx, schema, table)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		projected := make(map[string]any, len(row))
		for col, val := range row {
			level, ok := levels[col]
			if !ok {
				level = LevelRead
			}
			switch level {
			case LevelNone:
				continue
			case LevelMasked:
				if rule, ok := rules[col]; ok {
					projected[col] = Mask(val, rule, authCtx)
				} else {
					projected[col] = DefaultFullMask(val)
				}
			default:
				if rule, ok := rules[col]; ok {
					projected[col] = Mask(val, rule, authCtx)
				} else {
					projected[col] = val
				}
			}
		}
		out = append(out, projected)
	}
	return out, nil
}
