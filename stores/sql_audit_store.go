package stores

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLAuditStore persists decision audit entries in SQL (squealx)
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *authz.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	q := `INSERT INTO audit_log(id, ts, tenant_id, user_id, resource_type, resource_id, action, decision_json, metadata_json) VALUES(:id, :ts, :tenant_id, :user_id, :resource_type, :resource_id, :action, :decision_json, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"ts":            entry.Timestamp,
		"tenant_id":     entry.TenantID,
		"user_id":       entry.UserID,
		"resource_type": entry.Check.ResourceType,
		"resource_id":   entry.Check.ResourceID,
		"action":        entry.Check.Action,
		"decision_json": jsonEncode(entry.Decision),
		"metadata_json": jsonEncode(entry.Metadata),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter authz.AuditFilter) ([]*authz.AuditEntry, error) {
	conds := []string{"1 = 1"}
	args := map[string]any{}
	if filter.UserID != "" {
		conds = append(conds, "user_id = :user_id")
		args["user_id"] = filter.UserID
	}
	if filter.ResourceType != "" {
		conds = append(conds, "resource_type = :resource_type")
		args["resource_type"] = filter.ResourceType
	}
	if filter.ResourceID != "" {
		conds = append(conds, "resource_id = :resource_id")
		args["resource_id"] = filter.ResourceID
	}
	if filter.Action != "" {
		conds = append(conds, "action = :action")
		args["action"] = filter.Action
	}
	if !filter.StartTime.IsZero() {
		conds = append(conds, "ts >= :start_time")
		args["start_time"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "ts <= :end_time")
		args["end_time"] = filter.EndTime
	}
	q := `SELECT id, ts, tenant_id, user_id, resource_type, resource_id, action, decision_json, metadata_json FROM audit_log WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY ts ASC`

	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*authz.AuditEntry, 0)
	for r.Next() {
		var id, tenant, userID, resourceType, resourceID, action, decisionJSON, metadataJSON string
		var tsRaw interface{}
		if err := r.Scan(&id, &tsRaw, &tenant, &userID, &resourceType, &resourceID, &action, &decisionJSON, &metadataJSON); err != nil {
			return nil, err
		}
		entry := &authz.AuditEntry{
			ID:        id,
			Timestamp: scanTime(tsRaw),
			TenantID:  tenant,
			UserID:    userID,
			Check: authz.PermissionCheck{
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Action:       action,
			},
		}
		_ = json.Unmarshal([]byte(decisionJSON), &entry.Decision)
		_ = json.Unmarshal([]byte(metadataJSON), &entry.Metadata)
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
