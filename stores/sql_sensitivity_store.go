package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// SQLSensitivityStore persists resource classification records in SQL (squealx)
type SQLSensitivityStore struct {
	db *squealx.DB
}

func NewSQLSensitivityStore(db *squealx.DB) *SQLSensitivityStore {
	return &SQLSensitivityStore{db: db}
}

func (s *SQLSensitivityStore) Get(ctx context.Context, resourceType, resourceID string) (*authz.ResourceSensitivity, error) {
	q := `SELECT level, compliance_json, requires_mfa, ip_ranges_json, time_windows_json, classification_json FROM resource_sensitivity WHERE resource_type = :resource_type AND resource_id = :resource_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"resource_type": resourceType, "resource_id": resourceID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	var level, complianceJSON, ipRangesJSON, windowsJSON, classificationJSON string
	var mfaInt int
	if err := r.Scan(&level, &complianceJSON, &mfaInt, &ipRangesJSON, &windowsJSON, &classificationJSON); err != nil {
		return nil, err
	}
	rec := &authz.ResourceSensitivity{
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		Level:           authz.SensitivityLevel(level),
		ComplianceTags:  jsonDecodeStrings(complianceJSON),
		RequiresMFA:     mfaInt != 0,
		AllowedIPRanges: jsonDecodeStrings(ipRangesJSON),
	}
	_ = json.Unmarshal([]byte(windowsJSON), &rec.AllowedTimeWindows)
	_ = json.Unmarshal([]byte(classificationJSON), &rec.DataClassification)
	return rec, nil
}

func (s *SQLSensitivityStore) Put(ctx context.Context, rec *authz.ResourceSensitivity) error {
	q := `INSERT INTO resource_sensitivity(resource_type, resource_id, level, compliance_json, requires_mfa, ip_ranges_json, time_windows_json, classification_json) VALUES(:resource_type, :resource_id, :level, :compliance_json, :requires_mfa, :ip_ranges_json, :time_windows_json, :classification_json) ON CONFLICT(resource_type, resource_id) DO UPDATE SET level = :level, compliance_json = :compliance_json, requires_mfa = :requires_mfa, ip_ranges_json = :ip_ranges_json, time_windows_json = :time_windows_json, classification_json = :classification_json`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"resource_type":       rec.ResourceType,
		"resource_id":         rec.ResourceID,
		"level":               string(rec.Level),
		"compliance_json":     jsonEncode(rec.ComplianceTags),
		"requires_mfa":        boolToInt(rec.RequiresMFA),
		"ip_ranges_json":      jsonEncode(rec.AllowedIPRanges),
		"time_windows_json":   jsonEncode(rec.AllowedTimeWindows),
		"classification_json": jsonEncode(rec.DataClassification),
	})
	return err
}

func (s *SQLSensitivityStore) Delete(ctx context.Context, resourceType, resourceID string) error {
	q := `DELETE FROM resource_sensitivity WHERE resource_type = :resource_type AND resource_id = :resource_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"resource_type": resourceType, "resource_id": resourceID})
	return err
}
