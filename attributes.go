package authz

import (
	"strings"
)

// BuildAttributeMap assembles the flat namespace consumed by the condition
// evaluator: user.* (identity plus all context attributes), environment.*
// (request snapshot plus derived time/day), resource.* (the sensitivity
// record's data classification, empty when unclassified).
func BuildAttributeMap(authCtx *AuthorizationContext, sens *ResourceSensitivity) map[string]any {
	user := map[string]any{
		"id":          authCtx.UserID,
		"roles":       authCtx.Roles,
		"permissions": authCtx.Permissions,
		"tenant_id":   authCtx.TenantID,
	}
	for k, v := range authCtx.Attributes {
		user[k] = v
	}

	ts := authCtx.Environment.Time()
	env := map[string]any{
		"ip":          authCtx.Environment.IPAddress,
		"user_agent":  authCtx.Environment.UserAgent,
		"timestamp":   ts,
		"time":        ts.Format("15:04"),
		"day":         strings.ToLower(ts.Weekday().String()),
		"device_type": authCtx.Environment.DeviceType,
	}

	resource := map[string]any{}
	if sens != nil && sens.DataClassification != nil {
		resource = sens.DataClassification
	}

	return map[string]any{
		"user":        user,
		"environment": env,
		"resource":    resource,
	}
}

// LookupAttribute resolves a dotted path ("a.b.c") against a nested map.
// The second return is false when any segment is missing or a non-map value
// is dereferenced.
func LookupAttribute(attrs map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = attrs
	for path != "" {
		seg := path
		if idx := strings.IndexByte(path, '.'); idx != -1 {
			seg = path[:idx]
			path = path[idx+1:]
		} else {
			path = ""
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
