package stores

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/quartzboard/authz"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLPermissionStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPermissionStore(newTestDB(t))

	_ = store.Grant(ctx, &authz.MaterializedPermission{UserID: "u1", ResourceType: "dashboard", ResourceID: "d1", Permission: "view"})
	_ = store.Grant(ctx, &authz.MaterializedPermission{UserID: "u1", ResourceType: "report", Permission: "*"})
	_ = store.Grant(ctx, &authz.MaterializedPermission{UserID: "u2", ResourceType: "dashboard", ResourceID: "d1", Permission: "view"})

	rows, err := store.ListByUserPermission(ctx, "u1", "view")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// the wildcard permission row matches any required action
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.UserID != "u1" {
			t.Fatalf("leaked row for %s", row.UserID)
		}
	}

	// empty resource id defaults to "*"
	rows, _ = store.ListByUserPermission(ctx, "u1", "view")
	var wildcard bool
	for _, row := range rows {
		if row.ResourceType == "report" && row.ResourceID == "*" {
			wildcard = true
		}
	}
	if !wildcard {
		t.Fatalf("wildcard resource id not defaulted: %+v", rows)
	}

	expires := time.Now().Add(time.Hour)
	err = store.Replace(ctx, "u1", []*authz.MaterializedPermission{
		{UserID: "u1", ResourceType: "dashboard", ResourceID: "*", Permission: "edit", ExpiresAt: expires},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if rows, _ = store.ListByUserPermission(ctx, "u1", "view"); len(rows) != 0 {
		t.Fatalf("replace must drop old rows, got %+v", rows)
	}
	rows, _ = store.ListByUserPermission(ctx, "u1", "edit")
	if len(rows) != 1 {
		t.Fatalf("replaced rows = %d", len(rows))
	}
	if rows[0].ExpiresAt.IsZero() || rows[0].ExpiresAt.Sub(expires).Abs() > time.Second {
		t.Fatalf("expires_at lost in roundtrip: %v", rows[0].ExpiresAt)
	}

	// other users untouched by the swap
	if rows, _ = store.ListByUserPermission(ctx, "u2", "view"); len(rows) != 1 {
		t.Fatalf("u2 rows = %d", len(rows))
	}
}

func TestSQLRoleStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRoleStore(newTestDB(t))

	role := &authz.Role{ID: "role-1", TenantID: "t1", Name: "Viewer", Permissions: []string{"dashboard:view", "report:view"}}
	if err := store.CreateRole(ctx, role); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.CreateRole(ctx, &authz.Role{ID: "role-sys", Name: "Admin", Permissions: []string{"*"}, System: true})

	got, err := store.GetRole(ctx, "role-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Viewer" || len(got.Permissions) != 2 || got.Permissions[0] != "dashboard:view" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("created_at not stamped")
	}

	got.Permissions = append(got.Permissions, "dashboard:edit")
	if err := store.UpdateRole(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetRole(ctx, "role-1")
	if len(got.Permissions) != 3 {
		t.Fatalf("update lost permissions: %v", got.Permissions)
	}

	roles, err := store.ListRoles(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// tenant-scoped plus globals
	if len(roles) != 2 {
		t.Fatalf("roles = %d, want 2", len(roles))
	}

	if err := store.DeleteRole(ctx, "role-sys"); err == nil || !strings.Contains(err.Error(), "system role") {
		t.Fatalf("system role delete must be refused, got %v", err)
	}
	if err := store.DeleteRole(ctx, "role-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRole(ctx, "role-1"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLMembershipStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLMembershipStore(newTestDB(t))

	_ = store.AssignRole(ctx, "u1", "role-a")
	_ = store.AssignRole(ctx, "u1", "role-b")
	// re-assign is idempotent
	if err := store.AssignRole(ctx, "u1", "role-a"); err != nil {
		t.Fatalf("re-assign: %v", err)
	}

	roles, err := store.ListRoles(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("roles = %v", roles)
	}

	_ = store.RevokeRole(ctx, "u1", "role-a")
	roles, _ = store.ListRoles(ctx, "u1")
	if len(roles) != 1 || roles[0] != "role-b" {
		t.Fatalf("after revoke: %v", roles)
	}
}

func TestSQLInheritanceStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLInheritanceStore(newTestDB(t))

	edge := &authz.InheritanceEdge{ParentResourceType: "workspace", ParentResourceID: "w1", ChildResourceType: "dashboard", ChildResourceID: "d1", Enabled: true, MaxDepth: -1}
	if err := store.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.CreateEdge(ctx, &authz.InheritanceEdge{ParentResourceType: "workspace", ParentResourceID: "w1", ChildResourceType: "dashboard", ChildResourceID: "d2", Enabled: false, MaxDepth: -1})

	children, err := store.ListChildren(ctx, "workspace", "w1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// disabled edges are filtered in the query
	if len(children) != 1 || children[0].ChildResourceID != "d1" {
		t.Fatalf("children = %+v", children)
	}
	if children[0].MaxDepth != -1 {
		t.Fatalf("max_depth = %d", children[0].MaxDepth)
	}

	// create is an upsert on the edge key
	edge.MaxDepth = 3
	if err := store.CreateEdge(ctx, edge); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	children, _ = store.ListChildren(ctx, "workspace", "w1")
	if len(children) != 1 || children[0].MaxDepth != 3 {
		t.Fatalf("upsert not applied: %+v", children)
	}

	_ = store.DeleteEdge(ctx, edge)
	if children, _ = store.ListChildren(ctx, "workspace", "w1"); len(children) != 0 {
		t.Fatalf("delete left edges: %+v", children)
	}
}

func TestSQLPolicyStoreListApplicableOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewSQLPolicyStore(newTestDB(t))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, priority int, created time.Time, tenant string, enabled bool) *authz.Policy {
		return &authz.Policy{
			ID: id, TenantID: tenant, ResourceType: "dashboard", Action: "export",
			Effect: authz.EffectAllow, Priority: priority, Enabled: enabled,
			CreatedAt: created, UpdatedAt: created,
			Conditions: authz.ConditionSet{All: []authz.Condition{{Attribute: "user.region", Operator: "equals", Value: "us"}}},
		}
	}
	_ = store.CreatePolicy(ctx, mk("p-low", 10, base, "", true))
	_ = store.CreatePolicy(ctx, mk("p-high", 100, base, "", true))
	_ = store.CreatePolicy(ctx, mk("p-tie-late", 50, base.Add(time.Hour), "", true))
	_ = store.CreatePolicy(ctx, mk("p-tie-early", 50, base, "", true))
	_ = store.CreatePolicy(ctx, mk("p-disabled", 999, base, "", false))
	_ = store.CreatePolicy(ctx, mk("p-other-tenant", 80, base, "t2", true))
	_ = store.CreatePolicy(ctx, mk("p-tenant", 70, base, "t1", true))

	policies, err := store.ListApplicable(ctx, "dashboard", "export", "t1")
	if err != nil {
		t.Fatalf("list applicable: %v", err)
	}
	want := []string{"p-high", "p-tenant", "p-tie-early", "p-tie-late", "p-low"}
	if len(policies) != len(want) {
		t.Fatalf("policies = %d, want %d", len(policies), len(want))
	}
	for i, p := range policies {
		if p.ID != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, p.ID, want[i])
		}
	}

	got, err := store.GetPolicy(ctx, "p-high")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Conditions.All) != 1 || got.Conditions.All[0].Attribute != "user.region" {
		t.Fatalf("conditions lost in roundtrip: %+v", got.Conditions)
	}

	if _, err := store.GetPolicy(ctx, "ghost"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	_ = store.DeletePolicy(ctx, "p-high")
	policies, _ = store.ListApplicable(ctx, "dashboard", "export", "t1")
	if len(policies) != 4 {
		t.Fatalf("after delete: %d", len(policies))
	}
}

func TestSQLDecisionCache(t *testing.T) {
	ctx := context.Background()
	cache := NewSQLDecisionCache(newTestDB(t))

	if d, err := cache.Get(ctx, "u1", "dashboard", "d1", "view"); err != nil || d != nil {
		t.Fatalf("miss must return (nil, nil), got %+v, %v", d, err)
	}

	entry := &authz.CachedDecision{
		UserID: "u1", ResourceType: "dashboard", ResourceID: "d1", Action: "view",
		Effect: authz.EffectAllow, MatchedPolicyIDs: []string{"p1", "p2"},
		ContextSnapshot: `{"user.region":"us"}`,
		ExpiresAt:       time.Now().Add(time.Minute),
	}
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	d, err := cache.Get(ctx, "u1", "dashboard", "d1", "view")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d == nil || d.Effect != authz.EffectAllow || len(d.MatchedPolicyIDs) != 2 {
		t.Fatalf("roundtrip mismatch: %+v", d)
	}
	if d.ContextSnapshot != entry.ContextSnapshot {
		t.Fatalf("snapshot = %q", d.ContextSnapshot)
	}

	// put is an upsert on the decision key
	entry.Effect = authz.EffectDeny
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	d, _ = cache.Get(ctx, "u1", "dashboard", "d1", "view")
	if d == nil || d.Effect != authz.EffectDeny {
		t.Fatalf("upsert not applied: %+v", d)
	}

	// expired entries read as misses
	entry.ExpiresAt = time.Now().Add(-time.Minute)
	_ = cache.Put(ctx, entry)
	if d, _ = cache.Get(ctx, "u1", "dashboard", "d1", "view"); d != nil {
		t.Fatalf("expired entry served: %+v", d)
	}
	if err := cache.PurgeExpired(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}

	entry.ExpiresAt = time.Now().Add(time.Minute)
	_ = cache.Put(ctx, entry)
	if err := cache.DeleteByUser(ctx, "u1"); err != nil {
		t.Fatalf("delete by user: %v", err)
	}
	if d, _ = cache.Get(ctx, "u1", "dashboard", "d1", "view"); d != nil {
		t.Fatalf("delete by user left entry: %+v", d)
	}
}

func TestSQLMaskingStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLMaskingStore(newTestDB(t))

	rule := &authz.MaskingRule{
		ID: "rule-partial", Type: authz.MaskPartial,
		Config:      map[string]any{"show_first": 2, "show_last": 2},
		BypassRoles: []string{"admin"},
		BypassUsers: []string{"dpo-1"},
		Enabled:     true,
	}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	got, err := store.GetRule(ctx, "rule-partial")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.Type != authz.MaskPartial || !got.Enabled {
		t.Fatalf("rule roundtrip: %+v", got)
	}
	// json numbers come back as float64
	if v, ok := got.Config["show_first"].(float64); !ok || v != 2 {
		t.Fatalf("config roundtrip: %+v", got.Config)
	}
	if len(got.BypassRoles) != 1 || got.BypassRoles[0] != "admin" {
		t.Fatalf("bypass roles: %v", got.BypassRoles)
	}
	if _, err := store.GetRule(ctx, "ghost"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	binding := &authz.ColumnMaskingBinding{
		Schema: "public", Table: "users", Column: "email", RuleID: "rule-partial", Enabled: true,
		Condition: &authz.Condition{Attribute: "user.employment", Operator: "equals", Value: "external"},
	}
	if err := store.CreateBinding(ctx, binding); err != nil {
		t.Fatalf("create binding: %v", err)
	}
	bindings, err := store.ListBindings(ctx, "public", "users")
	if err != nil {
		t.Fatalf("list bindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].RuleID != "rule-partial" {
		t.Fatalf("bindings = %+v", bindings)
	}
	if bindings[0].Condition == nil || bindings[0].Condition.Attribute != "user.employment" {
		t.Fatalf("condition lost in roundtrip: %+v", bindings[0].Condition)
	}
	if other, _ := store.ListBindings(ctx, "public", "orders"); len(other) != 0 {
		t.Fatalf("bindings leaked across table: %+v", other)
	}

	_ = store.SetColumnPermission(ctx, &authz.ColumnPermission{Schema: "public", Table: "users", Column: "email", RoleID: "analyst", Level: authz.LevelMasked})
	_ = store.SetColumnPermission(ctx, &authz.ColumnPermission{Schema: "public", Table: "users", Column: "email", UserID: "u1", Level: authz.LevelRead})
	perms, err := store.ListColumnPermissions(ctx, "public", "users")
	if err != nil {
		t.Fatalf("list column permissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("perms = %+v", perms)
	}
}

func TestSQLSensitivityStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLSensitivityStore(newTestDB(t))

	if rec, err := store.Get(ctx, "dashboard", "d1"); err != nil || rec != nil {
		t.Fatalf("unclassified must return (nil, nil), got %+v, %v", rec, err)
	}

	rec := &authz.ResourceSensitivity{
		ResourceType:    "dashboard",
		ResourceID:      "d1",
		Level:           authz.SensitivityRestricted,
		ComplianceTags:  []string{"gdpr", "sox"},
		RequiresMFA:     true,
		AllowedIPRanges: []string{"10.0.0.0/8"},
		AllowedTimeWindows: []authz.TimeWindow{
			{Days: []string{"monday", "tuesday"}, Start: "09:00", End: "18:00"},
		},
		DataClassification: map[string]any{"pii": true},
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, "dashboard", "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != authz.SensitivityRestricted || !got.RequiresMFA {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if len(got.ComplianceTags) != 2 || len(got.AllowedIPRanges) != 1 {
		t.Fatalf("json columns lost: %+v", got)
	}
	if len(got.AllowedTimeWindows) != 1 || got.AllowedTimeWindows[0].Start != "09:00" {
		t.Fatalf("time windows lost: %+v", got.AllowedTimeWindows)
	}
	if v, ok := got.DataClassification["pii"].(bool); !ok || !v {
		t.Fatalf("classification lost: %+v", got.DataClassification)
	}

	// put is an upsert
	rec.Level = authz.SensitivityInternal
	rec.RequiresMFA = false
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = store.Get(ctx, "dashboard", "d1")
	if got.Level != authz.SensitivityInternal || got.RequiresMFA {
		t.Fatalf("upsert not applied: %+v", got)
	}

	if err := store.Delete(ctx, "dashboard", "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ = store.Get(ctx, "dashboard", "d1"); got != nil {
		t.Fatalf("delete left record: %+v", got)
	}
}

func TestSQLDelegationStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLDelegationStore(newTestDB(t))
	now := time.Now()

	_ = store.Grant(ctx, &authz.Delegation{ID: "del-open", DelegatedBy: "u1", DelegatedTo: "u2", ResourceType: "dashboard", ResourceID: "*", Permissions: []string{"dashboard:view"}})
	_ = store.Grant(ctx, &authz.Delegation{ID: "del-bounded", DelegatedBy: "u1", DelegatedTo: "u2", ResourceType: "dashboard", ResourceID: "d1", Permissions: []string{"edit"}, ValidUntil: now.Add(time.Hour), MaxUses: 2})
	_ = store.Grant(ctx, &authz.Delegation{ID: "del-expired", DelegatedBy: "u1", DelegatedTo: "u2", ResourceType: "dashboard", ResourceID: "*", Permissions: []string{"view"}, ValidUntil: now.Add(-time.Hour)})
	_ = store.Grant(ctx, &authz.Delegation{ID: "del-revoked", DelegatedBy: "u1", DelegatedTo: "u2", ResourceType: "dashboard", ResourceID: "*", Permissions: []string{"view"}, Revoked: true})
	_ = store.Grant(ctx, &authz.Delegation{ID: "del-spent", DelegatedBy: "u1", DelegatedTo: "u2", ResourceType: "dashboard", ResourceID: "*", Permissions: []string{"view"}, MaxUses: 1, Uses: 1})
	_ = store.Grant(ctx, &authz.Delegation{ID: "del-other", DelegatedBy: "u1", DelegatedTo: "u3", ResourceType: "dashboard", ResourceID: "*", Permissions: []string{"view"}})

	active, err := store.ListActiveFor(ctx, "u2", now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	ids := make(map[string]bool, len(active))
	for _, d := range active {
		ids[d.ID] = true
	}
	if len(active) != 2 || !ids["del-open"] || !ids["del-bounded"] {
		t.Fatalf("active = %v", ids)
	}

	if err := store.IncrementUses(ctx, "del-bounded"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	_ = store.IncrementUses(ctx, "del-bounded")
	active, _ = store.ListActiveFor(ctx, "u2", now)
	if len(active) != 1 || active[0].ID != "del-open" {
		t.Fatalf("exhausted delegation still active: %+v", active)
	}

	_ = store.Revoke(ctx, "del-open")
	if active, _ = store.ListActiveFor(ctx, "u2", now); len(active) != 0 {
		t.Fatalf("revoked delegation still active: %+v", active)
	}
}

func TestSQLAuditStore(t *testing.T) {
	ctx := context.Background()
	store := NewSQLAuditStore(newTestDB(t))
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	log := func(id, userID, action string, ts time.Time, allowed bool) {
		_ = store.LogDecision(ctx, &authz.AuditEntry{
			ID: id, Timestamp: ts, TenantID: "t1", UserID: userID,
			Check:    authz.PermissionCheck{ResourceType: "dashboard", ResourceID: "d1", Action: action},
			Decision: &authz.Decision{Allowed: allowed, MatchedBy: "role:viewer", Reason: "role permission", Timestamp: ts},
			Metadata: map[string]any{"ip": "10.0.0.1"},
		})
	}
	log("a1", "u1", "view", base, true)
	log("a2", "u1", "export", base.Add(time.Minute), false)
	log("a3", "u2", "view", base.Add(2*time.Minute), true)

	entries, err := store.GetAccessLog(ctx, authz.AuditFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("get access log: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a1" || entries[1].ID != "a2" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Decision == nil || !entries[0].Decision.Allowed || entries[0].Decision.MatchedBy != "role:viewer" {
		t.Fatalf("decision lost in roundtrip: %+v", entries[0].Decision)
	}
	if entries[0].Metadata["ip"] != "10.0.0.1" {
		t.Fatalf("metadata lost: %+v", entries[0].Metadata)
	}

	entries, _ = store.GetAccessLog(ctx, authz.AuditFilter{Action: "view"})
	if len(entries) != 2 {
		t.Fatalf("action filter: %+v", entries)
	}
	entries, _ = store.GetAccessLog(ctx, authz.AuditFilter{StartTime: base.Add(30 * time.Second)})
	if len(entries) != 2 || entries[0].ID != "a2" {
		t.Fatalf("start filter: %+v", entries)
	}
	entries, _ = store.GetAccessLog(ctx, authz.AuditFilter{Limit: 1})
	if len(entries) != 1 {
		t.Fatalf("limit: %+v", entries)
	}
}
