package authz

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested record does not exist.
// Lookups that treat absence as a normal outcome (permission rows, cache
// entries, sensitivity records) return (nil, nil) instead.
var ErrNotFound = errors.New("authz: not found")

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PermissionStore manages materialized permission rows.
type PermissionStore interface {
	// ListByUserPermission returns the subject's non-deleted rows carrying the
	// given permission (action name). Callers filter expiry.
	ListByUserPermission(ctx context.Context, userID, permission string) ([]*MaterializedPermission, error)
	// Replace atomically swaps all rows for a user, for permission refresh.
	Replace(ctx context.Context, userID string, perms []*MaterializedPermission) error
	Grant(ctx context.Context, perm *MaterializedPermission) error
}

// RoleStore manages role persistence.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)
}

// MembershipStore tracks which roles a subject holds. Consulted by
// RefreshUserPermissions; the per-request role set travels on the
// AuthorizationContext.
type MembershipStore interface {
	AssignRole(ctx context.Context, subjectID, roleID string) error
	RevokeRole(ctx context.Context, subjectID, roleID string) error
	ListRoles(ctx context.Context, subjectID string) ([]string, error)
}

// InheritanceStore exposes the permission-inheritance edge set.
type InheritanceStore interface {
	// ListChildren returns enabled edges whose parent is the given resource.
	ListChildren(ctx context.Context, resourceType, resourceID string) ([]*InheritanceEdge, error)
	CreateEdge(ctx context.Context, edge *InheritanceEdge) error
	DeleteEdge(ctx context.Context, edge *InheritanceEdge) error
}

// PolicyStore manages ABAC policy persistence.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// ListApplicable returns enabled policies for (resourceType, action) that
	// are global or scoped to the tenant, ordered by priority descending with
	// ties broken by creation time ascending.
	ListApplicable(ctx context.Context, resourceType, action, tenantID string) ([]*Policy, error)
}

// DecisionCacheStore memoizes ABAC evaluation results. Get returns (nil, nil)
// on miss; Put is an upsert and concurrent writers may race harmlessly.
type DecisionCacheStore interface {
	Get(ctx context.Context, userID, resourceType, resourceID, action string) (*CachedDecision, error)
	Put(ctx context.Context, d *CachedDecision) error
	DeleteByUser(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context) error
}

// MaskingStore manages masking rules, column bindings and column permissions.
type MaskingStore interface {
	CreateRule(ctx context.Context, r *MaskingRule) error
	GetRule(ctx context.Context, id string) (*MaskingRule, error)
	CreateBinding(ctx context.Context, b *ColumnMaskingBinding) error
	ListBindings(ctx context.Context, schema, table string) ([]*ColumnMaskingBinding, error)
	SetColumnPermission(ctx context.Context, p *ColumnPermission) error
	ListColumnPermissions(ctx context.Context, schema, table string) ([]*ColumnPermission, error)
}

// SensitivityStore manages resource classification records. Get returns
// (nil, nil) when the resource is unclassified.
type SensitivityStore interface {
	Get(ctx context.Context, resourceType, resourceID string) (*ResourceSensitivity, error)
	Put(ctx context.Context, s *ResourceSensitivity) error
	Delete(ctx context.Context, resourceType, resourceID string) error
}

// DelegationStore manages time-bounded permission delegations.
type DelegationStore interface {
	Grant(ctx context.Context, d *Delegation) error
	Revoke(ctx context.Context, id string) error
	// ListActiveFor returns unrevoked delegations to the subject that are
	// valid at now (expiry and use count already filtered).
	ListActiveFor(ctx context.Context, userID string, now time.Time) ([]*Delegation, error)
	// IncrementUses records one consumption of the delegation.
	IncrementUses(ctx context.Context, id string) error
}

// AuditStore manages decision audit logs.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// Stores bundles every backend the engine reads or writes. Audit is
// optional; everything else must be set.
type Stores struct {
	Permissions   PermissionStore
	Roles         RoleStore
	Memberships   MembershipStore
	Inheritance   InheritanceStore
	Policies      PolicyStore
	DecisionCache DecisionCacheStore
	Masking       MaskingStore
	Sensitivity   SensitivityStore
	Delegations   DelegationStore
	Audit         AuditStore
}

// NewMemoryStores returns a Stores bundle backed entirely by in-memory
// implementations, for tests and embedded use.
func NewMemoryStores() Stores {
	return Stores{
		Permissions:   NewMemoryPermissionStore(),
		Roles:         NewMemoryRoleStore(),
		Memberships:   NewMemoryMembershipStore(),
		Inheritance:   NewMemoryInheritanceStore(),
		Policies:      NewMemoryPolicyStore(),
		DecisionCache: NewMemoryDecisionCache(),
		Masking:       NewMemoryMaskingStore(),
		Sensitivity:   NewMemorySensitivityStore(),
		Delegations:   NewMemoryDelegationStore(),
		Audit:         NewMemoryAuditStore(),
	}
}
