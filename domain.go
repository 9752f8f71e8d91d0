package authz

import (
	"strings"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Effect represents the outcome of a policy evaluation
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// AuthorizationContext carries the identity and environment of the caller.
// It is built once per request by the transport layer and must not be
// mutated while a decision is in flight.
type AuthorizationContext struct {
	UserID      string         `json:"user_id" yaml:"user_id"`
	SessionID   string         `json:"session_id" yaml:"session_id"`
	TenantID    string         `json:"tenant_id" yaml:"tenant_id"`
	Roles       []string       `json:"roles" yaml:"roles"`
	Permissions []string       `json:"permissions" yaml:"permissions"` // directly granted "type:action" strings
	Attributes  map[string]any `json:"attributes" yaml:"attributes"`
	Environment Environment    `json:"environment" yaml:"environment"`
}

// HasRole reports whether the subject carries the given role identifier.
func (c *AuthorizationContext) HasRole(roleID string) bool {
	for _, r := range c.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Environment is the per-request environment snapshot.
type Environment struct {
	IPAddress  string    `json:"ip_address" yaml:"ip_address"`
	UserAgent  string    `json:"user_agent" yaml:"user_agent"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	DeviceType string    `json:"device_type" yaml:"device_type"`
}

// Time returns the request timestamp, falling back to the wall clock when the
// transport layer did not stamp the snapshot.
func (e Environment) Time() time.Time {
	if e.Timestamp.IsZero() {
		return time.Now()
	}
	return e.Timestamp
}

// PermissionCheck identifies what is being asked. Value type, no identity.
type PermissionCheck struct {
	ResourceType string `json:"resource_type" yaml:"resource_type"`
	ResourceID   string `json:"resource_id" yaml:"resource_id"`
	Action       string `json:"action" yaml:"action"`
}

// PermissionString returns the "<resourceType>:<action>" form used by role
// grants and delegations.
func (c PermissionCheck) PermissionString() string {
	return c.ResourceType + ":" + c.Action
}

// MaterializedPermission is a flattened grant row, produced by
// RefreshUserPermissions from role/group membership. An expired row is
// treated as absent.
type MaterializedPermission struct {
	UserID       string    `json:"user_id" yaml:"user_id"`
	ResourceType string    `json:"resource_type" yaml:"resource_type"`
	ResourceID   string    `json:"resource_id" yaml:"resource_id"` // "*" = any resource of the type
	Permission   string    `json:"permission" yaml:"permission"`   // action name, e.g. "read"
	ExpiresAt    time.Time `json:"expires_at" yaml:"expires_at"`   // zero = no expiry
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// IsExpired checks if the grant has expired
func (p *MaterializedPermission) IsExpired() bool {
	return !p.ExpiresAt.IsZero() && time.Now().After(p.ExpiresAt)
}

// InheritanceEdge propagates permissions from a parent resource to a child
// resource (workspace -> dashboard -> widget). The edge set is expected to be
// acyclic but traversal never relies on that.
type InheritanceEdge struct {
	ParentResourceType string `json:"parent_resource_type" yaml:"parent_resource_type"`
	ParentResourceID   string `json:"parent_resource_id" yaml:"parent_resource_id"`
	ChildResourceType  string `json:"child_resource_type" yaml:"child_resource_type"`
	ChildResourceID    string `json:"child_resource_id" yaml:"child_resource_id"`
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	MaxDepth           int    `json:"max_depth" yaml:"max_depth"` // -1 = unbounded
}

// Role is a named bundle of "<resourceType>:<action>" permission strings,
// optionally scoped to a tenant. System roles are not deletable.
type Role struct {
	ID          string    `json:"id" yaml:"id"`
	TenantID    string    `json:"tenant_id" yaml:"tenant_id"`
	Name        string    `json:"name" yaml:"name"`
	Permissions []string  `json:"permissions" yaml:"permissions"`
	System      bool      `json:"system" yaml:"system"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Condition is one attribute predicate inside an ABAC policy.
type Condition struct {
	Attribute string `json:"attribute" yaml:"attribute"` // dotted path, e.g. "user.department"
	Operator  string `json:"operator" yaml:"operator"`
	Value     any    `json:"value" yaml:"value"`
}

// ConditionSet pairs a conjunctive list with a disjunctive list. An empty
// list is vacuously satisfied.
type ConditionSet struct {
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

// Policy is an attribute-based access policy for one (resourceType, action)
// pair. Higher priority evaluates first; equal priorities fall back to
// creation order ascending.
type Policy struct {
	ID           string       `json:"id" yaml:"id"`
	TenantID     string       `json:"tenant_id" yaml:"tenant_id"` // empty = global
	ResourceType string       `json:"resource_type" yaml:"resource_type"`
	Action       string       `json:"action" yaml:"action"`
	Effect       Effect       `json:"effect" yaml:"effect"`
	Conditions   ConditionSet `json:"conditions" yaml:"conditions"`
	Priority     int          `json:"priority" yaml:"priority"`
	Enabled      bool         `json:"enabled" yaml:"enabled"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" yaml:"updated_at"`
}

// CachedDecision memoizes one policy evaluation result, TTL-bounded.
type CachedDecision struct {
	UserID           string    `json:"user_id"`
	ResourceType     string    `json:"resource_type"`
	ResourceID       string    `json:"resource_id"`
	Action           string    `json:"action"`
	Effect           Effect    `json:"effect"`
	MatchedPolicyIDs []string  `json:"matched_policy_ids"`
	ContextSnapshot  string    `json:"context_snapshot"` // serialized attribute map, for audit
	ExpiresAt        time.Time `json:"expires_at"`
}

// IsExpired checks if the cache entry has expired
func (d *CachedDecision) IsExpired() bool {
	return !d.ExpiresAt.IsZero() && time.Now().After(d.ExpiresAt)
}

// MaskingType enumerates the fixed set of value transforms.
type MaskingType string

const (
	MaskFull       MaskingType = "full"
	MaskPartial    MaskingType = "partial"
	MaskEmail      MaskingType = "email"
	MaskPhone      MaskingType = "phone"
	MaskCreditCard MaskingType = "credit_card"
	MaskSSN        MaskingType = "ssn"
	MaskHash       MaskingType = "hash"
	MaskNull       MaskingType = "null"
	MaskCustom     MaskingType = "custom" // pass-through, see Mask
)

// MaskingRule is a pure transform descriptor. It is not tied to a column
// until bound via ColumnMaskingBinding.
type MaskingRule struct {
	ID          string         `json:"id" yaml:"id"`
	Type        MaskingType    `json:"type" yaml:"type"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	BypassRoles []string       `json:"bypass_roles,omitempty" yaml:"bypass_roles,omitempty"`
	BypassUsers []string       `json:"bypass_users,omitempty" yaml:"bypass_users,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
}

// ColumnMaskingBinding attaches a masking rule to one column, optionally
// gated by a condition against the caller's attribute map.
type ColumnMaskingBinding struct {
	Schema    string     `json:"schema" yaml:"schema"`
	Table     string     `json:"table" yaml:"table"`
	Column    string     `json:"column" yaml:"column"`
	RuleID    string     `json:"rule_id" yaml:"rule_id"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Enabled   bool       `json:"enabled" yaml:"enabled"`
}

// PermissionLevel is the per-column access level. Levels form a total order:
// write > read > masked > none.
type PermissionLevel string

const (
	LevelWrite  PermissionLevel = "write"
	LevelRead   PermissionLevel = "read"
	LevelMasked PermissionLevel = "masked"
	LevelNone   PermissionLevel = "none"
)

// Rank returns the position of the level in the permissiveness order.
// Unknown levels rank below none.
func (l PermissionLevel) Rank() int {
	switch l {
	case LevelWrite:
		return 3
	case LevelRead:
		return 2
	case LevelMasked:
		return 1
	case LevelNone:
		return 0
	}
	return -1
}

// ColumnPermission grants a level on one column to either a user or a role.
type ColumnPermission struct {
	Schema string          `json:"schema" yaml:"schema"`
	Table  string          `json:"table" yaml:"table"`
	Column string          `json:"column" yaml:"column"`
	UserID string          `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	RoleID string          `json:"role_id,omitempty" yaml:"role_id,omitempty"`
	Level  PermissionLevel `json:"level" yaml:"level"`
}

// SensitivityLevel classifies a resource for environmental gating.
type SensitivityLevel string

const (
	SensitivityPublic       SensitivityLevel = "public"
	SensitivityInternal     SensitivityLevel = "internal"
	SensitivityConfidential SensitivityLevel = "confidential"
	SensitivityRestricted   SensitivityLevel = "restricted"
	SensitivityCritical     SensitivityLevel = "critical"
)

// TimeWindow describes when access is permitted: lowercase weekday names
// (empty = every day) and an inclusive HH:MM range, which may span midnight.
type TimeWindow struct {
	Days  []string `json:"days,omitempty" yaml:"days,omitempty"`
	Start string   `json:"start" yaml:"start"` // "09:00"
	End   string   `json:"end" yaml:"end"`     // "18:00"
}

// ResourceSensitivity is the classification record for one resource. A
// resource without a record is public with no extra gating.
type ResourceSensitivity struct {
	ResourceType       string           `json:"resource_type" yaml:"resource_type"`
	ResourceID         string           `json:"resource_id" yaml:"resource_id"`
	Level              SensitivityLevel `json:"level" yaml:"level"`
	ComplianceTags     []string         `json:"compliance_tags,omitempty" yaml:"compliance_tags,omitempty"`
	RequiresMFA        bool             `json:"requires_mfa" yaml:"requires_mfa"`
	AllowedIPRanges    []string         `json:"allowed_ip_ranges,omitempty" yaml:"allowed_ip_ranges,omitempty"` // CIDR or exact IP
	AllowedTimeWindows []TimeWindow     `json:"allowed_time_windows,omitempty" yaml:"allowed_time_windows,omitempty"`
	DataClassification map[string]any   `json:"data_classification,omitempty" yaml:"data_classification,omitempty"`
}

// SensitivityResult is the outcome of a sensitivity gate check. Reason is
// always populated on deny.
type SensitivityResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Delegation is a time-bounded grant from one subject to another, consulted
// the same way as a direct grant while active.
type Delegation struct {
	ID            string    `json:"id" yaml:"id"`
	DelegatedBy   string    `json:"delegated_by" yaml:"delegated_by"`
	DelegatedTo   string    `json:"delegated_to" yaml:"delegated_to"`
	ResourceType  string    `json:"resource_type" yaml:"resource_type"`
	ResourceID    string    `json:"resource_id" yaml:"resource_id"`
	Permissions   []string  `json:"permissions" yaml:"permissions"` // "type:action" or bare action names
	ValidUntil    time.Time `json:"valid_until" yaml:"valid_until"`
	CanRedelegate bool      `json:"can_redelegate" yaml:"can_redelegate"`
	MaxUses       int       `json:"max_uses" yaml:"max_uses"` // 0 = unlimited
	Uses          int       `json:"uses" yaml:"uses"`
	Revoked       bool      `json:"revoked" yaml:"revoked"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// IsActive reports whether the delegation can still be consulted at now.
func (d *Delegation) IsActive(now time.Time) bool {
	if d.Revoked {
		return false
	}
	if !d.ValidUntil.IsZero() && now.After(d.ValidUntil) {
		return false
	}
	if d.MaxUses > 0 && d.Uses >= d.MaxUses {
		return false
	}
	return true
}

// GrantsPermission reports whether the delegation covers the permission
// string "<type>:<action>". Bare action names are matched against the action
// part for convenience in hand-written grants.
func (d *Delegation) GrantsPermission(perm string) bool {
	action := perm
	if idx := strings.IndexByte(perm, ':'); idx != -1 {
		action = perm[idx+1:]
	}
	for _, p := range d.Permissions {
		if p == perm || p == action || p == "*" {
			return true
		}
	}
	return false
}

// Decision is the engine's answer plus the provenance needed for audit and
// Explain. MatchedBy names the pipeline stage or policy that decided.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	MatchedBy string    `json:"matched_by"` // direct, role:<id>, inherited:<type:id>, delegation:<id>, policy:<id>, default
	Reason    string    `json:"reason"`
	Trace     []string  `json:"trace,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry represents one logged authorization decision
type AuditEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Check     PermissionCheck `json:"check"`
	Decision  *Decision       `json:"decision"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Action       string
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
}
