package authz

import (
	"time"

	"github.com/google/uuid"
)

// Builders provide a fluent API for creating Policies, Roles, MaskingRules
// and Delegations

// PolicyBuilder builds a Policy
type PolicyBuilder struct {
	p *Policy
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{p: &Policy{Enabled: true}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder         { b.p.ID = id; return b }
func (b *PolicyBuilder) Tenant(t string) *PolicyBuilder      { b.p.TenantID = t; return b }
func (b *PolicyBuilder) Resource(rt string) *PolicyBuilder   { b.p.ResourceType = rt; return b }
func (b *PolicyBuilder) Action(a string) *PolicyBuilder      { b.p.Action = a; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder      { b.p.Effect = e; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder       { b.p.Priority = p; return b }
func (b *PolicyBuilder) Enabled(enabled bool) *PolicyBuilder { b.p.Enabled = enabled; return b }
func (b *PolicyBuilder) When(c ...Condition) *PolicyBuilder {
	b.p.Conditions.All = append(b.p.Conditions.All, c...)
	return b
}
func (b *PolicyBuilder) WhenAny(c ...Condition) *PolicyBuilder {
	b.p.Conditions.Any = append(b.p.Conditions.Any, c...)
	return b
}
func (b *PolicyBuilder) Build() *Policy {
	if b.p.ID == "" {
		b.p.ID = uuid.NewString()
	}
	return b.p
}

// RoleBuilder builds a Role
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder {
	return &RoleBuilder{r: &Role{Permissions: []string{}}}
}

func (b *RoleBuilder) ID(id string) *RoleBuilder    { b.r.ID = id; return b }
func (b *RoleBuilder) Tenant(t string) *RoleBuilder { b.r.TenantID = t; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder   { b.r.Name = n; return b }
func (b *RoleBuilder) System() *RoleBuilder         { b.r.System = true; return b }
func (b *RoleBuilder) Permission(resourceType, action string) *RoleBuilder {
	b.r.Permissions = append(b.r.Permissions, resourceType+":"+action)
	return b
}
func (b *RoleBuilder) Build() *Role {
	if b.r.ID == "" {
		b.r.ID = uuid.NewString()
	}
	return b.r
}

// MaskingRuleBuilder builds a MaskingRule
type MaskingRuleBuilder struct {
	r *MaskingRule
}

func NewMaskingRuleBuilder(t MaskingType) *MaskingRuleBuilder {
	return &MaskingRuleBuilder{r: &MaskingRule{Type: t, Enabled: true}}
}

func (b *MaskingRuleBuilder) ID(id string) *MaskingRuleBuilder { b.r.ID = id; return b }
func (b *MaskingRuleBuilder) Config(key string, value any) *MaskingRuleBuilder {
	if b.r.Config == nil {
		b.r.Config = make(map[string]any)
	}
	b.r.Config[key] = value
	return b
}
func (b *MaskingRuleBuilder) BypassRoles(roles ...string) *MaskingRuleBuilder {
	b.r.BypassRoles = append(b.r.BypassRoles, roles...)
	return b
}
func (b *MaskingRuleBuilder) BypassUsers(users ...string) *MaskingRuleBuilder {
	b.r.BypassUsers = append(b.r.BypassUsers, users...)
	return b
}
func (b *MaskingRuleBuilder) Build() *MaskingRule {
	if b.r.ID == "" {
		b.r.ID = uuid.NewString()
	}
	return b.r
}

// DelegationBuilder builds a Delegation
type DelegationBuilder struct {
	d *Delegation
}

func NewDelegationBuilder(from, to string) *DelegationBuilder {
	return &DelegationBuilder{d: &Delegation{DelegatedBy: from, DelegatedTo: to, ResourceID: "*"}}
}

func (b *DelegationBuilder) ID(id string) *DelegationBuilder { b.d.ID = id; return b }
func (b *DelegationBuilder) Resource(resourceType, resourceID string) *DelegationBuilder {
	b.d.ResourceType = resourceType
	b.d.ResourceID = resourceID
	return b
}
func (b *DelegationBuilder) Permissions(p ...string) *DelegationBuilder {
	b.d.Permissions = append(b.d.Permissions, p...)
	return b
}
func (b *DelegationBuilder) Until(t time.Time) *DelegationBuilder { b.d.ValidUntil = t; return b }
func (b *DelegationBuilder) MaxUses(n int) *DelegationBuilder     { b.d.MaxUses = n; return b }
func (b *DelegationBuilder) Redelegatable() *DelegationBuilder    { b.d.CanRedelegate = true; return b }
func (b *DelegationBuilder) Build() *Delegation {
	if b.d.ID == "" {
		b.d.ID = uuid.NewString()
	}
	if b.d.CreatedAt.IsZero() {
		b.d.CreatedAt = time.Now()
	}
	return b.d
}
