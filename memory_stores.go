package authz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES (tests and embedded use)
// ============================================================================

type MemoryPermissionStore struct {
	mu    sync.RWMutex
	perms map[string][]*MaterializedPermission // userID -> rows
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{perms: make(map[string][]*MaterializedPermission)}
}

func (s *MemoryPermissionStore) ListByUserPermission(ctx context.Context, userID, permission string) ([]*MaterializedPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*MaterializedPermission, 0)
	for _, p := range s.perms[userID] {
		if p.Permission == permission || p.Permission == "*" {
			dup := *p
			result = append(result, &dup)
		}
	}
	return result, nil
}

func (s *MemoryPermissionStore) Replace(ctx context.Context, userID string, perms []*MaterializedPermission) error {
	rows := make([]*MaterializedPermission, 0, len(perms))
	for _, p := range perms {
		dup := *p
		if dup.CreatedAt.IsZero() {
			dup.CreatedAt = time.Now()
		}
		rows = append(rows, &dup)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[userID] = rows
	return nil
}

func (s *MemoryPermissionStore) Grant(ctx context.Context, perm *MaterializedPermission) error {
	dup := *perm
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms[perm.UserID] = append(s.perms[perm.UserID], &dup)
	return nil
}

type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*Role)}
}

func (s *MemoryRoleStore) CreateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) UpdateRole(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[id]; ok && r.System {
		return fmt.Errorf("role %s is a system role", id)
	}
	delete(s.roles, id)
	return nil
}

func (s *MemoryRoleStore) GetRole(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryRoleStore) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Role, 0)
	for _, r := range s.roles {
		if tenantID == "" || r.TenantID == tenantID || r.TenantID == "" {
			result = append(result, r)
		}
	}
	return result, nil
}

type MemoryMembershipStore struct {
	mu      sync.RWMutex
	members map[string][]string // subjectID -> roleIDs
}

func NewMemoryMembershipStore() *MemoryMembershipStore {
	return &MemoryMembershipStore{members: make(map[string][]string)}
}

func (s *MemoryMembershipStore) AssignRole(ctx context.Context, subjectID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.members[subjectID] {
		if r == roleID {
			return nil
		}
	}
	s.members[subjectID] = append(s.members[subjectID], roleID)
	return nil
}

func (s *MemoryMembershipStore) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]string, 0)
	for _, r := range s.members[subjectID] {
		if r != roleID {
			kept = append(kept, r)
		}
	}
	s.members[subjectID] = kept
	return nil
}

func (s *MemoryMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.members[subjectID]))
	copy(out, s.members[subjectID])
	return out, nil
}

type MemoryInheritanceStore struct {
	mu    sync.RWMutex
	edges []*InheritanceEdge
}

func NewMemoryInheritanceStore() *MemoryInheritanceStore {
	return &MemoryInheritanceStore{edges: make([]*InheritanceEdge, 0)}
}

func (s *MemoryInheritanceStore) ListChildren(ctx context.Context, resourceType, resourceID string) ([]*InheritanceEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*InheritanceEdge, 0)
	for _, e := range s.edges {
		if e.Enabled && e.ParentResourceType == resourceType && e.ParentResourceID == resourceID {
			dup := *e
			result = append(result, &dup)
		}
	}
	return result, nil
}

func (s *MemoryInheritanceStore) CreateEdge(ctx context.Context, edge *InheritanceEdge) error {
	dup := *edge
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, &dup)
	return nil
}

func (s *MemoryInheritanceStore) DeleteEdge(ctx context.Context, edge *InheritanceEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]*InheritanceEdge, 0, len(s.edges))
	for _, e := range s.edges {
		if e.ParentResourceType == edge.ParentResourceType && e.ParentResourceID == edge.ParentResourceID &&
			e.ChildResourceType == edge.ChildResourceType && e.ChildResourceID == edge.ChildResourceID {
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	return nil
}

type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*Policy)}
}

func (s *MemoryPolicyStore) CreatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = p.CreatedAt
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.policies[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = old.CreatedAt
	}
	p.UpdatedAt = time.Now()
	s.policies[p.ID] = p
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, id)
	return nil
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *MemoryPolicyStore) ListApplicable(ctx context.Context, resourceType, action, tenantID string) ([]*Policy, error) {
	s.mu.RLock()
	result := make([]*Policy, 0)
	for _, p := range s.policies {
		if !p.Enabled {
			continue
		}
		if p.ResourceType != resourceType || p.Action != action {
			continue
		}
		if p.TenantID != "" && p.TenantID != tenantID {
			continue
		}
		result = append(result, p)
	}
	s.mu.RUnlock()
	SortPoliciesByPrecedence(result)
	return result, nil
}

type MemoryDecisionCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedDecision
}

func NewMemoryDecisionCache() *MemoryDecisionCache {
	return &MemoryDecisionCache{entries: make(map[string]*CachedDecision)}
}

func decisionKey(userID, resourceType, resourceID, action string) string {
	return userID + "\x00" + resourceType + "\x00" + resourceID + "\x00" + action
}

func (s *MemoryDecisionCache) Get(ctx context.Context, userID, resourceType, resourceID, action string) (*CachedDecision, error) {
	key := decisionKey(userID, resourceType, resourceID, action)
	s.mu.RLock()
	d, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if d.IsExpired() {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, nil
	}
	dup := *d
	return &dup, nil
}

func (s *MemoryDecisionCache) Put(ctx context.Context, d *CachedDecision) error {
	dup := *d
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[decisionKey(d.UserID, d.ResourceType, d.ResourceID, d.Action)] = &dup
	return nil
}

func (s *MemoryDecisionCache) DeleteByUser(ctx context.Context, userID string) error {
	prefix := userID + "\x00"
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryDecisionCache) PurgeExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range s.entries {
		if d.IsExpired() {
			delete(s.entries, k)
		}
	}
	return nil
}

type MemoryMaskingStore struct {
	mu       sync.RWMutex
	rules    map[string]*MaskingRule
	bindings []*ColumnMaskingBinding
	perms    []*ColumnPermission
}

func NewMemoryMaskingStore() *MemoryMaskingStore {
	return &MemoryMaskingStore{rules: make(map[string]*MaskingRule)}
}

func (s *MemoryMaskingStore) CreateRule(ctx context.Context, r *MaskingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *MemoryMaskingStore) GetRule(ctx context.Context, id string) (*MaskingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("masking rule %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryMaskingStore) CreateBinding(ctx context.Context, b *ColumnMaskingBinding) error {
	dup := *b
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = append(s.bindings, &dup)
	return nil
}

func (s *MemoryMaskingStore) ListBindings(ctx context.Context, schema, table string) ([]*ColumnMaskingBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*ColumnMaskingBinding, 0)
	for _, b := range s.bindings {
		if b.Schema == schema && b.Table == table {
			dup := *b
			result = append(result, &dup)
		}
	}
	return result, nil
}

func (s *MemoryMaskingStore) SetColumnPermission(ctx context.Context, p *ColumnPermission) error {
	dup := *p
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms = append(s.perms, &dup)
	return nil
}

func (s *MemoryMaskingStore) ListColumnPermissions(ctx context.Context, schema, table string) ([]*ColumnPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*ColumnPermission, 0)
	for _, p := range s.perms {
		if p.Schema == schema && p.Table == table {
			dup := *p
			result = append(result, &dup)
		}
	}
	return result, nil
}

type MemorySensitivityStore struct {
	mu      sync.RWMutex
	records map[string]*ResourceSensitivity
}

func NewMemorySensitivityStore() *MemorySensitivityStore {
	return &MemorySensitivityStore{records: make(map[string]*ResourceSensitivity)}
}

func sensitivityKey(resourceType, resourceID string) string {
	return resourceType + "\x00" + resourceID
}

func (s *MemorySensitivityStore) Get(ctx context.Context, resourceType, resourceID string) (*ResourceSensitivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[sensitivityKey(resourceType, resourceID)]
	if !ok {
		return nil, nil
	}
	dup := *r
	return &dup, nil
}

func (s *MemorySensitivityStore) Put(ctx context.Context, r *ResourceSensitivity) error {
	dup := *r
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sensitivityKey(r.ResourceType, r.ResourceID)] = &dup
	return nil
}

func (s *MemorySensitivityStore) Delete(ctx context.Context, resourceType, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sensitivityKey(resourceType, resourceID))
	return nil
}

type MemoryDelegationStore struct {
	mu          sync.RWMutex
	delegations map[string]*Delegation
}

func NewMemoryDelegationStore() *MemoryDelegationStore {
	return &MemoryDelegationStore{delegations: make(map[string]*Delegation)}
}

func (s *MemoryDelegationStore) Grant(ctx context.Context, d *Delegation) error {
	dup := *d
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegations[d.ID] = &dup
	return nil
}

func (s *MemoryDelegationStore) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return fmt.Errorf("delegation %s: %w", id, ErrNotFound)
	}
	d.Revoked = true
	return nil
}

func (s *MemoryDelegationStore) ListActiveFor(ctx context.Context, userID string, now time.Time) ([]*Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Delegation, 0)
	for _, d := range s.delegations {
		if d.DelegatedTo == userID && d.IsActive(now) {
			dup := *d
			result = append(result, &dup)
		}
	}
	return result, nil
}

func (s *MemoryDelegationStore) IncrementUses(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return fmt.Errorf("delegation %s: %w", id, ErrNotFound)
	}
	d.Uses++
	return nil
}

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.ResourceType != "" && entry.Check.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && entry.Check.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Action != "" && entry.Check.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// SortPoliciesByPrecedence orders policies priority descending, ties broken
// by creation time ascending (earlier-created wins).
func SortPoliciesByPrecedence(policies []*Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})
}
