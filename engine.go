package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/quartzboard/authz/logger"
	"github.com/quartzboard/authz/utils"
)

const (
	defaultDecisionCacheTTL = 5 * time.Minute
	defaultTraversalCap     = 512
	defaultAuditBuffer      = 1024

	// materialized rows from RefreshUserPermissions carry an expiry so a
	// stalled refresh pipeline fails closed instead of serving stale grants
	materializedGrantTTL = 24 * time.Hour
)

// Engine is the authorization decision point. It is safe for concurrent use
// once constructed; stores carry their own synchronization.
type Engine struct {
	stores Stores
	log    Logger

	decisionCacheTTL time.Duration
	traversalCap     int

	roleCache    *ristretto.Cache
	roleCacheTTL time.Duration

	auditBuffer int
	auditCh     chan AuditEntry
	auditDone   chan struct{}
}

// EngineOption configures an Engine during construction.
type EngineOption func(*Engine) error

// WithLogger installs a structured logger. The default discards everything.
func WithLogger(l Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			return errors.New("nil logger")
		}
		e.log = l
		return nil
	}
}

// WithDecisionCacheTTL overrides the lifetime of memoized policy decisions.
func WithDecisionCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("decision cache ttl must be positive, got %s", ttl)
		}
		e.decisionCacheTTL = ttl
		return nil
	}
}

// WithTraversalCap overrides the hard bound on inheritance graph expansion.
func WithTraversalCap(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("traversal cap must be positive, got %d", n)
		}
		e.traversalCap = n
		return nil
	}
}

// WithRoleCache enables a ristretto read-through cache in front of the role
// store. Entries are invalidated on role mutation through the engine and
// otherwise age out after ttl.
func WithRoleCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("role cache: %w", err)
		}
		e.roleCache = c
		e.roleCacheTTL = ttl
		return nil
	}
}

// WithAuditBufferSize sizes the async audit channel. Entries are dropped,
// not blocked on, when the buffer is full.
func WithAuditBufferSize(n int) EngineOption {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("audit buffer size must be positive, got %d", n)
		}
		e.auditBuffer = n
		return nil
	}
}

// NewEngine builds an Engine over the given stores. Stores.Audit may be nil;
// every other store is required.
func NewEngine(stores Stores, opts ...EngineOption) (*Engine, error) {
	switch {
	case stores.Permissions == nil:
		return nil, errors.New("permission store is required")
	case stores.Roles == nil:
		return nil, errors.New("role store is required")
	case stores.Memberships == nil:
		return nil, errors.New("membership store is required")
	case stores.Inheritance == nil:
		return nil, errors.New("inheritance store is required")
	case stores.Policies == nil:
		return nil, errors.New("policy store is required")
	case stores.DecisionCache == nil:
		return nil, errors.New("decision cache store is required")
	case stores.Masking == nil:
		return nil, errors.New("masking store is required")
	case stores.Sensitivity == nil:
		return nil, errors.New("sensitivity store is required")
	case stores.Delegations == nil:
		return nil, errors.New("delegation store is required")
	}

	e := &Engine{
		stores:           stores,
		log:              logger.NewNull(),
		decisionCacheTTL: defaultDecisionCacheTTL,
		traversalCap:     defaultTraversalCap,
		auditBuffer:      defaultAuditBuffer,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if e.stores.Audit != nil {
		e.auditCh = make(chan AuditEntry, e.auditBuffer)
		e.auditDone = make(chan struct{})
		go e.auditWorker()
	}
	return e, nil
}

func (e *Engine) auditWorker() {
	defer close(e.auditDone)
	bg := context.Background()
	for entry := range e.auditCh {
		if err := e.stores.Audit.LogDecision(bg, &entry); err != nil {
			e.log.Error("audit write failed", "entry_id", entry.ID, "error", err)
		}
	}
}

// Close flushes the audit pipeline and releases caches. The engine must not
// be used after Close.
func (e *Engine) Close() {
	if e.auditCh != nil {
		close(e.auditCh)
		<-e.auditDone
	}
	if e.roleCache != nil {
		e.roleCache.Close()
	}
}

// ============================================================================
// DECISION PIPELINE
// ============================================================================

// Decide runs the full resolution pipeline (direct grants and delegations,
// role permissions, inherited permissions, then ABAC policies) and answers
// allow or deny. A store failure is returned as an error, never folded into
// a deny, so callers can distinguish 403 from 5xx. Absent any grant and any
// matching policy, the answer is deny.
func (e *Engine) Decide(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (bool, error) {
	d, err := e.decide(ctx, authCtx, check, false)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Explain runs the same pipeline as Decide but returns the full decision
// with a per-stage trace, for debugging and admin tooling.
func (e *Engine) Explain(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (*Decision, error) {
	return e.decide(ctx, authCtx, check, true)
}

func (e *Engine) decide(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck, trace bool) (*Decision, error) {
	if authCtx == nil || authCtx.UserID == "" {
		return nil, errors.New("authorization context has no subject")
	}
	if check.ResourceType == "" || check.Action == "" {
		return nil, fmt.Errorf("incomplete permission check %+v", check)
	}

	var steps []string
	note := func(format string, args ...any) {
		if trace {
			steps = append(steps, fmt.Sprintf(format, args...))
		}
	}

	finish := func(allowed bool, matchedBy, reason string) *Decision {
		d := &Decision{
			Allowed:   allowed,
			MatchedBy: matchedBy,
			Reason:    reason,
			Trace:     steps,
			Timestamp: time.Now(),
		}
		e.log.Debug("authorization decision",
			"user_id", authCtx.UserID,
			"resource_type", check.ResourceType,
			"resource_id", check.ResourceID,
			"action", check.Action,
			"allowed", allowed,
			"matched_by", matchedBy)
		e.audit(authCtx, check, d)
		return d
	}

	matchedBy, ok, err := e.checkDirect(ctx, authCtx, check)
	if err != nil {
		return nil, fmt.Errorf("direct grant check: %w", err)
	}
	if ok {
		note("stage direct: granted via %s", matchedBy)
		return finish(true, matchedBy, "direct grant"), nil
	}
	note("stage direct: no grant")

	matchedBy, ok, err = e.checkRoles(ctx, authCtx, check)
	if err != nil {
		return nil, fmt.Errorf("role check: %w", err)
	}
	if ok {
		note("stage role: granted via %s", matchedBy)
		return finish(true, matchedBy, "role permission"), nil
	}
	note("stage role: no grant")

	matchedBy, ok, capped, err := e.checkInherited(ctx, authCtx, check)
	if err != nil {
		return nil, fmt.Errorf("inheritance check: %w", err)
	}
	if capped {
		note("stage inherited: traversal cap reached")
		return finish(false, "traversal_cap", "inheritance traversal exceeded the configured cap"), nil
	}
	if ok {
		note("stage inherited: granted via %s", matchedBy)
		return finish(true, matchedBy, "inherited permission"), nil
	}
	note("stage inherited: no grant")

	effect, policyID, err := e.evaluatePolicies(ctx, authCtx, check)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation: %w", err)
	}
	switch effect {
	case EffectAllow:
		note("stage policy: allowed by %s", policyID)
		return finish(true, "policy:"+policyID, "policy allow"), nil
	case EffectDeny:
		note("stage policy: denied by %s", policyID)
		return finish(false, "policy:"+policyID, "policy deny"), nil
	}
	note("stage policy: no match")
	return finish(false, "default", "no grant or policy matched"), nil
}

// checkDirect covers context-carried permission strings, materialized direct
// grants, and active delegations.
func (e *Engine) checkDirect(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (string, bool, error) {
	required := check.PermissionString()
	for _, p := range authCtx.Permissions {
		if utils.MatchPermission(p, required) {
			return "direct", true, nil
		}
	}

	rows, err := e.stores.Permissions.ListByUserPermission(ctx, authCtx.UserID, check.Action)
	if err != nil {
		return "", false, err
	}
	for _, row := range rows {
		if row.IsExpired() {
			continue
		}
		if row.ResourceType != check.ResourceType {
			continue
		}
		if utils.MatchResourceID(row.ResourceID, check.ResourceID) {
			return "direct", true, nil
		}
	}

	now := time.Now()
	dels, err := e.stores.Delegations.ListActiveFor(ctx, authCtx.UserID, now)
	if err != nil {
		return "", false, err
	}
	for _, d := range dels {
		if d.ResourceType != check.ResourceType {
			continue
		}
		if !utils.MatchResourceID(d.ResourceID, check.ResourceID) {
			continue
		}
		if !d.GrantsPermission(required) {
			continue
		}
		if d.MaxUses > 0 {
			if err := e.stores.Delegations.IncrementUses(ctx, d.ID); err != nil {
				e.log.Error("delegation use count update failed", "delegation_id", d.ID, "error", err)
			}
		}
		return "delegation:" + d.ID, true, nil
	}
	return "", false, nil
}

// checkRoles matches the required permission against every role the caller
// carries. A role listed on the context but missing from the store is logged
// and skipped, not treated as a failure.
func (e *Engine) checkRoles(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (string, bool, error) {
	required := check.PermissionString()
	for _, roleID := range authCtx.Roles {
		role, err := e.getRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.log.Warn("context references unknown role", "role_id", roleID, "user_id", authCtx.UserID)
				continue
			}
			return "", false, err
		}
		for _, p := range role.Permissions {
			if utils.MatchPermission(p, required) {
				return "role:" + roleID, true, nil
			}
		}
	}
	return "", false, nil
}

type traversalNode struct {
	resourceType string
	resourceID   string
	depth        int
}

// checkInherited walks the inheritance graph breadth-first from every
// resource where the caller holds a concrete grant with the requested
// action. The visited set makes cyclic edge data terminate; the cap bounds
// pathological graphs and resolves them to deny.
func (e *Engine) checkInherited(ctx context.Context, authCtx *AuthorizationContext, check PermissionCheck) (string, bool, bool, error) {
	rows, err := e.stores.Permissions.ListByUserPermission(ctx, authCtx.UserID, check.Action)
	if err != nil {
		return "", false, false, err
	}

	visited := make(map[string]bool)
	var queue []traversalNode
	for _, row := range rows {
		if row.IsExpired() || row.ResourceID == "*" {
			continue
		}
		key := row.ResourceType + ":" + row.ResourceID
		if visited[key] {
			continue
		}
		visited[key] = true
		queue = append(queue, traversalNode{row.ResourceType, row.ResourceID, 0})
	}

	expanded := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		expanded++
		if expanded > e.traversalCap {
			e.log.Warn("inheritance traversal cap reached",
				"user_id", authCtx.UserID,
				"resource_type", check.ResourceType,
				"resource_id", check.ResourceID,
				"cap", e.traversalCap)
			return "", false, true, nil
		}

		edges, err := e.stores.Inheritance.ListChildren(ctx, n.resourceType, n.resourceID)
		if err != nil {
			return "", false, false, err
		}
		for _, edge := range edges {
			if edge.MaxDepth >= 0 && n.depth+1 > edge.MaxDepth {
				continue
			}
			key := edge.ChildResourceType + ":" + edge.ChildResourceID
			if visited[key] {
				continue
			}
			visited[key] = true
			if edge.ChildResourceType == check.ResourceType && edge.ChildResourceID == check.ResourceID {
				return "inherited:" + n.resourceType + ":" + n.resourceID, true, false, nil
			}
			queue = append(queue, traversalNode{edge.ChildResourceType, edge.ChildResourceID, n.depth + 1})
		}
	}
	return "", false, false, nil
}

func (e *Engine) getRole(ctx context.Context, id string) (*Role, error) {
	if e.roleCache != nil {
		if v, ok := e.roleCache.Get(id); ok {
			if r, ok := v.(*Role); ok {
				return r, nil
			}
		}
	}
	r, err := e.stores.Roles.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.roleCache != nil {
		e.roleCache.SetWithTTL(id, r, 1, e.roleCacheTTL)
	}
	return r, nil
}

// ============================================================================
// ADMINISTRATION
// ============================================================================

// CreateRole persists a role and primes nothing; lookups go through the
// read-through cache on demand.
func (e *Engine) CreateRole(ctx context.Context, r *Role) error {
	if r.ID == "" {
		return errors.New("role id is required")
	}
	return e.stores.Roles.CreateRole(ctx, r)
}

// UpdateRole persists the role and drops any cached copy.
func (e *Engine) UpdateRole(ctx context.Context, r *Role) error {
	if err := e.stores.Roles.UpdateRole(ctx, r); err != nil {
		return err
	}
	if e.roleCache != nil {
		e.roleCache.Del(r.ID)
	}
	return nil
}

// DeleteRole removes the role and drops any cached copy. System roles are
// refused by the store.
func (e *Engine) DeleteRole(ctx context.Context, id string) error {
	if err := e.stores.Roles.DeleteRole(ctx, id); err != nil {
		return err
	}
	if e.roleCache != nil {
		e.roleCache.Del(id)
	}
	return nil
}

// AssignRole records the membership and rematerializes the subject's
// permission rows so the assignment takes effect without waiting for the
// next scheduled refresh.
func (e *Engine) AssignRole(ctx context.Context, subjectID, roleID string) error {
	if err := e.stores.Memberships.AssignRole(ctx, subjectID, roleID); err != nil {
		return err
	}
	return e.RefreshUserPermissions(ctx, subjectID)
}

// RevokeRole removes the membership and rematerializes.
func (e *Engine) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	if err := e.stores.Memberships.RevokeRole(ctx, subjectID, roleID); err != nil {
		return err
	}
	return e.RefreshUserPermissions(ctx, subjectID)
}

// GrantPermission writes a materialized grant row directly. Rows written
// this way survive until they expire or the next RefreshUserPermissions for
// the subject rebuilds the set.
func (e *Engine) GrantPermission(ctx context.Context, perm *MaterializedPermission) error {
	if perm.UserID == "" || perm.ResourceType == "" || perm.Permission == "" {
		return fmt.Errorf("incomplete permission grant %+v", perm)
	}
	if perm.ResourceID == "" {
		perm.ResourceID = "*"
	}
	if err := e.stores.Permissions.Grant(ctx, perm); err != nil {
		return err
	}
	return e.stores.DecisionCache.DeleteByUser(ctx, perm.UserID)
}

// RefreshUserPermissions rebuilds the subject's materialized permission rows
// from role membership and invalidates their cached decisions. Each role
// permission string "<type>:<action>" becomes a wildcard-resource row.
func (e *Engine) RefreshUserPermissions(ctx context.Context, userID string) error {
	roleIDs, err := e.stores.Memberships.ListRoles(ctx, userID)
	if err != nil {
		return fmt.Errorf("list memberships for %s: %w", userID, err)
	}

	now := time.Now()
	rows := make([]*MaterializedPermission, 0)
	for _, roleID := range roleIDs {
		role, err := e.getRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.log.Warn("membership references unknown role", "role_id", roleID, "user_id", userID)
				continue
			}
			return err
		}
		for _, p := range role.Permissions {
			resourceType, action, found := strings.Cut(p, ":")
			if !found {
				e.log.Warn("role permission has no resource type", "role_id", roleID, "permission", p)
				continue
			}
			rows = append(rows, &MaterializedPermission{
				UserID:       userID,
				ResourceType: resourceType,
				ResourceID:   "*",
				Permission:   action,
				ExpiresAt:    now.Add(materializedGrantTTL),
				CreatedAt:    now,
			})
		}
	}

	if err := e.stores.Permissions.Replace(ctx, userID, rows); err != nil {
		return fmt.Errorf("replace permission rows for %s: %w", userID, err)
	}
	if err := e.stores.DecisionCache.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("clear decision cache for %s: %w", userID, err)
	}
	e.log.Info("materialized permissions refreshed", "user_id", userID, "rows", len(rows))
	return nil
}

// ClearDecisionCache drops memoized decisions for one user, or purges
// expired entries across all users when userID is empty.
func (e *Engine) ClearDecisionCache(ctx context.Context, userID string) error {
	if userID == "" {
		return e.stores.DecisionCache.PurgeExpired(ctx)
	}
	return e.stores.DecisionCache.DeleteByUser(ctx, userID)
}

// GrantDelegation stores a delegation, filling ID and CreatedAt when unset.
func (e *Engine) GrantDelegation(ctx context.Context, d *Delegation) error {
	if d.DelegatedBy == "" || d.DelegatedTo == "" {
		return errors.New("delegation needs both delegator and delegate")
	}
	if len(d.Permissions) == 0 {
		return errors.New("delegation grants no permissions")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if d.ResourceID == "" {
		d.ResourceID = "*"
	}
	if err := e.stores.Delegations.Grant(ctx, d); err != nil {
		return err
	}
	e.log.Info("delegation granted",
		"delegation_id", d.ID,
		"delegated_by", d.DelegatedBy,
		"delegated_to", d.DelegatedTo,
		"resource_type", d.ResourceType)
	return nil
}

// RevokeDelegation marks the delegation revoked; in-flight checks that
// already listed it may still honor it once.
func (e *Engine) RevokeDelegation(ctx context.Context, id string) error {
	if err := e.stores.Delegations.Revoke(ctx, id); err != nil {
		return err
	}
	e.log.Info("delegation revoked", "delegation_id", id)
	return nil
}

// GetAccessLog queries the audit trail. Returns an error when no audit store
// is configured.
func (e *Engine) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.stores.Audit == nil {
		return nil, errors.New("no audit store configured")
	}
	return e.stores.Audit.GetAccessLog(ctx, filter)
}

func (e *Engine) audit(authCtx *AuthorizationContext, check PermissionCheck, d *Decision) {
	if e.auditCh == nil {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: d.Timestamp,
		TenantID:  authCtx.TenantID,
		UserID:    authCtx.UserID,
		Check:     check,
		Decision:  d,
	}
	select {
	case e.auditCh <- entry:
	default:
		// drop rather than block the decision path
	}
}
