package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents a complete declarative authorization setup, loadable
// from YAML or JSON and applied to an engine's stores in one pass.
type Config struct {
	Roles             []*Role                 `json:"roles,omitempty" yaml:"roles,omitempty"`
	Memberships       []RoleMembership        `json:"memberships,omitempty" yaml:"memberships,omitempty"`
	Policies          []*Policy               `json:"policies,omitempty" yaml:"policies,omitempty"`
	InheritanceEdges  []*InheritanceEdge      `json:"inheritance,omitempty" yaml:"inheritance,omitempty"`
	MaskingRules      []*MaskingRule          `json:"masking_rules,omitempty" yaml:"masking_rules,omitempty"`
	ColumnBindings    []*ColumnMaskingBinding `json:"column_bindings,omitempty" yaml:"column_bindings,omitempty"`
	ColumnPermissions []*ColumnPermission     `json:"column_permissions,omitempty" yaml:"column_permissions,omitempty"`
	Sensitivity       []*ResourceSensitivity  `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	Delegations       []*Delegation           `json:"delegations,omitempty" yaml:"delegations,omitempty"`
	Engine            EngineConfig            `json:"engine,omitempty" yaml:"engine,omitempty"`
}

type RoleMembership struct {
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	RoleID    string `json:"role_id" yaml:"role_id"`
}

// EngineConfig carries tunables that map onto engine options.
type EngineConfig struct {
	DecisionCacheTTLMs   int64 `json:"decision_cache_ttl_ms,omitempty" yaml:"decision_cache_ttl_ms,omitempty"`
	TraversalCap         int   `json:"traversal_cap,omitempty" yaml:"traversal_cap,omitempty"`
	AuditBufferSize      int   `json:"audit_buffer_size,omitempty" yaml:"audit_buffer_size,omitempty"`
	RoleCacheNumCounters int64 `json:"role_cache_num_counters,omitempty" yaml:"role_cache_num_counters,omitempty"`
	RoleCacheMaxCost     int64 `json:"role_cache_max_cost,omitempty" yaml:"role_cache_max_cost,omitempty"`
	RoleCacheBuffer      int64 `json:"role_cache_buffer,omitempty" yaml:"role_cache_buffer,omitempty"`
	RoleCacheTTLMs       int64 `json:"role_cache_ttl_ms,omitempty" yaml:"role_cache_ttl_ms,omitempty"`
}

// Options converts the engine section into construction options for
// NewEngine. Zero values produce no option.
func (c EngineConfig) Options() []EngineOption {
	var opts []EngineOption
	if c.DecisionCacheTTLMs > 0 {
		opts = append(opts, WithDecisionCacheTTL(time.Duration(c.DecisionCacheTTLMs)*time.Millisecond))
	}
	if c.TraversalCap > 0 {
		opts = append(opts, WithTraversalCap(c.TraversalCap))
	}
	if c.AuditBufferSize > 0 {
		opts = append(opts, WithAuditBufferSize(c.AuditBufferSize))
	}
	if c.RoleCacheNumCounters > 0 {
		ttl := time.Duration(c.RoleCacheTTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = time.Minute
		}
		opts = append(opts, WithRoleCache(c.RoleCacheNumCounters, c.RoleCacheMaxCost, c.RoleCacheBuffer, ttl))
	}
	return opts
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension: .yaml/.yml or .json.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return l.LoadYAML(data)
	case strings.HasSuffix(path, ".json"):
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks referential integrity: memberships and bindings must point
// at declared roles and rules, policies need an effect.
func (c *Config) Validate() error {
	roleIDs := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if r.ID == "" {
			return fmt.Errorf("role %q has no id", r.Name)
		}
		if roleIDs[r.ID] {
			return fmt.Errorf("duplicate role id %s", r.ID)
		}
		roleIDs[r.ID] = true
	}
	for _, m := range c.Memberships {
		if !roleIDs[m.RoleID] {
			return fmt.Errorf("membership for %s references unknown role %s", m.SubjectID, m.RoleID)
		}
	}
	ruleIDs := make(map[string]bool, len(c.MaskingRules))
	for _, r := range c.MaskingRules {
		if r.ID == "" {
			return fmt.Errorf("masking rule of type %s has no id", r.Type)
		}
		ruleIDs[r.ID] = true
	}
	for _, b := range c.ColumnBindings {
		if !ruleIDs[b.RuleID] {
			return fmt.Errorf("binding %s.%s.%s references unknown rule %s", b.Schema, b.Table, b.Column, b.RuleID)
		}
	}
	for _, p := range c.Policies {
		if p.ID == "" {
			return fmt.Errorf("policy for %s:%s has no id", p.ResourceType, p.Action)
		}
		if p.Effect != EffectAllow && p.Effect != EffectDeny {
			return fmt.Errorf("policy %s has invalid effect %q", p.ID, p.Effect)
		}
	}
	return nil
}

// ApplyConfig validates and writes the declared objects through the engine's
// stores, then rematerializes permissions for every subject with a declared
// membership and purges expired cached decisions.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, r := range cfg.Roles {
		if err := e.stores.Roles.CreateRole(ctx, r); err != nil {
			return fmt.Errorf("apply role %s: %w", r.ID, err)
		}
		if e.roleCache != nil {
			e.roleCache.Del(r.ID)
		}
	}
	for _, p := range cfg.Policies {
		if err := e.stores.Policies.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("apply policy %s: %w", p.ID, err)
		}
	}
	for _, edge := range cfg.InheritanceEdges {
		if err := e.stores.Inheritance.CreateEdge(ctx, edge); err != nil {
			return fmt.Errorf("apply inheritance edge %s:%s -> %s:%s: %w",
				edge.ParentResourceType, edge.ParentResourceID, edge.ChildResourceType, edge.ChildResourceID, err)
		}
	}
	for _, r := range cfg.MaskingRules {
		if err := e.stores.Masking.CreateRule(ctx, r); err != nil {
			return fmt.Errorf("apply masking rule %s: %w", r.ID, err)
		}
	}
	for _, b := range cfg.ColumnBindings {
		if err := e.stores.Masking.CreateBinding(ctx, b); err != nil {
			return fmt.Errorf("apply column binding %s.%s.%s: %w", b.Schema, b.Table, b.Column, err)
		}
	}
	for _, p := range cfg.ColumnPermissions {
		if err := e.stores.Masking.SetColumnPermission(ctx, p); err != nil {
			return fmt.Errorf("apply column permission %s.%s.%s: %w", p.Schema, p.Table, p.Column, err)
		}
	}
	for _, s := range cfg.Sensitivity {
		if err := e.stores.Sensitivity.Put(ctx, s); err != nil {
			return fmt.Errorf("apply sensitivity %s:%s: %w", s.ResourceType, s.ResourceID, err)
		}
	}
	for _, d := range cfg.Delegations {
		if err := e.GrantDelegation(ctx, d); err != nil {
			return fmt.Errorf("apply delegation %s: %w", d.ID, err)
		}
	}

	refreshed := make(map[string]bool)
	for _, m := range cfg.Memberships {
		if err := e.stores.Memberships.AssignRole(ctx, m.SubjectID, m.RoleID); err != nil {
			return fmt.Errorf("apply membership %s -> %s: %w", m.SubjectID, m.RoleID, err)
		}
		refreshed[m.SubjectID] = true
	}
	for subjectID := range refreshed {
		if err := e.RefreshUserPermissions(ctx, subjectID); err != nil {
			return err
		}
	}

	if err := e.ClearDecisionCache(ctx, ""); err != nil {
		return err
	}
	e.log.Info("configuration applied",
		"roles", len(cfg.Roles),
		"policies", len(cfg.Policies),
		"masking_rules", len(cfg.MaskingRules),
		"memberships", len(cfg.Memberships))
	return nil
}
