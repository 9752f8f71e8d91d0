package stores

import (
	"github.com/oarkflow/squealx"

	"github.com/quartzboard/authz"
)

// NewSQLStores bundles a full SQL-backed store set over one database handle.
// Run Migrate first.
func NewSQLStores(db *squealx.DB) authz.Stores {
	return authz.Stores{
		Permissions:   NewSQLPermissionStore(db),
		Roles:         NewSQLRoleStore(db),
		Memberships:   NewSQLMembershipStore(db),
		Inheritance:   NewSQLInheritanceStore(db),
		Policies:      NewSQLPolicyStore(db),
		DecisionCache: NewSQLDecisionCache(db),
		Masking:       NewSQLMaskingStore(db),
		Sensitivity:   NewSQLSensitivityStore(db),
		Delegations:   NewSQLDelegationStore(db),
		Audit:         NewSQLAuditStore(db),
	}
}
