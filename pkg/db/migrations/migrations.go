// Package migrations contains all database migrations for skillgate.
// Migrations use Rails-style timestamp versioning (YYYYMMDDHHmmss).
package migrations

import (
	"github.com/jingkaihe/skillgate/pkg/db"
)

// All returns all registered migrations in the correct order.
// New migrations should be added to this list.
func All() []db.Migration {
	return []db.Migration{
		Migration20260815100000CreateGovernanceTables(),
		Migration20260815100001AddGovernanceIndexes(),
		Migration20260822090000CreateSkillLinks(),
	}
}
