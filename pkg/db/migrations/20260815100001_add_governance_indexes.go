package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260815100001AddGovernanceIndexes adds the indexes backing
// skill listing filters, scan history lookups, and audit keyset
// pagination.
func Migration20260815100001AddGovernanceIndexes() db.Migration {
	return db.Migration{
		Version:     20260815100001,
		Description: "Add governance query indexes",
		Up: func(tx *sql.Tx) error {
			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_skills_status ON skills(status)",
				"CREATE INDEX IF NOT EXISTS idx_skills_risk_level ON skills(risk_level)",
				"CREATE INDEX IF NOT EXISTS idx_scans_skill ON security_scans(skill_id, scanned_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_tests_skill ON equivalence_tests(skill_id, tested_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_audit_keyset ON audit_log(timestamp DESC, event_id DESC)",
				"CREATE INDEX IF NOT EXISTS idx_audit_skill ON audit_log(skill_id, timestamp DESC)",
			}
			for _, idx := range indexes {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrapf(err, "failed to create index: %s", idx)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			indexes := []string{
				"idx_skills_status", "idx_skills_risk_level",
				"idx_scans_skill", "idx_tests_skill",
				"idx_audit_keyset", "idx_audit_skill",
			}
			for _, idx := range indexes {
				if _, err := tx.Exec("DROP INDEX IF EXISTS " + idx); err != nil {
					return errors.Wrapf(err, "failed to drop index %s", idx)
				}
			}
			return nil
		},
	}
}
