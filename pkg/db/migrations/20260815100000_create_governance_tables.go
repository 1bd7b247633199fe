package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260815100000CreateGovernanceTables creates the skills,
// security_scans, equivalence_tests, and audit_log tables.
func Migration20260815100000CreateGovernanceTables() db.Migration {
	return db.Migration{
		Version:     20260815100000,
		Description: "Create skills, security_scans, equivalence_tests, and audit_log tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS skills (
					skill_id TEXT PRIMARY KEY,
					name TEXT NOT NULL UNIQUE,
					description TEXT,
					version TEXT,
					category TEXT,
					status TEXT NOT NULL DEFAULT 'pending',
					risk_level TEXT NOT NULL DEFAULT 'safe',
					risk_score INTEGER NOT NULL DEFAULT 0,
					source_type TEXT,
					source_path TEXT,
					source_url TEXT,
					author_name TEXT,
					license_spdx TEXT,
					security_scanned_at DATETIME,
					scanner_version TEXT,
					approved_by TEXT,
					approved_at DATETIME,
					equivalence_tested_at DATETIME,
					equivalence_score REAL,
					equivalence_passed INTEGER,
					installed_path TEXT,
					installed_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					revision INTEGER NOT NULL DEFAULT 1
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create skills table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS security_scans (
					scan_id TEXT PRIMARY KEY,
					skill_id TEXT NOT NULL REFERENCES skills(skill_id),
					scanned_at DATETIME NOT NULL,
					scanner_version TEXT,
					risk_level TEXT NOT NULL,
					risk_score INTEGER NOT NULL,
					original_risk_score INTEGER NOT NULL,
					files_scanned INTEGER NOT NULL DEFAULT 0,
					findings TEXT NOT NULL,
					blocked INTEGER NOT NULL DEFAULT 0,
					blocked_reason TEXT
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create security_scans table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS equivalence_tests (
					test_id TEXT PRIMARY KEY,
					skill_id TEXT NOT NULL REFERENCES skills(skill_id),
					tested_at DATETIME NOT NULL,
					tester_version TEXT,
					overall_score REAL NOT NULL,
					semantic_similarity REAL NOT NULL,
					structure_similarity REAL NOT NULL,
					keyword_similarity REAL NOT NULL,
					passed INTEGER NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create equivalence_tests table")
			}

			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS audit_log (
					event_id TEXT PRIMARY KEY,
					timestamp DATETIME NOT NULL,
					event_type TEXT NOT NULL,
					skill_id TEXT,
					skill_name TEXT,
					actor TEXT NOT NULL,
					details TEXT,
					previous_state TEXT,
					new_state TEXT
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create audit_log table")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, table := range []string{"audit_log", "equivalence_tests", "security_scans", "skills"} {
				if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
					return errors.Wrapf(err, "failed to drop %s table", table)
				}
			}
			return nil
		},
	}
}
