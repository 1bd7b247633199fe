package migrations

import (
	"database/sql"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/pkg/errors"
)

// Migration20260822090000CreateSkillLinks creates the skill_links table
// backing the relationship graph.
func Migration20260822090000CreateSkillLinks() db.Migration {
	return db.Migration{
		Version:     20260822090000,
		Description: "Create skill_links table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS skill_links (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					source_id TEXT NOT NULL REFERENCES skills(skill_id),
					target_id TEXT NOT NULL REFERENCES skills(skill_id),
					link_type TEXT NOT NULL,
					description TEXT,
					strength REAL NOT NULL DEFAULT 0.5,
					bidirectional INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					UNIQUE(source_id, target_id, link_type)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create skill_links table")
			}

			if _, err := tx.Exec(
				"CREATE INDEX IF NOT EXISTS idx_links_source ON skill_links(source_id)",
			); err != nil {
				return errors.Wrap(err, "failed to create idx_links_source")
			}
			if _, err := tx.Exec(
				"CREATE INDEX IF NOT EXISTS idx_links_target ON skill_links(target_id)",
			); err != nil {
				return errors.Wrap(err, "failed to create idx_links_target")
			}

			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS skill_links"); err != nil {
				return errors.Wrap(err, "failed to drop skill_links table")
			}
			return nil
		},
	}
}
