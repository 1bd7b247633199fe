package governance

import (
	"context"

	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// Store is the persistence boundary for the governance core. Every
// mutating call writes the skill snapshot and its audit events in one
// transaction, checking the skill's revision so a competing writer
// surfaces as ConcurrentModification instead of a lost update.
type Store interface {
	// CreateSkill inserts a new skill at revision 1 together with its
	// creation event.
	CreateSkill(ctx context.Context, skill governance.Skill, event governance.AuditEvent) error

	// UpdateSkill writes the skill snapshot and appends events
	// atomically. The skill's Revision must match the stored row.
	UpdateSkill(ctx context.Context, skill governance.Skill, events ...governance.AuditEvent) error

	// RecordScan writes the scan, the updated skill snapshot, and the
	// audit events in one transaction.
	RecordScan(ctx context.Context, skill governance.Skill, scan governance.Scan, events ...governance.AuditEvent) error

	// RecordTest writes the test result, the updated skill snapshot, and
	// the audit event in one transaction.
	RecordTest(ctx context.Context, skill governance.Skill, result governance.TestResult, event governance.AuditEvent) error

	GetSkill(ctx context.Context, id string) (governance.Skill, error)
	GetSkillByName(ctx context.Context, name string) (governance.Skill, error)
	ListSkills(ctx context.Context, q governance.SkillQuery) (governance.SkillPage, error)

	// LatestScan returns the most recent scan for a skill, or nil when
	// the skill has never been scanned.
	LatestScan(ctx context.Context, skillID string) (*governance.Scan, error)
	ScanHistory(ctx context.Context, skillID string, limit int) ([]governance.Scan, error)
	RecentScans(ctx context.Context, limit int) ([]governance.Scan, error)
	TestHistory(ctx context.Context, skillID string, limit int) ([]governance.TestResult, error)

	ListAuditEvents(ctx context.Context, q governance.AuditQuery) (governance.AuditPage, error)

	Stats(ctx context.Context) (governance.Stats, error)
	RiskBreakdown(ctx context.Context) (map[governance.RiskLevel]int, error)
	StatusBreakdown(ctx context.Context) (map[governance.Status]int, error)
	FindingsByRule(ctx context.Context) ([]governance.RuleCount, error)

	AddLink(ctx context.Context, link governance.SkillLink) (governance.SkillLink, error)
	ListLinks(ctx context.Context) ([]governance.SkillLink, error)

	Close() error
}
