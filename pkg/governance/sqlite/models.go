package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// JSONField stores an arbitrary value as a JSON text column.
type JSONField[T any] struct {
	Data T
}

// Scan implements sql.Scanner.
func (j *JSONField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot scan %T into JSONField", value)
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, &j.Data)
}

// Value implements driver.Valuer.
func (j JSONField[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}

// dbSkill mirrors the skills table.
type dbSkill struct {
	SkillID             string     `db:"skill_id"`
	Name                string     `db:"name"`
	Description         *string    `db:"description"`
	Version             *string    `db:"version"`
	Category            *string    `db:"category"`
	Status              string     `db:"status"`
	RiskLevel           string     `db:"risk_level"`
	RiskScore           int        `db:"risk_score"`
	SourceType          *string    `db:"source_type"`
	SourcePath          *string    `db:"source_path"`
	SourceURL           *string    `db:"source_url"`
	AuthorName          *string    `db:"author_name"`
	LicenseSPDX         *string    `db:"license_spdx"`
	SecurityScannedAt   *time.Time `db:"security_scanned_at"`
	ScannerVersion      *string    `db:"scanner_version"`
	ApprovedBy          *string    `db:"approved_by"`
	ApprovedAt          *time.Time `db:"approved_at"`
	EquivalenceTestedAt *time.Time `db:"equivalence_tested_at"`
	EquivalenceScore    *float64   `db:"equivalence_score"`
	EquivalencePassed   *bool      `db:"equivalence_passed"`
	InstalledPath       *string    `db:"installed_path"`
	InstalledAt         *time.Time `db:"installed_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	Revision            int64      `db:"revision"`
}

func (r *dbSkill) toSkill() governance.Skill {
	skill := governance.Skill{
		ID:                  r.SkillID,
		Name:                r.Name,
		Description:         deref(r.Description),
		Version:             deref(r.Version),
		Category:            deref(r.Category),
		Status:              governance.Status(r.Status),
		RiskLevel:           governance.RiskLevel(r.RiskLevel),
		RiskScore:           r.RiskScore,
		SourceType:          deref(r.SourceType),
		SourcePath:          deref(r.SourcePath),
		SourceURL:           deref(r.SourceURL),
		AuthorName:          deref(r.AuthorName),
		LicenseSPDX:         deref(r.LicenseSPDX),
		SecurityScannedAt:   r.SecurityScannedAt,
		ScannerVersion:      deref(r.ScannerVersion),
		ApprovedBy:          deref(r.ApprovedBy),
		ApprovedAt:          r.ApprovedAt,
		EquivalenceTestedAt: r.EquivalenceTestedAt,
		EquivalenceScore:    r.EquivalenceScore,
		EquivalencePassed:   r.EquivalencePassed,
		InstalledPath:       deref(r.InstalledPath),
		InstalledAt:         r.InstalledAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		Revision:            r.Revision,
	}
	return skill
}

func fromSkill(skill governance.Skill) *dbSkill {
	return &dbSkill{
		SkillID:             skill.ID,
		Name:                skill.Name,
		Description:         ref(skill.Description),
		Version:             ref(skill.Version),
		Category:            ref(skill.Category),
		Status:              string(skill.Status),
		RiskLevel:           string(skill.RiskLevel),
		RiskScore:           skill.RiskScore,
		SourceType:          ref(skill.SourceType),
		SourcePath:          ref(skill.SourcePath),
		SourceURL:           ref(skill.SourceURL),
		AuthorName:          ref(skill.AuthorName),
		LicenseSPDX:         ref(skill.LicenseSPDX),
		SecurityScannedAt:   skill.SecurityScannedAt,
		ScannerVersion:      ref(skill.ScannerVersion),
		ApprovedBy:          ref(skill.ApprovedBy),
		ApprovedAt:          skill.ApprovedAt,
		EquivalenceTestedAt: skill.EquivalenceTestedAt,
		EquivalenceScore:    skill.EquivalenceScore,
		EquivalencePassed:   skill.EquivalencePassed,
		InstalledPath:       ref(skill.InstalledPath),
		InstalledAt:         skill.InstalledAt,
		CreatedAt:           skill.CreatedAt,
		UpdatedAt:           skill.UpdatedAt,
		Revision:            skill.Revision,
	}
}

// dbScan mirrors the security_scans table; findings are stored as JSON.
type dbScan struct {
	ScanID            string                                  `db:"scan_id"`
	SkillID           string                                  `db:"skill_id"`
	ScannedAt         time.Time                               `db:"scanned_at"`
	ScannerVersion    *string                                 `db:"scanner_version"`
	RiskLevel         string                                  `db:"risk_level"`
	RiskScore         int                                     `db:"risk_score"`
	OriginalRiskScore int                                     `db:"original_risk_score"`
	FilesScanned      int                                     `db:"files_scanned"`
	Findings          JSONField[[]governance.SecurityFinding] `db:"findings"`
	Blocked           bool                                    `db:"blocked"`
	BlockedReason     *string                                 `db:"blocked_reason"`
}

func (r *dbScan) toScan() governance.Scan {
	return governance.Scan{
		ID:                r.ScanID,
		SkillID:           r.SkillID,
		ScannedAt:         r.ScannedAt,
		ScannerVersion:    deref(r.ScannerVersion),
		RiskLevel:         governance.RiskLevel(r.RiskLevel),
		RiskScore:         r.RiskScore,
		OriginalRiskScore: r.OriginalRiskScore,
		FilesScanned:      r.FilesScanned,
		Findings:          r.Findings.Data,
		Blocked:           r.Blocked,
		BlockedReason:     deref(r.BlockedReason),
	}
}

func fromScan(scan governance.Scan) *dbScan {
	return &dbScan{
		ScanID:            scan.ID,
		SkillID:           scan.SkillID,
		ScannedAt:         scan.ScannedAt,
		ScannerVersion:    ref(scan.ScannerVersion),
		RiskLevel:         string(scan.RiskLevel),
		RiskScore:         scan.RiskScore,
		OriginalRiskScore: scan.OriginalRiskScore,
		FilesScanned:      scan.FilesScanned,
		Findings:          JSONField[[]governance.SecurityFinding]{Data: scan.Findings},
		Blocked:           scan.Blocked,
		BlockedReason:     ref(scan.BlockedReason),
	}
}

// dbTest mirrors the equivalence_tests table.
type dbTest struct {
	TestID              string    `db:"test_id"`
	SkillID             string    `db:"skill_id"`
	TestedAt            time.Time `db:"tested_at"`
	TesterVersion       *string   `db:"tester_version"`
	OverallScore        float64   `db:"overall_score"`
	SemanticSimilarity  float64   `db:"semantic_similarity"`
	StructureSimilarity float64   `db:"structure_similarity"`
	KeywordSimilarity   float64   `db:"keyword_similarity"`
	Passed              bool      `db:"passed"`
}

func (r *dbTest) toTestResult() governance.TestResult {
	return governance.TestResult{
		ID:                  r.TestID,
		SkillID:             r.SkillID,
		TestedAt:            r.TestedAt,
		TesterVersion:       deref(r.TesterVersion),
		OverallScore:        r.OverallScore,
		SemanticSimilarity:  r.SemanticSimilarity,
		StructureSimilarity: r.StructureSimilarity,
		KeywordSimilarity:   r.KeywordSimilarity,
		Passed:              r.Passed,
	}
}

func fromTestResult(result governance.TestResult) *dbTest {
	return &dbTest{
		TestID:              result.ID,
		SkillID:             result.SkillID,
		TestedAt:            result.TestedAt,
		TesterVersion:       ref(result.TesterVersion),
		OverallScore:        result.OverallScore,
		SemanticSimilarity:  result.SemanticSimilarity,
		StructureSimilarity: result.StructureSimilarity,
		KeywordSimilarity:   result.KeywordSimilarity,
		Passed:              result.Passed,
	}
}

// dbEvent mirrors the audit_log table; the state maps are JSON.
type dbEvent struct {
	EventID       string                    `db:"event_id"`
	Timestamp     time.Time                 `db:"timestamp"`
	EventType     string                    `db:"event_type"`
	SkillID       *string                   `db:"skill_id"`
	SkillName     *string                   `db:"skill_name"`
	Actor         string                    `db:"actor"`
	Details       JSONField[map[string]any] `db:"details"`
	PreviousState JSONField[map[string]any] `db:"previous_state"`
	NewState      JSONField[map[string]any] `db:"new_state"`
}

func (r *dbEvent) toEvent() governance.AuditEvent {
	return governance.AuditEvent{
		ID:            r.EventID,
		Timestamp:     r.Timestamp,
		Type:          governance.EventType(r.EventType),
		SkillID:       deref(r.SkillID),
		SkillName:     deref(r.SkillName),
		Actor:         r.Actor,
		Details:       r.Details.Data,
		PreviousState: r.PreviousState.Data,
		NewState:      r.NewState.Data,
	}
}

// dbLink mirrors the skill_links table.
type dbLink struct {
	ID            int64     `db:"id"`
	SourceID      string    `db:"source_id"`
	TargetID      string    `db:"target_id"`
	LinkType      string    `db:"link_type"`
	Description   *string   `db:"description"`
	Strength      float64   `db:"strength"`
	Bidirectional bool      `db:"bidirectional"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *dbLink) toLink() governance.SkillLink {
	return governance.SkillLink{
		ID:            r.ID,
		SourceID:      r.SourceID,
		TargetID:      r.TargetID,
		Type:          r.LinkType,
		Description:   deref(r.Description),
		Strength:      r.Strength,
		Bidirectional: r.Bidirectional,
		CreatedAt:     r.CreatedAt,
	}
}

// ref converts an empty string to NULL so optional columns stay NULL
// instead of empty text.
func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
