// Package governance defines the core domain types for skill governance:
// skills, security findings, scans, equivalence tests, and audit events.
// These types are shared between the service layer, the storage layer,
// and the HTTP API.
package governance

import (
	"time"
)

// Severity is the severity of a single security finding.
type Severity string

// Severity levels, least to most severe.
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity, with info lowest.
// Unknown severities rank below info so they can never raise a score.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// RiskLevel is the categorical risk label derived from a skill's findings.
type RiskLevel string

// Risk levels. Blocked is forced by a hard-block condition and is never
// derived from the numeric score alone.
const (
	RiskSafe     RiskLevel = "safe"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskBlocked  RiskLevel = "blocked"
)

// Status is the governance lifecycle state of a skill.
type Status string

// Lifecycle states. Rejected and blocked are re-reviewable: both permit
// approval after new evidence, they are not terminal.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusBlocked  Status = "blocked"
)

// Valid reports whether st is a known lifecycle state.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusApproved, StatusRejected, StatusBlocked:
		return true
	}
	return false
}

// EventType classifies an audit event.
type EventType string

// Audit event types.
const (
	EventCreate  EventType = "create"
	EventUpdate  EventType = "update"
	EventScan    EventType = "scan"
	EventTest    EventType = "test"
	EventApprove EventType = "approve"
	EventReject  EventType = "reject"
	EventBlock   EventType = "block"
	EventInstall EventType = "install"
)

// ContextType classifies the markdown context surrounding a flagged line.
type ContextType string

// Context classifications. CodeBlock and InlineCode are non-executing
// documentation contexts and are the only ones eligible for severity
// adjustment.
const (
	ContextProse      ContextType = "prose"
	ContextHeading    ContextType = "heading"
	ContextBlockquote ContextType = "blockquote"
	ContextListItem   ContextType = "list_item"
	ContextCodeBlock  ContextType = "code_block"
	ContextInlineCode ContextType = "inline_code"
)

// Executable reports whether content in this context is treated as live:
// findings there keep their original severity.
func (c ContextType) Executable() bool {
	return c != ContextCodeBlock && c != ContextInlineCode
}

// SecurityFinding is one issue discovered in one scan of one skill.
// Severity always holds the effective severity; AdjustedSeverity is set
// only when context adjustment actually changed the value.
type SecurityFinding struct {
	RuleID            string      `json:"rule_id"`
	RuleName          string      `json:"rule_name"`
	Severity          Severity    `json:"severity"`
	OriginalSeverity  Severity    `json:"original_severity"`
	AdjustedSeverity  *Severity   `json:"adjusted_severity,omitempty"`
	SeverityChanged   bool        `json:"severity_changed"`
	AdjustmentReason  string      `json:"adjustment_reason,omitempty"`
	FilePath          string      `json:"file_path"`
	LineNumber        int         `json:"line_number"`
	LineContent       string      `json:"line_content"`
	ContextType       ContextType `json:"context_type,omitempty"`
	InCodeBlock       bool        `json:"in_code_block"`
	CodeBlockLanguage string      `json:"code_block_language,omitempty"`
}

// Scan is one execution of the external scanner against one skill. A
// skill's current risk snapshot always equals the aggregate of its most
// recent scan; older scans are history only.
type Scan struct {
	ID                string            `json:"scan_id"`
	SkillID           string            `json:"skill_id"`
	ScannedAt         time.Time         `json:"scanned_at"`
	ScannerVersion    string            `json:"scanner_version"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	RiskScore         int               `json:"risk_score"`
	OriginalRiskScore int               `json:"original_risk_score"`
	FilesScanned      int               `json:"files_scanned"`
	Findings          []SecurityFinding `json:"findings"`
	Blocked           bool              `json:"blocked"`
	BlockedReason     string            `json:"blocked_reason,omitempty"`
}

// FindingsCount returns the number of findings in the scan.
func (s Scan) FindingsCount() int { return len(s.Findings) }

// TestResult is one equivalence-test execution. Passed is a stored
// verdict, not recomputed from the scores; the threshold policy lives in
// the external tester and may change without rewriting history.
type TestResult struct {
	ID                  string    `json:"test_id"`
	SkillID             string    `json:"skill_id"`
	TestedAt            time.Time `json:"tested_at"`
	TesterVersion       string    `json:"tester_version"`
	OverallScore        float64   `json:"overall_score"`
	SemanticSimilarity  float64   `json:"semantic_similarity"`
	StructureSimilarity float64   `json:"structure_similarity"`
	KeywordSimilarity   float64   `json:"keyword_similarity"`
	Passed              bool      `json:"passed"`
}

// AuditEvent is an immutable record of one governance-relevant action.
// Events are append-only and are the source of truth for what happened
// when; the skill's current fields are a cache reconstructable from them.
type AuditEvent struct {
	ID            string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EventType      `json:"event_type"`
	SkillID       string         `json:"skill_id,omitempty"`
	SkillName     string         `json:"skill_name,omitempty"`
	Actor         string         `json:"actor"`
	Details       map[string]any `json:"details,omitempty"`
	PreviousState map[string]any `json:"previous_state,omitempty"`
	NewState      map[string]any `json:"new_state,omitempty"`
}

// SkillMetadata is the caller-supplied metadata used at ingestion.
type SkillMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Category    string `json:"category,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	LicenseSPDX string `json:"license_spdx,omitempty"`
}

// Skill is the reviewable unit tracked by the governance core.
//
// RiskLevel and RiskScore are derived from the latest scan and are only
// written by the governance service inside the same transaction that
// records the scan. Status is only written through the state machine.
// Revision is the optimistic-concurrency counter bumped on every write.
type Skill struct {
	ID          string `json:"skill_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Category    string `json:"category,omitempty"`

	Status    Status    `json:"status"`
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore int       `json:"risk_score"`

	SourceType  string `json:"source_type,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	LicenseSPDX string `json:"license_spdx,omitempty"`

	SecurityScannedAt *time.Time `json:"security_scanned_at,omitempty"`
	ScannerVersion    string     `json:"scanner_version,omitempty"`

	ApprovedBy string     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	EquivalenceTestedAt *time.Time `json:"equivalence_tested_at,omitempty"`
	EquivalenceScore    *float64   `json:"equivalence_score,omitempty"`
	EquivalencePassed   *bool      `json:"equivalence_passed,omitempty"`

	InstalledPath string     `json:"installed_path,omitempty"`
	InstalledAt   *time.Time `json:"installed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Revision int64 `json:"-"`

	// Findings from the latest scan; populated on detail reads.
	Findings []SecurityFinding `json:"security_findings,omitempty"`
}

// SkillLink is one directed relationship between two skills. Link types
// and reverse mappings are owned by the graph package.
type SkillLink struct {
	ID            int64     `json:"id"`
	SourceID      string    `json:"source_id"`
	TargetID      string    `json:"target_id"`
	Type          string    `json:"link_type"`
	Description   string    `json:"description,omitempty"`
	Strength      float64   `json:"strength"`
	Bidirectional bool      `json:"bidirectional"`
	CreatedAt     time.Time `json:"created_at"`
}

// SkillQuery filters and orders skill listings.
type SkillQuery struct {
	Status    Status    `json:"status,omitempty"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
	Search    string    `json:"search,omitempty"`
	SortBy    string    `json:"sort_by,omitempty"`
	SortOrder string    `json:"sort_order,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// SkillPage is one page of a skill listing.
type SkillPage struct {
	Skills []Skill `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// AuditQuery filters audit log reads. PageToken is an opaque keyset
// cursor returned by a previous page; pagination keys on
// (timestamp, event_id) so concurrent inserts never duplicate or skip
// events across pages.
type AuditQuery struct {
	SkillID   string     `json:"skill_id,omitempty"`
	EventType EventType  `json:"event_type,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	PageToken string     `json:"page_token,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// AuditPage is one page of audit events, newest first.
type AuditPage struct {
	Events        []AuditEvent `json:"items"`
	Total         int          `json:"total"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// Stats is the aggregate dashboard overview.
type Stats struct {
	TotalSkills         int     `json:"total_skills"`
	PendingCount        int     `json:"pending_count"`
	ApprovedCount       int     `json:"approved_count"`
	RejectedCount       int     `json:"rejected_count"`
	BlockedCount        int     `json:"blocked_count"`
	HighRiskCount       int     `json:"high_risk_count"`
	AvgEquivalenceScore float64 `json:"avg_equivalence_score"`
	TotalScans          int     `json:"total_scans"`
	TotalTests          int     `json:"total_tests"`
	TotalAuditEvents    int     `json:"total_events"`
}

// RuleCount aggregates findings by rule across the latest scans.
type RuleCount struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}
