package governance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/graph"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/risk"
	"github.com/jingkaihe/skillgate/pkg/severity"
	"github.com/jingkaihe/skillgate/pkg/types/governance"
)

// Service orchestrates the governance core. It is the only component
// that writes skill state: every mutation acquires the skill's lock,
// re-reads current state, applies the state machine and risk policy,
// and hands the snapshot plus its audit events to the store as one
// atomic write.
type Service struct {
	store Store
	locks *keyedMutex
	now   func() time.Time
}

// NewService creates a governance service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// ScanInput is one scanner execution handed to RecordScan. Findings
// carry their original severities; the service derives effective
// severities and the risk snapshot. Sources optionally maps file paths
// to raw content so findings without a pre-classified context can be
// classified here.
type ScanInput struct {
	ScannerVersion string
	FilesScanned   int
	Findings       []governance.SecurityFinding
	Blocked        bool
	BlockedReason  string
	Sources        map[string][]byte
}

// TestInput is one equivalence-tester execution handed to RecordTest.
type TestInput struct {
	TesterVersion       string
	OverallScore        float64
	SemanticSimilarity  float64
	StructureSimilarity float64
	KeywordSimilarity   float64
	Passed              bool
}

// Ingest registers a new skill in pending state with a zero risk
// snapshot and emits its creation event.
func (s *Service) Ingest(ctx context.Context, meta governance.SkillMetadata, actor string) (governance.Skill, error) {
	var merr *multierror.Error
	if strings.TrimSpace(meta.Name) == "" {
		merr = multierror.Append(merr, errors.New("skill name is required"))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return governance.Skill{}, NewValidation(err)
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}

	now := s.now().UTC()
	skill := governance.Skill{
		ID:          uuid.NewString(),
		Name:        meta.Name,
		Description: meta.Description,
		Version:     meta.Version,
		Category:    meta.Category,
		Status:      governance.StatusPending,
		RiskLevel:   governance.RiskSafe,
		RiskScore:   0,
		SourceType:  meta.SourceType,
		SourcePath:  meta.SourcePath,
		SourceURL:   meta.SourceURL,
		AuthorName:  meta.AuthorName,
		LicenseSPDX: meta.LicenseSPDX,
		CreatedAt:   now,
		UpdatedAt:   now,
		Revision:    1,
	}

	event := s.newEvent(governance.EventCreate, skill, actor)
	event.Details = map[string]any{
		"source_type": meta.SourceType,
		"source_path": meta.SourcePath,
		"category":    meta.Category,
	}
	event.NewState = stateSnapshot(skill)

	if err := s.store.CreateSkill(ctx, skill, event); err != nil {
		return governance.Skill{}, err
	}

	logger.G(ctx).WithField("skill_id", skill.ID).WithField("name", skill.Name).Info("skill ingested")
	return skill, nil
}

// RecordScan applies context-aware severity adjustment to each finding,
// recomputes the risk snapshot from this scan, and persists scan, skill,
// and audit events atomically. A scan with the hard-blocked flag
// auto-transitions a pending skill to blocked and emits a second event.
func (s *Service) RecordScan(ctx context.Context, skillID string, input ScanInput) (governance.Skill, error) {
	release, err := s.locks.Acquire(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	defer release()

	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}

	findings := s.adjustFindings(input)
	originalScore := 0
	for _, f := range findings {
		originalScore += risk.Weight(f.OriginalSeverity)
	}
	score, level := risk.AggregateFindings(findings, input.Blocked)

	now := s.now().UTC()
	scan := governance.Scan{
		ID:                uuid.NewString(),
		SkillID:           skill.ID,
		ScannedAt:         now,
		ScannerVersion:    input.ScannerVersion,
		RiskLevel:         level,
		RiskScore:         score,
		OriginalRiskScore: originalScore,
		FilesScanned:      input.FilesScanned,
		Findings:          findings,
		Blocked:           input.Blocked,
		BlockedReason:     input.BlockedReason,
	}

	previous := stateSnapshot(skill)
	skill.RiskScore = score
	skill.RiskLevel = level
	skill.SecurityScannedAt = &now
	skill.ScannerVersion = input.ScannerVersion
	skill.UpdatedAt = now

	afterScan := stateSnapshot(skill)
	scanEvent := s.newEvent(governance.EventScan, skill, "scanner")
	scanEvent.Timestamp = now
	scanEvent.Details = map[string]any{
		"scan_id":        scan.ID,
		"risk_score":     score,
		"risk_level":     string(level),
		"findings_count": len(findings),
		"files_scanned":  input.FilesScanned,
		"blocked":        input.Blocked,
	}
	scanEvent.PreviousState = previous
	scanEvent.NewState = afterScan
	events := []governance.AuditEvent{scanEvent}

	if input.Blocked && CanTransition(skill.Status, ActionBlock) {
		next, terr := NextStatus(skill.Status, ActionBlock)
		if terr != nil {
			return governance.Skill{}, terr
		}
		skill.Status = next

		blockEvent := s.newEvent(governance.EventBlock, skill, "scanner")
		// both events share the operation clock; the bump keeps the
		// block event strictly newer in (timestamp, event_id) ordering
		blockEvent.Timestamp = now.Add(time.Nanosecond)
		blockEvent.Details = map[string]any{
			"reason":  input.BlockedReason,
			"scan_id": scan.ID,
		}
		blockEvent.PreviousState = afterScan
		blockEvent.NewState = stateSnapshot(skill)
		events = append(events, blockEvent)
	}

	if err := s.store.RecordScan(ctx, skill, scan, events...); err != nil {
		return governance.Skill{}, err
	}
	skill.Revision++
	skill.Findings = findings

	logger.G(ctx).WithFields(map[string]any{
		"skill_id":   skill.ID,
		"risk_score": score,
		"risk_level": level,
		"blocked":    input.Blocked,
	}).Info("scan recorded")
	return skill, nil
}

// RecordTest stores one equivalence-test execution and updates the
// skill's test snapshot.
func (s *Service) RecordTest(ctx context.Context, skillID string, input TestInput) (governance.Skill, error) {
	release, err := s.locks.Acquire(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	defer release()

	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}

	now := s.now().UTC()
	result := governance.TestResult{
		ID:                  uuid.NewString(),
		SkillID:             skill.ID,
		TestedAt:            now,
		TesterVersion:       input.TesterVersion,
		OverallScore:        input.OverallScore,
		SemanticSimilarity:  input.SemanticSimilarity,
		StructureSimilarity: input.StructureSimilarity,
		KeywordSimilarity:   input.KeywordSimilarity,
		Passed:              input.Passed,
	}

	previous := stateSnapshot(skill)
	score := input.OverallScore
	passed := input.Passed
	skill.EquivalenceTestedAt = &now
	skill.EquivalenceScore = &score
	skill.EquivalencePassed = &passed
	skill.UpdatedAt = now

	event := s.newEvent(governance.EventTest, skill, "tester")
	event.Details = map[string]any{
		"test_id":       result.ID,
		"overall_score": input.OverallScore,
		"passed":        input.Passed,
	}
	event.PreviousState = previous
	event.NewState = stateSnapshot(skill)

	if err := s.store.RecordTest(ctx, skill, result, event); err != nil {
		return governance.Skill{}, err
	}
	skill.Revision++

	logger.G(ctx).WithFields(map[string]any{
		"skill_id": skill.ID,
		"score":    input.OverallScore,
		"passed":   input.Passed,
	}).Info("equivalence test recorded")
	return skill, nil
}

// Approve transitions a skill to approved. Approval from blocked is
// only legal once the latest scan no longer reports the blocking
// condition.
func (s *Service) Approve(ctx context.Context, skillID, actor, reason string) (governance.Skill, error) {
	if reason == "" {
		reason = "Approved"
	}
	return s.review(ctx, skillID, ActionApprove, actor, reason)
}

// Reject transitions a skill to rejected. Approved skills may be
// re-rejected with a new reason.
func (s *Service) Reject(ctx context.Context, skillID, actor, reason string) (governance.Skill, error) {
	if reason == "" {
		reason = "Rejected"
	}
	return s.review(ctx, skillID, ActionReject, actor, reason)
}

func (s *Service) review(ctx context.Context, skillID string, action Action, actor, reason string) (governance.Skill, error) {
	if err := requireActor(actor); err != nil {
		return governance.Skill{}, err
	}

	release, err := s.locks.Acquire(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	defer release()

	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}

	if action == ActionApprove && skill.Status == governance.StatusBlocked {
		latest, lerr := s.store.LatestScan(ctx, skillID)
		if lerr != nil {
			return governance.Skill{}, lerr
		}
		if latest == nil || latest.Blocked {
			return governance.Skill{}, NewInvalidTransition(skill.Status,
				"cannot approve %s: the latest scan still reports the blocking condition", skill.Name)
		}
	}

	next, err := NextStatus(skill.Status, action)
	if err != nil {
		return governance.Skill{}, err
	}

	now := s.now().UTC()
	previous := stateSnapshot(skill)
	skill.Status = next
	skill.UpdatedAt = now
	eventType := governance.EventReject
	if action == ActionApprove {
		eventType = governance.EventApprove
		skill.ApprovedBy = actor
		skill.ApprovedAt = &now
	}

	event := s.newEvent(eventType, skill, actor)
	event.Details = map[string]any{"reason": reason}
	event.PreviousState = previous
	event.NewState = stateSnapshot(skill)

	if err := s.store.UpdateSkill(ctx, skill, event); err != nil {
		return governance.Skill{}, err
	}
	skill.Revision++

	logger.G(ctx).WithFields(map[string]any{
		"skill_id": skill.ID,
		"status":   skill.Status,
		"actor":    actor,
	}).Info("review action applied")
	return skill, nil
}

// Install records that an approved skill was installed to targetPath.
// The status is unchanged; install is illegal from any other state.
func (s *Service) Install(ctx context.Context, skillID, actor, targetPath string) (governance.Skill, error) {
	var merr *multierror.Error
	if strings.TrimSpace(actor) == "" {
		merr = multierror.Append(merr, errors.New("actor is required"))
	}
	if strings.TrimSpace(targetPath) == "" {
		merr = multierror.Append(merr, errors.New("target path is required"))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return governance.Skill{}, NewValidation(err)
	}

	release, err := s.locks.Acquire(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	defer release()

	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}

	if _, err := NextStatus(skill.Status, ActionInstall); err != nil {
		return governance.Skill{}, err
	}

	now := s.now().UTC()
	previous := stateSnapshot(skill)
	skill.InstalledPath = targetPath
	skill.InstalledAt = &now
	skill.UpdatedAt = now

	event := s.newEvent(governance.EventInstall, skill, actor)
	event.Details = map[string]any{"target_path": targetPath}
	event.PreviousState = previous
	event.NewState = stateSnapshot(skill)

	if err := s.store.UpdateSkill(ctx, skill, event); err != nil {
		return governance.Skill{}, err
	}
	skill.Revision++

	logger.G(ctx).WithFields(map[string]any{
		"skill_id": skill.ID,
		"path":     targetPath,
	}).Info("skill installed")
	return skill, nil
}

// UpdateMetadata overwrites the caller-editable metadata fields and
// emits an update event. Governance fields are untouched.
func (s *Service) UpdateMetadata(ctx context.Context, skillID string, meta governance.SkillMetadata, actor string) (governance.Skill, error) {
	if err := requireActor(actor); err != nil {
		return governance.Skill{}, err
	}

	release, err := s.locks.Acquire(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	defer release()

	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}

	previous := stateSnapshot(skill)
	if meta.Description != "" {
		skill.Description = meta.Description
	}
	if meta.Version != "" {
		skill.Version = meta.Version
	}
	if meta.Category != "" {
		skill.Category = meta.Category
	}
	skill.UpdatedAt = s.now().UTC()

	event := s.newEvent(governance.EventUpdate, skill, actor)
	event.PreviousState = previous
	event.NewState = stateSnapshot(skill)

	if err := s.store.UpdateSkill(ctx, skill, event); err != nil {
		return governance.Skill{}, err
	}
	skill.Revision++
	return skill, nil
}

// SkillDetail is the full read model for one skill.
type SkillDetail struct {
	Skill governance.Skill        `json:"skill"`
	Scans []governance.Scan       `json:"scan_history"`
	Tests []governance.TestResult `json:"test_history"`
	Audit []governance.AuditEvent `json:"audit_events"`
}

// GetSkill returns the skill with its latest scan's findings attached.
func (s *Service) GetSkill(ctx context.Context, skillID string) (governance.Skill, error) {
	skill, err := s.store.GetSkill(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	latest, err := s.store.LatestScan(ctx, skillID)
	if err != nil {
		return governance.Skill{}, err
	}
	if latest != nil {
		skill.Findings = latest.Findings
	}
	return skill, nil
}

// GetSkillDetail returns the skill plus its scan, test, and audit
// history for detail views.
func (s *Service) GetSkillDetail(ctx context.Context, skillID string) (SkillDetail, error) {
	skill, err := s.GetSkill(ctx, skillID)
	if err != nil {
		return SkillDetail{}, err
	}

	scans, err := s.store.ScanHistory(ctx, skillID, -1)
	if err != nil {
		return SkillDetail{}, err
	}
	tests, err := s.store.TestHistory(ctx, skillID, -1)
	if err != nil {
		return SkillDetail{}, err
	}
	page, err := s.store.ListAuditEvents(ctx, governance.AuditQuery{SkillID: skillID, Limit: 500})
	if err != nil {
		return SkillDetail{}, err
	}

	return SkillDetail{Skill: skill, Scans: scans, Tests: tests, Audit: page.Events}, nil
}

// ListSkills returns a filtered, ordered page of skills.
func (s *Service) ListSkills(ctx context.Context, q governance.SkillQuery) (governance.SkillPage, error) {
	return s.store.ListSkills(ctx, q)
}

// PendingReviews returns the review queue: pending skills, riskiest
// first.
func (s *Service) PendingReviews(ctx context.Context) ([]governance.Skill, error) {
	page, err := s.store.ListSkills(ctx, governance.SkillQuery{
		Status:    governance.StatusPending,
		SortBy:    "risk_score",
		SortOrder: "desc",
		Limit:     -1,
	})
	if err != nil {
		return nil, err
	}
	return page.Skills, nil
}

// RecentScans returns the most recent scans across all skills.
func (s *Service) RecentScans(ctx context.Context, limit int) ([]governance.Scan, error) {
	return s.store.RecentScans(ctx, limit)
}

// AuditLog returns one page of the audit trail.
func (s *Service) AuditLog(ctx context.Context, q governance.AuditQuery) (governance.AuditPage, error) {
	return s.store.ListAuditEvents(ctx, q)
}

// Overview returns the aggregate dashboard statistics.
func (s *Service) Overview(ctx context.Context) (governance.Stats, error) {
	return s.store.Stats(ctx)
}

// RiskBreakdown returns skill counts per risk level.
func (s *Service) RiskBreakdown(ctx context.Context) (map[governance.RiskLevel]int, error) {
	return s.store.RiskBreakdown(ctx)
}

// StatusBreakdown returns skill counts per lifecycle status.
func (s *Service) StatusBreakdown(ctx context.Context) (map[governance.Status]int, error) {
	return s.store.StatusBreakdown(ctx)
}

// FindingsByRule aggregates latest-scan findings by rule.
func (s *Service) FindingsByRule(ctx context.Context) ([]governance.RuleCount, error) {
	return s.store.FindingsByRule(ctx)
}

// AddLink records a directed relationship between two existing skills.
func (s *Service) AddLink(ctx context.Context, link governance.SkillLink) (governance.SkillLink, error) {
	var merr *multierror.Error
	if !graph.ValidLinkType(link.Type) {
		merr = multierror.Append(merr, errors.Errorf("unknown link type %q", link.Type))
	}
	if link.Strength < 0 || link.Strength > 1 {
		merr = multierror.Append(merr, errors.New("strength must be in [0, 1]"))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return governance.SkillLink{}, NewValidation(err)
	}

	if _, err := s.store.GetSkill(ctx, link.SourceID); err != nil {
		return governance.SkillLink{}, err
	}
	if _, err := s.store.GetSkill(ctx, link.TargetID); err != nil {
		return governance.SkillLink{}, err
	}

	link.CreatedAt = s.now().UTC()
	return s.store.AddLink(ctx, link)
}

// Graph builds the relationship graph over all skills and links.
func (s *Service) Graph(ctx context.Context) (graph.Graph, error) {
	page, err := s.store.ListSkills(ctx, governance.SkillQuery{Limit: -1})
	if err != nil {
		return graph.Graph{}, err
	}
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return graph.Graph{}, err
	}
	return graph.Build(page.Skills, links), nil
}

func (s *Service) adjustFindings(input ScanInput) []governance.SecurityFinding {
	classifiers := make(map[string]*severity.Classifier)
	out := make([]governance.SecurityFinding, 0, len(input.Findings))

	for _, f := range input.Findings {
		ctx := severity.Context{Type: f.ContextType, CodeBlockLanguage: f.CodeBlockLanguage}
		if ctx.Type == "" {
			if source, ok := input.Sources[f.FilePath]; ok {
				c, cached := classifiers[f.FilePath]
				if !cached {
					c = severity.NewClassifier(source)
					classifiers[f.FilePath] = c
				}
				ctx = c.Classify(f.LineNumber, f.LineContent)
			} else {
				ctx = severity.Context{Type: governance.ContextProse}
			}
		}
		out = append(out, severity.Apply(f, ctx))
	}
	return out
}

func (s *Service) newEvent(t governance.EventType, skill governance.Skill, actor string) governance.AuditEvent {
	return governance.AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Type:      t,
		SkillID:   skill.ID,
		SkillName: skill.Name,
		Actor:     actor,
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return NewValidation(errors.New("actor is required"))
	}
	return nil
}

// stateSnapshot captures the governance-relevant fields for audit
// previous/new state records.
func stateSnapshot(skill governance.Skill) map[string]any {
	return map[string]any{
		"status":     string(skill.Status),
		"risk_level": string(skill.RiskLevel),
		"risk_score": skill.RiskScore,
	}
}
