package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillgate/pkg/governance"
	govtypes "github.com/jingkaihe/skillgate/pkg/types/governance"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "governance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSkill(name string) govtypes.Skill {
	now := time.Now().UTC()
	return govtypes.Skill{
		ID:        uuid.NewString(),
		Name:      name,
		Version:   "1.0.0",
		Status:    govtypes.StatusPending,
		RiskLevel: govtypes.RiskSafe,
		CreatedAt: now,
		UpdatedAt: now,
		Revision:  1,
	}
}

func testEvent(skill govtypes.Skill, eventType govtypes.EventType, ts time.Time) govtypes.AuditEvent {
	return govtypes.AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Type:      eventType,
		SkillID:   skill.ID,
		SkillName: skill.Name,
		Actor:     "tester",
	}
}

func TestCreateAndGetSkill(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("pdf-extractor")
	skill.Description = "Extracts tables from PDFs"
	skill.Category = "documents"
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	got, err := store.GetSkill(ctx, skill.ID)
	require.NoError(t, err)
	assert.Equal(t, skill.Name, got.Name)
	assert.Equal(t, govtypes.StatusPending, got.Status)
	assert.Equal(t, govtypes.RiskSafe, got.RiskLevel)
	assert.Equal(t, int64(1), got.Revision)

	byName, err := store.GetSkillByName(ctx, "pdf-extractor")
	require.NoError(t, err)
	assert.Equal(t, skill.ID, byName.ID)
}

func TestGetSkill_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSkill(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, governance.IsNotFound(err))
}

func TestCreateSkill_DuplicateName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testSkill("dup")
	require.NoError(t, store.CreateSkill(ctx, first, testEvent(first, govtypes.EventCreate, time.Now().UTC())))

	second := testSkill("dup")
	err := store.CreateSkill(ctx, second, testEvent(second, govtypes.EventCreate, time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, governance.IsValidation(err))
}

func TestUpdateSkill_RevisionConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("racy")
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	// first writer wins
	skill.Status = govtypes.StatusApproved
	require.NoError(t, store.UpdateSkill(ctx, skill, testEvent(skill, govtypes.EventApprove, time.Now().UTC())))

	// second writer still holds revision 1
	stale := skill
	stale.Status = govtypes.StatusRejected
	err := store.UpdateSkill(ctx, stale, testEvent(stale, govtypes.EventReject, time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, governance.IsConcurrentModification(err))

	// the losing write left nothing behind
	got, err := store.GetSkill(ctx, skill.ID)
	require.NoError(t, err)
	assert.Equal(t, govtypes.StatusApproved, got.Status)
	assert.Equal(t, int64(2), got.Revision)
}

func TestRecordScan_PersistsFindings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("scanned")
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	adjusted := govtypes.SeverityLow
	scan := govtypes.Scan{
		ID:        uuid.NewString(),
		SkillID:   skill.ID,
		ScannedAt: time.Now().UTC(),
		RiskLevel: govtypes.RiskHigh,
		RiskScore: 75,
		Findings: []govtypes.SecurityFinding{
			{
				RuleID:           "SEC001",
				RuleName:         "Shell Command Injection",
				Severity:         govtypes.SeverityLow,
				OriginalSeverity: govtypes.SeverityCritical,
				AdjustedSeverity: &adjusted,
				SeverityChanged:  true,
				FilePath:         "SKILL.md",
				LineNumber:       12,
			},
			{
				RuleID:           "SEC003",
				RuleName:         "Network Exfiltration",
				Severity:         govtypes.SeverityHigh,
				OriginalSeverity: govtypes.SeverityHigh,
			},
		},
	}

	skill.RiskScore = 75
	skill.RiskLevel = govtypes.RiskHigh
	require.NoError(t, store.RecordScan(ctx, skill, scan, testEvent(skill, govtypes.EventScan, time.Now().UTC())))

	latest, err := store.LatestScan(ctx, skill.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Len(t, latest.Findings, 2)
	assert.Equal(t, "SEC001", latest.Findings[0].RuleID)
	assert.True(t, latest.Findings[0].SeverityChanged)
	require.NotNil(t, latest.Findings[0].AdjustedSeverity)
	assert.Equal(t, govtypes.SeverityLow, *latest.Findings[0].AdjustedSeverity)

	history, err := store.ScanHistory(ctx, skill.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecentScans_SpansSkills(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, name := range []string{"first", "second", "third"} {
		skill := testSkill(name)
		require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, base)))

		scan := govtypes.Scan{
			ID:        uuid.NewString(),
			SkillID:   skill.ID,
			ScannedAt: base.Add(time.Duration(i) * time.Minute),
			RiskLevel: govtypes.RiskSafe,
		}
		require.NoError(t, store.RecordScan(ctx, skill, scan, testEvent(skill, govtypes.EventScan, scan.ScannedAt)))
	}

	scans, err := store.RecentScans(ctx, 2)
	require.NoError(t, err)
	require.Len(t, scans, 2)

	// newest first, across skills
	third, err := store.GetSkillByName(ctx, "third")
	require.NoError(t, err)
	assert.Equal(t, third.ID, scans[0].SkillID)
}

func TestLatestScan_NoneRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("unscanned")
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	latest, err := store.LatestScan(ctx, skill.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRecordTest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("tested")
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	result := govtypes.TestResult{
		ID:                  uuid.NewString(),
		SkillID:             skill.ID,
		TestedAt:            time.Now().UTC(),
		OverallScore:        0.91,
		SemanticSimilarity:  0.95,
		StructureSimilarity: 0.88,
		KeywordSimilarity:   0.9,
		Passed:              true,
	}
	score := 0.91
	passed := true
	skill.EquivalenceScore = &score
	skill.EquivalencePassed = &passed
	require.NoError(t, store.RecordTest(ctx, skill, result, testEvent(skill, govtypes.EventTest, time.Now().UTC())))

	history, err := store.TestHistory(ctx, skill.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 0.91, history[0].OverallScore, 1e-9)
	assert.True(t, history[0].Passed)
}

func TestListSkills_FiltersAndSorting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	specs := []struct {
		name   string
		status govtypes.Status
		score  int
	}{
		{"alpha", govtypes.StatusPending, 30},
		{"beta", govtypes.StatusApproved, 5},
		{"gamma", govtypes.StatusPending, 75},
	}
	for _, spec := range specs {
		skill := testSkill(spec.name)
		skill.Status = spec.status
		skill.RiskScore = spec.score
		require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))
	}

	page, err := store.ListSkills(ctx, govtypes.SkillQuery{
		Status:    govtypes.StatusPending,
		SortBy:    "risk_score",
		SortOrder: "desc",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Skills, 2)
	assert.Equal(t, "gamma", page.Skills[0].Name)
	assert.Equal(t, "alpha", page.Skills[1].Name)

	page, err = store.ListSkills(ctx, govtypes.SkillQuery{Search: "bet"})
	require.NoError(t, err)
	require.Len(t, page.Skills, 1)
	assert.Equal(t, "beta", page.Skills[0].Name)
}

func TestListAuditEvents_KeysetPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("audited")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, base)))

	for i := 1; i <= 9; i++ {
		require.NoError(t, store.UpdateSkill(ctx, skill,
			testEvent(skill, govtypes.EventUpdate, base.Add(time.Duration(i)*time.Minute))))
		skill.Revision++
	}

	var collected []string
	token := ""
	pages := 0
	for {
		page, err := store.ListAuditEvents(ctx, govtypes.AuditQuery{Limit: 4, PageToken: token})
		require.NoError(t, err)
		assert.Equal(t, 10, page.Total)
		for _, e := range page.Events {
			collected = append(collected, e.ID)
		}
		pages++
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	assert.Equal(t, 3, pages)
	require.Len(t, collected, 10)
	unique := make(map[string]bool)
	for _, id := range collected {
		assert.False(t, unique[id], "event %s returned twice", id)
		unique[id] = true
	}
}

func TestListAuditEvents_KeysetPagination_InsertsBetweenPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("audited-live")
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	created := testEvent(skill, govtypes.EventCreate, base)
	require.NoError(t, store.CreateSkill(ctx, skill, created))
	original := []string{created.ID}

	for i := 1; i <= 8; i++ {
		event := testEvent(skill, govtypes.EventUpdate, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.UpdateSkill(ctx, skill, event))
		skill.Revision++
		original = append(original, event.ID)
	}

	newTS := base.Add(time.Hour)
	var collected []string
	token := ""
	for {
		page, err := store.ListAuditEvents(ctx, govtypes.AuditQuery{Limit: 4, PageToken: token})
		require.NoError(t, err)
		for _, e := range page.Events {
			collected = append(collected, e.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken

		// new activity lands while the walk is in flight; the cursor
		// must keep the walk on the snapshot it started from
		newTS = newTS.Add(time.Minute)
		require.NoError(t, store.UpdateSkill(ctx, skill, testEvent(skill, govtypes.EventScan, newTS)))
		skill.Revision++
	}

	require.Len(t, collected, len(original))
	seen := make(map[string]int)
	for _, id := range collected {
		seen[id]++
	}
	for _, id := range original {
		assert.Equal(t, 1, seen[id], "event %s must appear exactly once", id)
	}
}

func TestListAuditEvents_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	a := testSkill("filter-a")
	b := testSkill("filter-b")
	require.NoError(t, store.CreateSkill(ctx, a, testEvent(a, govtypes.EventCreate, now)))
	require.NoError(t, store.CreateSkill(ctx, b, testEvent(b, govtypes.EventCreate, now.Add(time.Second))))
	require.NoError(t, store.UpdateSkill(ctx, a, testEvent(a, govtypes.EventApprove, now.Add(2*time.Second))))

	page, err := store.ListAuditEvents(ctx, govtypes.AuditQuery{SkillID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = store.ListAuditEvents(ctx, govtypes.AuditQuery{EventType: govtypes.EventApprove})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, a.ID, page.Events[0].SkillID)
}

func TestListAuditEvents_InvalidToken(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ListAuditEvents(context.Background(), govtypes.AuditQuery{PageToken: "not a token"})
	require.Error(t, err)
	assert.True(t, governance.IsValidation(err))
}

func TestStatsAndBreakdowns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	specs := []struct {
		name   string
		status govtypes.Status
		level  govtypes.RiskLevel
	}{
		{"s1", govtypes.StatusPending, govtypes.RiskSafe},
		{"s2", govtypes.StatusApproved, govtypes.RiskHigh},
		{"s3", govtypes.StatusBlocked, govtypes.RiskBlocked},
	}
	for _, spec := range specs {
		skill := testSkill(spec.name)
		skill.Status = spec.status
		skill.RiskLevel = spec.level
		require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSkills)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, 1, stats.ApprovedCount)
	assert.Equal(t, 1, stats.BlockedCount)
	assert.Equal(t, 2, stats.HighRiskCount)
	assert.Equal(t, 3, stats.TotalAuditEvents)

	risks, err := store.RiskBreakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, risks[govtypes.RiskHigh])
	assert.Equal(t, 1, risks[govtypes.RiskBlocked])

	statuses, err := store.StatusBreakdown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, statuses[govtypes.StatusPending])
}

func TestLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testSkill("link-a")
	b := testSkill("link-b")
	require.NoError(t, store.CreateSkill(ctx, a, testEvent(a, govtypes.EventCreate, time.Now().UTC())))
	require.NoError(t, store.CreateSkill(ctx, b, testEvent(b, govtypes.EventCreate, time.Now().UTC())))

	link := govtypes.SkillLink{
		SourceID:  a.ID,
		TargetID:  b.ID,
		Type:      "depends_on",
		Strength:  0.8,
		CreatedAt: time.Now().UTC(),
	}
	stored, err := store.AddLink(ctx, link)
	require.NoError(t, err)
	assert.Positive(t, stored.ID)

	// same (source, target, type) is rejected
	_, err = store.AddLink(ctx, link)
	require.Error(t, err)
	assert.True(t, governance.IsValidation(err))

	links, err := store.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "depends_on", links[0].Type)
}

func TestFindingsByRule_UsesLatestScanOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	skill := testSkill("rules")
	require.NoError(t, store.CreateSkill(ctx, skill, testEvent(skill, govtypes.EventCreate, time.Now().UTC())))

	oldScan := govtypes.Scan{
		ID:        uuid.NewString(),
		SkillID:   skill.ID,
		ScannedAt: time.Now().UTC().Add(-time.Hour),
		RiskLevel: govtypes.RiskMedium,
		Findings: []govtypes.SecurityFinding{
			{RuleID: "SEC009", RuleName: "Obfuscated Content", Severity: govtypes.SeverityMedium},
		},
	}
	require.NoError(t, store.RecordScan(ctx, skill, oldScan, testEvent(skill, govtypes.EventScan, time.Now().UTC())))
	skill.Revision++

	newScan := govtypes.Scan{
		ID:        uuid.NewString(),
		SkillID:   skill.ID,
		ScannedAt: time.Now().UTC(),
		RiskLevel: govtypes.RiskLow,
		Findings: []govtypes.SecurityFinding{
			{RuleID: "SEC005", RuleName: "Credential Access", Severity: govtypes.SeverityLow},
			{RuleID: "SEC005", RuleName: "Credential Access", Severity: govtypes.SeverityHigh},
		},
	}
	require.NoError(t, store.RecordScan(ctx, skill, newScan, testEvent(skill, govtypes.EventScan, time.Now().UTC())))

	counts, err := store.FindingsByRule(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1, "superseded scan findings must not be counted")
	assert.Equal(t, "SEC005", counts[0].RuleID)
	assert.Equal(t, 2, counts[0].Count)
	assert.Equal(t, govtypes.SeverityHigh, counts[0].Severity)
}
