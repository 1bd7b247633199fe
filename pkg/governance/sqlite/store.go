// Package sqlite implements the governance store on SQLite. All
// mutations write the skill snapshot and its audit events inside one
// transaction, with an optimistic revision check on the skill row.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/db/migrations"
	"github.com/jingkaihe/skillgate/pkg/governance"
	govtypes "github.com/jingkaihe/skillgate/pkg/types/governance"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Store is the SQLite-backed governance store.
type Store struct {
	db *sqlx.DB
}

var _ governance.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and applies pending
// migrations.
func New(ctx context.Context, dbPath string) (*Store, error) {
	conn, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.NewMigrationRunner(conn).Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return &Store{db: conn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const insertSkillSQL = `
	INSERT INTO skills (
		skill_id, name, description, version, category,
		status, risk_level, risk_score,
		source_type, source_path, source_url, author_name, license_spdx,
		security_scanned_at, scanner_version,
		approved_by, approved_at,
		equivalence_tested_at, equivalence_score, equivalence_passed,
		installed_path, installed_at,
		created_at, updated_at, revision
	) VALUES (
		:skill_id, :name, :description, :version, :category,
		:status, :risk_level, :risk_score,
		:source_type, :source_path, :source_url, :author_name, :license_spdx,
		:security_scanned_at, :scanner_version,
		:approved_by, :approved_at,
		:equivalence_tested_at, :equivalence_score, :equivalence_passed,
		:installed_path, :installed_at,
		:created_at, :updated_at, :revision
	)`

const updateSkillSQL = `
	UPDATE skills SET
		name = :name, description = :description, version = :version, category = :category,
		status = :status, risk_level = :risk_level, risk_score = :risk_score,
		source_type = :source_type, source_path = :source_path, source_url = :source_url,
		author_name = :author_name, license_spdx = :license_spdx,
		security_scanned_at = :security_scanned_at, scanner_version = :scanner_version,
		approved_by = :approved_by, approved_at = :approved_at,
		equivalence_tested_at = :equivalence_tested_at, equivalence_score = :equivalence_score,
		equivalence_passed = :equivalence_passed,
		installed_path = :installed_path, installed_at = :installed_at,
		updated_at = :updated_at, revision = revision + 1
	WHERE skill_id = :skill_id AND revision = :revision`

// CreateSkill inserts the skill and its creation event atomically.
func (s *Store) CreateSkill(ctx context.Context, skill govtypes.Skill, event govtypes.AuditEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return governance.NewPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertSkillSQL, fromSkill(skill)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return governance.NewValidation(errors.Errorf("skill name %q already exists", skill.Name))
		}
		return governance.NewPersistence(err, "failed to insert skill")
	}

	if err := insertEvents(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return governance.NewPersistence(err, "failed to commit skill creation")
	}
	return nil
}

// UpdateSkill writes the snapshot and events in one transaction,
// bumping the revision.
func (s *Store) UpdateSkill(ctx context.Context, skill govtypes.Skill, events ...govtypes.AuditEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return governance.NewPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := updateSkillTx(ctx, tx, skill); err != nil {
		return err
	}
	if err := insertEvents(ctx, tx, events...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return governance.NewPersistence(err, "failed to commit skill update")
	}
	return nil
}

// RecordScan writes the scan, the snapshot, and the events atomically.
func (s *Store) RecordScan(ctx context.Context, skill govtypes.Skill, scan govtypes.Scan, events ...govtypes.AuditEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return governance.NewPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := updateSkillTx(ctx, tx, skill); err != nil {
		return err
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO security_scans (
			scan_id, skill_id, scanned_at, scanner_version,
			risk_level, risk_score, original_risk_score, files_scanned,
			findings, blocked, blocked_reason
		) VALUES (
			:scan_id, :skill_id, :scanned_at, :scanner_version,
			:risk_level, :risk_score, :original_risk_score, :files_scanned,
			:findings, :blocked, :blocked_reason
		)`, fromScan(scan)); err != nil {
		return governance.NewPersistence(err, "failed to insert scan")
	}

	if err := insertEvents(ctx, tx, events...); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return governance.NewPersistence(err, "failed to commit scan")
	}
	return nil
}

// RecordTest writes the test result, the snapshot, and the event
// atomically.
func (s *Store) RecordTest(ctx context.Context, skill govtypes.Skill, result govtypes.TestResult, event govtypes.AuditEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return governance.NewPersistence(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := updateSkillTx(ctx, tx, skill); err != nil {
		return err
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO equivalence_tests (
			test_id, skill_id, tested_at, tester_version,
			overall_score, semantic_similarity, structure_similarity, keyword_similarity, passed
		) VALUES (
			:test_id, :skill_id, :tested_at, :tester_version,
			:overall_score, :semantic_similarity, :structure_similarity, :keyword_similarity, :passed
		)`, fromTestResult(result)); err != nil {
		return governance.NewPersistence(err, "failed to insert test result")
	}

	if err := insertEvents(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return governance.NewPersistence(err, "failed to commit test result")
	}
	return nil
}

func updateSkillTx(ctx context.Context, tx *sqlx.Tx, skill govtypes.Skill) error {
	res, err := tx.NamedExecContext(ctx, updateSkillSQL, fromSkill(skill))
	if err != nil {
		return governance.NewPersistence(err, "failed to update skill")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return governance.NewPersistence(err, "failed to read rows affected")
	}
	if rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT COUNT(*) > 0 FROM skills WHERE skill_id = ?", skill.ID); err != nil {
			return governance.NewPersistence(err, "failed to check skill existence")
		}
		if !exists {
			return governance.NewNotFound("skill %s not found", skill.ID)
		}
		return governance.NewConcurrentModification(skill.ID)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, events ...govtypes.AuditEvent) error {
	for _, e := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_log (
				event_id, timestamp, event_type, skill_id, skill_name,
				actor, details, previous_state, new_state
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp, string(e.Type), ref(e.SkillID), ref(e.SkillName), e.Actor,
			JSONField[map[string]any]{Data: e.Details},
			JSONField[map[string]any]{Data: e.PreviousState},
			JSONField[map[string]any]{Data: e.NewState},
		)
		if err != nil {
			return governance.NewPersistence(err, "failed to insert audit event")
		}
	}
	return nil
}

// GetSkill fetches one skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (govtypes.Skill, error) {
	var row dbSkill
	err := s.db.GetContext(ctx, &row, "SELECT * FROM skills WHERE skill_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return govtypes.Skill{}, governance.NewNotFound("skill %s not found", id)
	}
	if err != nil {
		return govtypes.Skill{}, governance.NewPersistence(err, "failed to get skill")
	}
	return row.toSkill(), nil
}

// GetSkillByName fetches one skill by its unique name.
func (s *Store) GetSkillByName(ctx context.Context, name string) (govtypes.Skill, error) {
	var row dbSkill
	err := s.db.GetContext(ctx, &row, "SELECT * FROM skills WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return govtypes.Skill{}, governance.NewNotFound("skill %q not found", name)
	}
	if err != nil {
		return govtypes.Skill{}, governance.NewPersistence(err, "failed to get skill by name")
	}
	return row.toSkill(), nil
}

var sortColumns = map[string]string{
	"name":       "name",
	"status":     "status",
	"risk_score": "risk_score",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// ListSkills returns a filtered, ordered page of skills plus the total
// count for the filter.
func (s *Store) ListSkills(ctx context.Context, q govtypes.SkillQuery) (govtypes.SkillPage, error) {
	var conds []string
	var args []any

	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.RiskLevel != "" {
		conds = append(conds, "risk_level = ?")
		args = append(args, string(q.RiskLevel))
	}
	if q.Search != "" {
		conds = append(conds, "(name LIKE ? OR description LIKE ?)")
		pattern := "%" + q.Search + "%"
		args = append(args, pattern, pattern)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM skills"+where, args...); err != nil {
		return govtypes.SkillPage{}, governance.NewPersistence(err, "failed to count skills")
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = "updated_at"
	}
	direction := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		direction = "ASC"
	}

	query := "SELECT * FROM skills" + where +
		" ORDER BY " + column + " " + direction + ", skill_id"
	limit := q.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Offset)
	}

	var rows []dbSkill
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return govtypes.SkillPage{}, governance.NewPersistence(err, "failed to list skills")
	}

	skills := make([]govtypes.Skill, 0, len(rows))
	for i := range rows {
		skills = append(skills, rows[i].toSkill())
	}

	return govtypes.SkillPage{Skills: skills, Total: total, Limit: limit, Offset: q.Offset}, nil
}

// LatestScan returns the most recent scan, or nil when none exists.
func (s *Store) LatestScan(ctx context.Context, skillID string) (*govtypes.Scan, error) {
	var row dbScan
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM security_scans WHERE skill_id = ?
		ORDER BY scanned_at DESC, scan_id DESC LIMIT 1`, skillID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to get latest scan")
	}
	scan := row.toScan()
	return &scan, nil
}

// ScanHistory returns scans newest first. A negative limit returns the
// full history.
func (s *Store) ScanHistory(ctx context.Context, skillID string, limit int) ([]govtypes.Scan, error) {
	if limit == 0 {
		limit = defaultPageSize
	}

	var rows []dbScan
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM security_scans WHERE skill_id = ?
		ORDER BY scanned_at DESC, scan_id DESC LIMIT ?`, skillID, limit)
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to list scans")
	}

	scans := make([]govtypes.Scan, 0, len(rows))
	for i := range rows {
		scans = append(scans, rows[i].toScan())
	}
	return scans, nil
}

// RecentScans returns the most recent scans across all skills.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]govtypes.Scan, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}

	var rows []dbScan
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM security_scans
		ORDER BY scanned_at DESC, scan_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to list recent scans")
	}

	scans := make([]govtypes.Scan, 0, len(rows))
	for i := range rows {
		scans = append(scans, rows[i].toScan())
	}
	return scans, nil
}

// TestHistory returns test results newest first. A negative limit
// returns the full history.
func (s *Store) TestHistory(ctx context.Context, skillID string, limit int) ([]govtypes.TestResult, error) {
	if limit == 0 {
		limit = defaultPageSize
	}

	var rows []dbTest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM equivalence_tests WHERE skill_id = ?
		ORDER BY tested_at DESC, test_id DESC LIMIT ?`, skillID, limit)
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to list test results")
	}

	results := make([]govtypes.TestResult, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toTestResult())
	}
	return results, nil
}

// pageCursor is the decoded form of an opaque audit page token.
type pageCursor struct {
	Timestamp time.Time `json:"ts"`
	EventID   string    `json:"id"`
}

func encodeCursor(c pageCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageCursor{}, err
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return pageCursor{}, err
	}
	return c, nil
}

// ListAuditEvents returns one page of the audit trail, newest first.
// Pagination keys on (timestamp, event_id) so events inserted while the
// caller walks pages are never duplicated or skipped.
func (s *Store) ListAuditEvents(ctx context.Context, q govtypes.AuditQuery) (govtypes.AuditPage, error) {
	var conds []string
	var args []any

	if q.SkillID != "" {
		conds = append(conds, "skill_id = ?")
		args = append(args, q.SkillID)
	}
	if q.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(q.EventType))
	}
	if q.From != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, *q.From)
	}
	if q.To != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, *q.To)
	}

	countWhere := ""
	if len(conds) > 0 {
		countWhere = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_log"+countWhere, args...); err != nil {
		return govtypes.AuditPage{}, governance.NewPersistence(err, "failed to count audit events")
	}

	if q.PageToken != "" {
		cursor, err := decodeCursor(q.PageToken)
		if err != nil {
			return govtypes.AuditPage{}, governance.NewValidation(errors.New("invalid page token"))
		}
		conds = append(conds, "(timestamp < ? OR (timestamp = ? AND event_id < ?))")
		args = append(args, cursor.Timestamp, cursor.Timestamp, cursor.EventID)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var rows []dbEvent
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM audit_log`+where+`
		ORDER BY timestamp DESC, event_id DESC LIMIT ?`, append(args, limit+1)...)
	if err != nil {
		return govtypes.AuditPage{}, governance.NewPersistence(err, "failed to list audit events")
	}

	page := govtypes.AuditPage{Total: total}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextPageToken = encodeCursor(pageCursor{Timestamp: last.Timestamp, EventID: last.EventID})
	}

	page.Events = make([]govtypes.AuditEvent, 0, len(rows))
	for i := range rows {
		page.Events = append(page.Events, rows[i].toEvent())
	}
	return page, nil
}

// Stats computes the aggregate overview counters.
func (s *Store) Stats(ctx context.Context) (govtypes.Stats, error) {
	var stats govtypes.Stats

	statuses, err := s.StatusBreakdown(ctx)
	if err != nil {
		return govtypes.Stats{}, err
	}
	stats.PendingCount = statuses[govtypes.StatusPending]
	stats.ApprovedCount = statuses[govtypes.StatusApproved]
	stats.RejectedCount = statuses[govtypes.StatusRejected]
	stats.BlockedCount = statuses[govtypes.StatusBlocked]
	for _, count := range statuses {
		stats.TotalSkills += count
	}

	if err := s.db.GetContext(ctx, &stats.HighRiskCount,
		"SELECT COUNT(*) FROM skills WHERE risk_level IN ('high', 'critical', 'blocked')"); err != nil {
		return govtypes.Stats{}, governance.NewPersistence(err, "failed to count high risk skills")
	}

	if err := s.db.GetContext(ctx, &stats.AvgEquivalenceScore,
		"SELECT COALESCE(AVG(equivalence_score), 0) FROM skills WHERE equivalence_score IS NOT NULL"); err != nil {
		return govtypes.Stats{}, governance.NewPersistence(err, "failed to average equivalence scores")
	}

	counters := []struct {
		dest  *int
		query string
	}{
		{&stats.TotalScans, "SELECT COUNT(*) FROM security_scans"},
		{&stats.TotalTests, "SELECT COUNT(*) FROM equivalence_tests"},
		{&stats.TotalAuditEvents, "SELECT COUNT(*) FROM audit_log"},
	}
	for _, c := range counters {
		if err := s.db.GetContext(ctx, c.dest, c.query); err != nil {
			return govtypes.Stats{}, governance.NewPersistence(err, "failed to count rows")
		}
	}

	return stats, nil
}

// StatusBreakdown returns skill counts per lifecycle status.
func (s *Store) StatusBreakdown(ctx context.Context) (map[govtypes.Status]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) FROM skills GROUP BY status")
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to group skills by status")
	}
	defer rows.Close()

	out := make(map[govtypes.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, governance.NewPersistence(err, "failed to scan status count")
		}
		out[govtypes.Status(status)] = count
	}
	return out, rows.Err()
}

// RiskBreakdown returns skill counts per risk level.
func (s *Store) RiskBreakdown(ctx context.Context) (map[govtypes.RiskLevel]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT risk_level, COUNT(*) FROM skills GROUP BY risk_level")
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to group skills by risk level")
	}
	defer rows.Close()

	out := make(map[govtypes.RiskLevel]int)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, governance.NewPersistence(err, "failed to scan risk count")
		}
		out[govtypes.RiskLevel(level)] = count
	}
	return out, rows.Err()
}

// FindingsByRule aggregates the findings of every skill's latest scan
// by rule, highest counts first.
func (s *Store) FindingsByRule(ctx context.Context) ([]govtypes.RuleCount, error) {
	var rows []dbScan
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM security_scans
		ORDER BY skill_id, scanned_at DESC, scan_id DESC`)
	if err != nil {
		return nil, governance.NewPersistence(err, "failed to list scans")
	}

	counts := make(map[string]*govtypes.RuleCount)
	var order []string
	seen := make(map[string]bool)
	for i := range rows {
		if seen[rows[i].SkillID] {
			continue
		}
		seen[rows[i].SkillID] = true

		for _, f := range rows[i].Findings.Data {
			rc, ok := counts[f.RuleID]
			if !ok {
				rc = &govtypes.RuleCount{RuleID: f.RuleID, RuleName: f.RuleName, Severity: f.Severity}
				counts[f.RuleID] = rc
				order = append(order, f.RuleID)
			}
			rc.Count++
			if f.Severity.Rank() > rc.Severity.Rank() {
				rc.Severity = f.Severity
			}
		}
	}

	out := make([]govtypes.RuleCount, 0, len(order))
	for _, id := range order {
		out = append(out, *counts[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

// AddLink inserts a skill link and returns it with its assigned id.
func (s *Store) AddLink(ctx context.Context, link govtypes.SkillLink) (govtypes.SkillLink, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_links (source_id, target_id, link_type, description, strength, bidirectional, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.SourceID, link.TargetID, link.Type, ref(link.Description),
		link.Strength, link.Bidirectional, link.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return govtypes.SkillLink{}, governance.NewValidation(
				errors.Errorf("link %s -> %s (%s) already exists", link.SourceID, link.TargetID, link.Type))
		}
		return govtypes.SkillLink{}, governance.NewPersistence(err, "failed to insert link")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return govtypes.SkillLink{}, governance.NewPersistence(err, "failed to read link id")
	}
	link.ID = id
	return link, nil
}

// ListLinks returns all skill links.
func (s *Store) ListLinks(ctx context.Context) ([]govtypes.SkillLink, error) {
	var rows []dbLink
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM skill_links ORDER BY id"); err != nil {
		return nil, governance.NewPersistence(err, "failed to list links")
	}

	links := make([]govtypes.SkillLink, 0, len(rows))
	for i := range rows {
		links = append(links, rows[i].toLink())
	}
	return links, nil
}
