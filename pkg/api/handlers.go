package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/governance"
	govtypes "github.com/jingkaihe/skillgate/pkg/types/governance"
)

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, governance.NewValidation(errors.Wrap(err, "invalid request body")))
		return false
	}
	return true
}

// handleListSkills handles GET /api/skills.
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := govtypes.SkillQuery{
		Status:    govtypes.Status(q.Get("status")),
		RiskLevel: govtypes.RiskLevel(q.Get("risk_level")),
		Search:    q.Get("search"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if limit := q.Get("limit"); limit != "" {
		query.Limit, _ = strconv.Atoi(limit)
	}
	if offset := q.Get("offset"); offset != "" {
		query.Offset, _ = strconv.Atoi(offset)
	}

	page, err := s.service.ListSkills(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, page)
}

type ingestRequest struct {
	govtypes.SkillMetadata
	Actor string `json:"actor"`
}

// handleIngestSkill handles POST /api/skills.
func (s *Server) handleIngestSkill(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.Ingest(r.Context(), req.SkillMetadata, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(skill)
}

// handleGetSkill handles GET /api/skills/{id}.
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetSkillDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, detail)
}

type updateSkillRequest struct {
	govtypes.SkillMetadata
	Actor string `json:"actor"`
}

// handleUpdateSkill handles PATCH /api/skills/{id}.
func (s *Server) handleUpdateSkill(w http.ResponseWriter, r *http.Request) {
	var req updateSkillRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.UpdateMetadata(r.Context(), mux.Vars(r)["id"], req.SkillMetadata, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

// handleRecentScans handles GET /api/scans.
func (s *Server) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	scans, err := s.service.RecentScans(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"items": scans})
}

// handleListScans handles GET /api/skills/{id}/scans.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetSkillDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"items": detail.Scans})
}

type recordScanRequest struct {
	ScannerVersion string                     `json:"scanner_version"`
	FilesScanned   int                        `json:"files_scanned"`
	Findings       []govtypes.SecurityFinding `json:"findings"`
	Blocked        bool                       `json:"blocked"`
	BlockedReason  string                     `json:"blocked_reason"`
	Sources        map[string]string          `json:"sources,omitempty"`
}

// handleRecordScan handles POST /api/skills/{id}/scans.
func (s *Server) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	var req recordScanRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	input := governance.ScanInput{
		ScannerVersion: req.ScannerVersion,
		FilesScanned:   req.FilesScanned,
		Findings:       req.Findings,
		Blocked:        req.Blocked,
		BlockedReason:  req.BlockedReason,
	}
	if len(req.Sources) > 0 {
		input.Sources = make(map[string][]byte, len(req.Sources))
		for path, content := range req.Sources {
			input.Sources[path] = []byte(content)
		}
	}

	skill, err := s.service.RecordScan(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

// handleListTests handles GET /api/skills/{id}/tests.
func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetSkillDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"items": detail.Tests})
}

type recordTestRequest struct {
	TesterVersion       string  `json:"tester_version"`
	OverallScore        float64 `json:"overall_score"`
	SemanticSimilarity  float64 `json:"semantic_similarity"`
	StructureSimilarity float64 `json:"structure_similarity"`
	KeywordSimilarity   float64 `json:"keyword_similarity"`
	Passed              bool    `json:"passed"`
}

// handleRecordTest handles POST /api/skills/{id}/tests.
func (s *Server) handleRecordTest(w http.ResponseWriter, r *http.Request) {
	var req recordTestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.RecordTest(r.Context(), mux.Vars(r)["id"], governance.TestInput{
		TesterVersion:       req.TesterVersion,
		OverallScore:        req.OverallScore,
		SemanticSimilarity:  req.SemanticSimilarity,
		StructureSimilarity: req.StructureSimilarity,
		KeywordSimilarity:   req.KeywordSimilarity,
		Passed:              req.Passed,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

type installRequest struct {
	Actor      string `json:"actor"`
	TargetPath string `json:"target_path"`
}

// handleInstallSkill handles POST /api/skills/{id}/install. It records
// the install against an approved skill; the file copy itself happens
// on the machine running the CLI.
func (s *Server) handleInstallSkill(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.Install(r.Context(), mux.Vars(r)["id"], req.Actor, req.TargetPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

// handlePendingReviews handles GET /api/reviews/pending.
func (s *Server) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	queue, err := s.service.PendingReviews(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"items": queue, "total": len(queue)})
}

type reviewRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// handleApprove handles POST /api/reviews/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.Approve(r.Context(), mux.Vars(r)["id"], req.Actor, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

// handleReject handles POST /api/reviews/{id}/reject.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	skill, err := s.service.Reject(r.Context(), mux.Vars(r)["id"], req.Actor, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, skill)
}

// handleAuditLog handles GET /api/audit.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := govtypes.AuditQuery{
		SkillID:   q.Get("skill_id"),
		EventType: govtypes.EventType(q.Get("event_type")),
		PageToken: q.Get("page_token"),
	}
	if limit := q.Get("limit"); limit != "" {
		query.Limit, _ = strconv.Atoi(limit)
	}
	if from := q.Get("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			s.writeError(w, r, governance.NewValidation(errors.New("invalid 'from' timestamp")))
			return
		}
		query.From = &ts
	}
	if to := q.Get("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			s.writeError(w, r, governance.NewValidation(errors.New("invalid 'to' timestamp")))
			return
		}
		query.To = &ts
	}

	page, err := s.service.AuditLog(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, page)
}

// handleStatsOverview handles GET /api/stats/overview.
func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, stats)
}

// handleStatsRisk handles GET /api/stats/risk.
func (s *Server) handleStatsRisk(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.service.RiskBreakdown(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, breakdown)
}

// handleStatsStatus handles GET /api/stats/status.
func (s *Server) handleStatsStatus(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.service.StatusBreakdown(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, breakdown)
}

// handleStatsFindings handles GET /api/stats/findings.
func (s *Server) handleStatsFindings(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.FindingsByRule(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"items": counts})
}

// handleGraph handles GET /api/graph.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := s.service.Graph(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, g)
}

// handleAddLink handles POST /api/links.
func (s *Server) handleAddLink(w http.ResponseWriter, r *http.Request) {
	var link govtypes.SkillLink
	if !s.decodeJSON(w, r, &link) {
		return
	}

	stored, err := s.service.AddLink(r.Context(), link)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(stored)
}
