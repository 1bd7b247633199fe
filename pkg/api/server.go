// Package api exposes the governance service over a REST API consumed
// by the review dashboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/governance"
	"github.com/jingkaihe/skillgate/pkg/logger"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port int
}

// Validate validates the server configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server serves the governance REST API.
type Server struct {
	router  *mux.Router
	service *governance.Service
	config  Config
	server  *http.Server
}

// NewServer creates the API server for the given governance service.
func NewServer(service *governance.Service, config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		config:  config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills", s.handleIngestSkill).Methods("POST")
	api.HandleFunc("/skills/{id}", s.handleGetSkill).Methods("GET")
	api.HandleFunc("/skills/{id}", s.handleUpdateSkill).Methods("PATCH")
	api.HandleFunc("/scans", s.handleRecentScans).Methods("GET")
	api.HandleFunc("/skills/{id}/scans", s.handleListScans).Methods("GET")
	api.HandleFunc("/skills/{id}/scans", s.handleRecordScan).Methods("POST")
	api.HandleFunc("/skills/{id}/tests", s.handleListTests).Methods("GET")
	api.HandleFunc("/skills/{id}/tests", s.handleRecordTest).Methods("POST")
	api.HandleFunc("/skills/{id}/install", s.handleInstallSkill).Methods("POST")

	api.HandleFunc("/reviews/pending", s.handlePendingReviews).Methods("GET")
	api.HandleFunc("/reviews/{id}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/reviews/{id}/reject", s.handleReject).Methods("POST")

	api.HandleFunc("/audit", s.handleAuditLog).Methods("GET")

	api.HandleFunc("/stats/overview", s.handleStatsOverview).Methods("GET")
	api.HandleFunc("/stats/risk", s.handleStatsRisk).Methods("GET")
	api.HandleFunc("/stats/status", s.handleStatsStatus).Methods("GET")
	api.HandleFunc("/stats/findings", s.handleStatsFindings).Methods("GET")

	api.HandleFunc("/graph", s.handleGraph).Methods("GET")
	api.HandleFunc("/links", s.handleAddLink).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeError maps a governance error onto an HTTP status and renders a
// structured error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch governance.KindOf(err) {
	case governance.KindNotFound:
		status = http.StatusNotFound
	case governance.KindValidation:
		status = http.StatusBadRequest
	case governance.KindInvalidTransition, governance.KindConcurrentModification:
		status = http.StatusConflict
	case governance.KindPersistence:
		status = http.StatusServiceUnavailable
	}

	logger.G(r.Context()).WithError(err).Warn("request failed")

	response := map[string]any{
		"error":  err.Error(),
		"status": status,
	}
	var gerr *governance.Error
	if errors.As(err, &gerr) {
		response["kind"] = string(gerr.Kind)
		if gerr.CurrentStatus != "" {
			response["current_status"] = string(gerr.CurrentStatus)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		logger.G(r.Context()).WithError(encErr).Error("failed to encode error response")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    address,
		Handler: s.router,
	}

	logger.G(ctx).WithField("address", address).Info("governance API listening")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
