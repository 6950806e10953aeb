// Package api provides the HTTP surface backing the web UI: ledger
// browsing, report generation, the web chat and magic-token verification.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moamoa/allowancebot/internal/auth"
	"github.com/moamoa/allowancebot/internal/metrics"
	"github.com/moamoa/allowancebot/internal/models"
	"github.com/moamoa/allowancebot/internal/service"
)

// Server provides the HTTP API.
type Server struct {
	svc     *service.Service
	tokens  *auth.TokenManager
	metrics *metrics.Metrics
	logger  *logrus.Logger
	mux     *http.ServeMux
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, tokens *auth.TokenManager, m *metrics.Metrics, logger *logrus.Logger) *Server {
	s := &Server{svc: svc, tokens: tokens, metrics: m, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/auth/verify", s.handleVerifyToken)

	s.mux.HandleFunc("GET /api/children/{id}/entries", s.handleGetEntries)
	s.mux.HandleFunc("GET /api/children/{id}/months", s.handleGetMonths)
	s.mux.HandleFunc("POST /api/children/{id}/reports", s.handleCreateReport)
	s.mux.HandleFunc("GET /api/children/{id}/transcript", s.handleGetTranscript)
	s.mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)

	s.mux.HandleFunc("POST /api/chat", s.handleChat)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.WithError(err).Error("failed to encode JSON response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads the request body into dst and returns an error message on
// failure.  The caller should return immediately when ok == false.
func (s *Server) decodeJSON(r *http.Request, dst any) (ok bool, errMsg string) {
	if r.Body == nil {
		return false, "request body is empty"
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}
	return true, ""
}

// pathID extracts the {id} path value and converts it to int64.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	if raw == "" {
		return 0, fmt.Errorf("missing id in path")
	}
	return strconv.ParseInt(raw, 10, 64)
}

// authUser resolves the bearer token to a user.  It writes an error
// response and returns nil when authentication fails.
func (s *Server) authUser(w http.ResponseWriter, r *http.Request) *models.User {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		s.respondError(w, http.StatusUnauthorized, "bearer token is required")
		return nil
	}

	claims, err := s.tokens.Validate(token)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid or expired token")
		return nil
	}

	user, err := s.svc.Users.GetByID(r.Context(), claims.UserID)
	if err != nil || user == nil {
		s.respondError(w, http.StatusUnauthorized, "unknown user")
		return nil
	}
	return user
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

type verifyTokenRequest struct {
	Token string `json:"token"`
}

type verifyTokenResponse struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	IsParent  bool   `json:"is_parent"`
	Total     int64  `json:"total"`
}

// handleVerifyToken validates a magic token minted for a chat web-link
// button and returns the user it identifies.
func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Token == "" {
		s.respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	claims, err := s.tokens.Validate(req.Token)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	user, err := s.svc.Users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		s.logger.WithError(err).Error("failed to get user")
		s.respondError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	s.respondJSON(w, http.StatusOK, verifyTokenResponse{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		IsParent:  user.IsParent(),
		Total:     user.Total,
	})
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	childID, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid child id")
		return
	}

	now := time.Now()
	year, month := now.Year(), now.Month()

	q := r.URL.Query()
	if raw := q.Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "year must be an integer")
			return
		}
		year = v
	}
	if raw := q.Get("month"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 12 {
			s.respondError(w, http.StatusBadRequest, "month must be 1-12")
			return
		}
		month = time.Month(v)
	}

	entries, err := s.svc.EntriesForMonth(r.Context(), childID, year, month)
	if err != nil {
		s.logger.WithError(err).Error("failed to get entries")
		s.respondError(w, http.StatusInternalServerError, "failed to get entries")
		return
	}

	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetMonths(w http.ResponseWriter, r *http.Request) {
	childID, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid child id")
		return
	}

	months, err := s.svc.Ledger.AvailableMonths(r.Context(), childID)
	if err != nil {
		s.logger.WithError(err).Error("failed to get ledger months")
		s.respondError(w, http.StatusInternalServerError, "failed to get ledger months")
		return
	}

	s.respondJSON(w, http.StatusOK, months)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if s.authUser(w, r) == nil {
		return
	}

	id, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	if err := s.svc.DeleteEntry(r.Context(), id); err != nil {
		s.logger.WithError(err).Error("failed to delete entry")
		s.respondError(w, http.StatusInternalServerError, "failed to delete entry")
		return
	}

	s.respondJSON(w, http.StatusNoContent, nil)
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

type createReportRequest struct {
	Kind  string `json:"kind"` // daily, monthly, yearly
	Year  int    `json:"year"`
	Month *int   `json:"month"`
	Day   *int   `json:"day"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	childID, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid child id")
		return
	}

	var req createReportRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	kind := models.ReportKind(req.Kind)
	switch kind {
	case models.ReportDaily, models.ReportMonthly, models.ReportYearly:
	default:
		s.respondError(w, http.StatusBadRequest, "kind must be daily, monthly or yearly")
		return
	}
	if req.Year == 0 {
		s.respondError(w, http.StatusBadRequest, "year is required")
		return
	}
	if kind != models.ReportYearly && req.Month == nil {
		s.respondError(w, http.StatusBadRequest, "month is required")
		return
	}
	if kind == models.ReportDaily && req.Day == nil {
		s.respondError(w, http.StatusBadRequest, "day is required")
		return
	}

	child, err := s.svc.Users.GetByID(r.Context(), childID)
	if err != nil {
		s.logger.WithError(err).Error("failed to get child")
		s.respondError(w, http.StatusInternalServerError, "failed to get child")
		return
	}
	if child == nil {
		s.respondError(w, http.StatusNotFound, "child not found")
		return
	}

	parent := child
	if child.ParentID != nil {
		parent, err = s.svc.Users.GetByID(r.Context(), *child.ParentID)
		if err != nil || parent == nil {
			parent = child
		}
	}

	period := service.Period{Kind: kind, Year: req.Year}
	if kind != models.ReportYearly {
		period.Month = req.Month
	}
	if kind == models.ReportDaily {
		period.Day = req.Day
	}

	report, err := s.svc.Report(r.Context(), child, parent, period, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("failed to build report")
		s.respondError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	childID, err := pathID(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid child id")
		return
	}

	s.respondJSON(w, http.StatusOK, s.svc.Transcript(childID))
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := s.authUser(w, r)
	if user == nil {
		return
	}

	var req chatRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	parentID := user.ID
	if user.ParentID != nil {
		parentID = *user.ParentID
	}

	result, err := s.svc.WebChat(r.Context(), user, parentID, req.Message, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("web chat turn failed")
		s.respondError(w, http.StatusInternalServerError, "chat is unavailable")
		return
	}

	s.respondJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
